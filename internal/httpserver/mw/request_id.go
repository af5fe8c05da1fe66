package mw

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestIDHeader echoes the request id set by middleware.RequestID in the
// X-Request-Id response header. Must be installed after middleware.RequestID.
func RequestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}
