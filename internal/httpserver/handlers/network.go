package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/beacon/internal/httpserver/deps"
	"github.com/MrSnakeDoc/beacon/internal/logger"
)

// RefreshNetwork triggers a manual network scan without waiting for it.
func RefreshNetwork(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.NetworkRefresh == nil {
			http.Error(w, "network watch disabled", http.StatusNotFound)
			return
		}

		select {
		case d.NetworkRefresh <- struct{}{}:
			d.Logger.Info("manual network scan triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusAccepted)
			if _, err := w.Write([]byte("✅ Network scan triggered\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
		default:
			d.Logger.Warn("network scan already pending",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := w.Write([]byte("⏳ Network scan already pending, please wait\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
		}
	}
}
