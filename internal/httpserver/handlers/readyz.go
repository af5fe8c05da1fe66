package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/beacon/internal/httpserver/deps"
	"github.com/MrSnakeDoc/beacon/internal/redis"
)

type readyzResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		resp := readyzResponse{Ready: true}
		switch {
		case d.Controller == nil:
			resp = readyzResponse{Reason: "controller not initialized"}
		case d.Controller.Status().Closed:
			resp = readyzResponse{Reason: "controller shut down"}
		case d.RedisClient != nil:
			if err := redis.Healthy(r.Context(), d.RedisClient, 2*time.Second); err != nil {
				resp = readyzResponse{Reason: "redis unreachable"}
			}
		}

		if resp.Ready {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
