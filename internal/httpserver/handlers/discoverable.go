package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/beacon/internal/discovery"
	"github.com/MrSnakeDoc/beacon/internal/httpserver/deps"
	"github.com/MrSnakeDoc/beacon/internal/logger"
)

type discoverableRequest struct {
	Enabled *bool `json:"enabled"`
}

type discoverableResponse struct {
	Preference string             `json:"preference"`
	Enabled    bool               `json:"enabled"`
	Desired    bool               `json:"desired_running"`
	Observed   discovery.RunState `json:"observed"`
}

// SetDiscoverable writes the discoverability preference. The controller reacts
// through its preference subscription, not through this handler.
func SetDiscoverable(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req discoverableRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil || req.Enabled == nil {
			http.Error(w, `body must be {"enabled": true|false}`, http.StatusBadRequest)
			return
		}

		if err := d.Prefs.SetBool(r.Context(), d.PrefName, *req.Enabled); err != nil {
			d.Logger.Error("failed to write preference",
				logger.String("name", d.PrefName),
				logger.Error(err))
			http.Error(w, "failed to write preference", http.StatusInternalServerError)
			return
		}

		d.Logger.Info("discoverability changed via endpoint",
			logger.Bool("enabled", *req.Enabled),
			logger.String("remote_ip", r.RemoteAddr))

		resp := discoverableResponse{Preference: d.PrefName, Enabled: *req.Enabled}
		if d.Controller != nil {
			snap := d.Controller.Status()
			resp.Desired = snap.Desired
			resp.Observed = snap.Observed
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
