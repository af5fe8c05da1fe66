package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/beacon/internal/discovery"
	"github.com/MrSnakeDoc/beacon/internal/httpserver/deps"
	"github.com/MrSnakeDoc/beacon/internal/redis"
)

type componentStatus struct {
	OK       bool   `json:"ok"`
	Mode     string `json:"mode,omitempty"`
	LastScan string `json:"last_scan,omitempty"`
	Impact   string `json:"impact,omitempty"`
	Error    string `json:"error,omitempty"`
}

type statusResponse struct {
	Mode       string                     `json:"mode"`
	Controller discovery.Snapshot         `json:"controller"`
	Advertised bool                       `json:"advertised"`
	Components map[string]componentStatus `json:"components"`
}

// Status reports the controller snapshot and the health of its collaborators.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")

		if d.Controller == nil {
			http.Error(w, "controller not initialized", http.StatusServiceUnavailable)
			return
		}
		snap := d.Controller.Status()

		components := map[string]componentStatus{
			"controller": {
				OK:    !snap.Closed && snap.Observed != discovery.RunStateUnknown,
				Mode:  string(snap.Observed),
				Error: snap.LastError,
			},
			"preferences": {OK: true, Mode: d.PrefBackend},
			"network":     networkStatus(d),
		}
		if d.RedisClient != nil {
			components["redis"] = checkRedis(r, d)
		}

		advertised := false
		if d.Advertiser != nil {
			advertised = d.Advertiser.Running()
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(statusResponse{
			Mode:       determineMode(components),
			Controller: snap,
			Advertised: advertised,
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	if c, ok := components["controller"]; ok && !c.OK {
		return "critical" // service state unknown or controller closed
	}
	if c, ok := components["redis"]; ok && !c.OK {
		return "degraded" // preference changes are no longer delivered
	}
	return "optimal"
}

func networkStatus(d deps.Deps) componentStatus {
	if d.Monitor == nil {
		return componentStatus{
			OK:     true,
			Mode:   "preference-only",
			Impact: "network-gating-disabled",
		}
	}
	last := d.Monitor.LastScan()
	lastStr := "never"
	if !last.IsZero() {
		lastStr = last.Format(time.RFC3339)
	}
	return componentStatus{
		OK:       !last.IsZero(),
		Mode:     "watching",
		LastScan: lastStr,
	}
}

func checkRedis(r *http.Request, d deps.Deps) componentStatus {
	if err := redis.Healthy(r.Context(), d.RedisClient, 2*time.Second); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "preference-updates-disabled",
			Error:  err.Error(),
		}
	}
	return componentStatus{OK: true, Mode: "optimal"}
}
