package deps

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/beacon/internal/advertiser"
	"github.com/MrSnakeDoc/beacon/internal/discovery"
	"github.com/MrSnakeDoc/beacon/internal/logger"
	"github.com/MrSnakeDoc/beacon/internal/netwatch"
	"github.com/MrSnakeDoc/beacon/internal/prefs"
)

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	AllowedHosts   []string              // Host headers allowed to access the server
	AllowedCIDRS   []string              // IPs allowed to access the admin endpoints
	TrustProxy     bool                  // true if running behind a trusted reverse proxy (e.g., cloudflared)
	RateBurst      int                   // preference toggle burst per client IP
	RatePerMin     int                   // preference toggle refill per client IP per minute
	Controller     *discovery.Controller // lifecycle controller
	Prefs          prefs.Store           // preference store backing the controller
	PrefName       string                // name of the discoverability preference
	PrefBackend    string                // "memory" | "file" | "redis"
	Monitor        *netwatch.Monitor     // nil when network watch is disabled
	NetworkRefresh chan struct{}         // Channel to trigger a manual network scan (nil if network watch disabled)
	Advertiser     *advertiser.Advertiser
	RedisClient    *redis.Client // nil unless the redis backend is used
	Metrics        http.Handler  // Prometheus exposition, nil to disable /metrics
}

