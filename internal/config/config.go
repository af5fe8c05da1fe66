package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Preference backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Preference
	PrefName     string        // preference gating discovery (ex: "discovery.discoverable")
	PrefBackend  string        // "memory" | "file" | "redis"
	PrefDefault  bool          // seed value for the memory backend
	PrefFile     string        // YAML file for the file backend
	PrefDebounce time.Duration // quiet period before reloading the file
	PrefTimeout  time.Duration // timeout of a single preference read

	// Network
	NetworkWatch    bool          // false => no network source, preference-only gating
	NetworkInterval time.Duration // interface scan period
	ProbeAddr       string        // optional host:port dialed to decide online/offline
	ProbeTimeout    time.Duration // timeout of one probe

	// Discoverable service
	ServiceInstance string // DNS-SD instance name (default: hostname)
	MDNSService     string // DNS-SD service type (ex: "_beacon._tcp")
	MDNSDomain      string // mDNS domain (ex: "local.")
	MDNSIface       string // optional interface to answer on

	// Redis (redis backend only)
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IP (e.g. "1.2.3.4, 10.0.0.0/8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)

	RateBurst  int // preference toggle burst per client IP
	RatePerMin int // preference toggle refill per client IP per minute
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("BEACON_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("BEACON_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("BEACON_LOG_LEVEL", "info"),
		PrettyLog: mustBool("BEACON_PRETTY_LOG", true),

		// Preference
		PrefName:     getenv("BEACON_PREF_NAME", "discovery.discoverable"),
		PrefBackend:  strings.ToLower(getenv("BEACON_PREF_BACKEND", BackendMemory)),
		PrefDefault:  mustBool("BEACON_PREF_DEFAULT", false),
		PrefFile:     getenv("BEACON_PREF_FILE", "/app/preferences.yaml"),
		PrefDebounce: mustDuration("BEACON_PREF_DEBOUNCE", 250*time.Millisecond),
		PrefTimeout:  mustDuration("BEACON_PREF_TIMEOUT", 2*time.Second),

		// Network
		NetworkWatch:    mustBool("BEACON_NETWORK_WATCH", true),
		NetworkInterval: mustDuration("BEACON_NETWORK_INTERVAL", 10*time.Second),
		ProbeAddr:       getenv("BEACON_PROBE_ADDR", ""),
		ProbeTimeout:    mustDuration("BEACON_PROBE_TIMEOUT", 2*time.Second),

		// Discoverable service
		ServiceInstance: getenv("BEACON_SERVICE_INSTANCE", ""),
		MDNSService:     getenv("BEACON_MDNS_SERVICE", "_beacon._tcp"),
		MDNSDomain:      getenv("BEACON_MDNS_DOMAIN", "local."),
		MDNSIface:       getenv("BEACON_MDNS_IFACE", ""),

		// Redis settings
		RedisAddr:             getenv("BEACON_REDIS_ADDR", ""),
		RedisUser:             getenv("BEACON_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("BEACON_REDIS_PASSWORD_REQUIRED", true),
		RedisPassword:         getenv("BEACON_REDIS_PASSWORD", ""),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("BEACON_ALLOWED_HOSTS", "")),
		AllowedCIDRS: splitAndTrim(getenv("BEACON_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("BEACON_TRUST_PROXY", false),

		RateBurst:  getenvInt("BEACON_RATE_BURST", 5),
		RatePerMin: getenvInt("BEACON_RATE_PER_MIN", 30),
	}

	switch cfg.PrefBackend {
	case BackendMemory:
	case BackendFile:
		cfg.PrefFile = requireEnv("BEACON_PREF_FILE")
	case BackendRedis:
		cfg.RedisAddr = requireEnv("BEACON_REDIS_ADDR")
		cfg.RedisDB = requireEnvInt("BEACON_REDIS_DB")
		// Validate Redis password configuration
		if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
			panic("❌ FATAL: BEACON_REDIS_PASSWORD is required when BEACON_REDIS_PASSWORD_REQUIRED=true")
		}
	default:
		panic(fmt.Sprintf("❌ FATAL: unknown BEACON_PREF_BACKEND %q (want memory, file or redis)", cfg.PrefBackend))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// UsesRedis reports whether a Redis connection is needed.
func (c *Config) UsesRedis() bool { return c.PrefBackend == BackendRedis }

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func requireEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid integer value for %s: %s", key, v))
	}
	return i
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
