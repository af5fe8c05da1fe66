package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BEACON_PREF_BACKEND", "")

	cfg := Load()

	assert.Equal(t, ":8080", cfg.ListenPort)
	assert.Equal(t, BackendMemory, cfg.PrefBackend)
	assert.Equal(t, "discovery.discoverable", cfg.PrefName)
	assert.False(t, cfg.PrefDefault)
	assert.True(t, cfg.NetworkWatch)
	assert.Equal(t, 10*time.Second, cfg.NetworkInterval)
	assert.Equal(t, "_beacon._tcp", cfg.MDNSService)
	assert.Equal(t, "local.", cfg.MDNSDomain)
	assert.False(t, cfg.UsesRedis())
	assert.Nil(t, cfg.AllowedCIDRS)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BEACON_PREF_BACKEND", "Memory")
	t.Setenv("BEACON_PREF_DEFAULT", "true")
	t.Setenv("BEACON_NETWORK_WATCH", "false")
	t.Setenv("BEACON_PROBE_ADDR", "1.1.1.1:53")
	t.Setenv("BEACON_ALLOWED_CIDRS", "10.0.0.0/8, '192.168.1.1'")

	cfg := Load()

	assert.Equal(t, BackendMemory, cfg.PrefBackend)
	assert.True(t, cfg.PrefDefault)
	assert.False(t, cfg.NetworkWatch)
	assert.Equal(t, "1.1.1.1:53", cfg.ProbeAddr)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.AllowedCIDRS)
}

func TestLoad_BackendRequirements(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantPanic bool
	}{
		{
			name:      "file backend without file",
			env:       map[string]string{"BEACON_PREF_BACKEND": "file", "BEACON_PREF_FILE": ""},
			wantPanic: true,
		},
		{
			name: "file backend with file",
			env:  map[string]string{"BEACON_PREF_BACKEND": "file", "BEACON_PREF_FILE": "/tmp/prefs.yaml"},
		},
		{
			name:      "redis backend without addr",
			env:       map[string]string{"BEACON_PREF_BACKEND": "redis", "BEACON_REDIS_ADDR": ""},
			wantPanic: true,
		},
		{
			name: "redis backend without password",
			env: map[string]string{
				"BEACON_PREF_BACKEND":  "redis",
				"BEACON_REDIS_ADDR":    "localhost:6379",
				"BEACON_REDIS_DB":      "0",
				"BEACON_REDIS_PASSWORD": "",
			},
			wantPanic: true,
		},
		{
			name: "redis backend complete",
			env: map[string]string{
				"BEACON_PREF_BACKEND":            "redis",
				"BEACON_REDIS_ADDR":              "localhost:6379",
				"BEACON_REDIS_DB":                "2",
				"BEACON_REDIS_PASSWORD_REQUIRED": "false",
			},
		},
		{
			name:      "unknown backend",
			env:       map[string]string{"BEACON_PREF_BACKEND": "etcd"},
			wantPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if tt.wantPanic {
				assert.Panics(t, func() { Load() })
				return
			}
			require.NotPanics(t, func() { Load() })
		})
	}
}

func TestLoad_RedisBackend(t *testing.T) {
	t.Setenv("BEACON_PREF_BACKEND", "redis")
	t.Setenv("BEACON_REDIS_ADDR", "redis:6379")
	t.Setenv("BEACON_REDIS_DB", "3")
	t.Setenv("BEACON_REDIS_PASSWORD", "secret")

	cfg := Load()

	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestRequireEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")
	assert.Equal(t, "test_value", requireEnv("TEST_VAR"))
	assert.Panics(t, func() { requireEnv("TEST_VAR_MISSING") })
}

func TestRequireEnvInt(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		expected  int
		wantPanic bool
	}{
		{name: "valid integer", value: "42", expected: 42},
		{name: "invalid integer", value: "not_a_number", wantPanic: true},
		{name: "missing variable", value: "", wantPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.value)
			if tt.wantPanic {
				assert.Panics(t, func() { requireEnvInt("TEST_INT") })
				return
			}
			assert.Equal(t, tt.expected, requireEnvInt("TEST_INT"))
		})
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      time.Duration
		expected time.Duration
	}{
		{name: "valid duration", value: "5s", def: time.Second, expected: 5 * time.Second},
		{name: "invalid duration uses default", value: "invalid", def: 10 * time.Second, expected: 10 * time.Second},
		{name: "missing variable uses default", value: "", def: 15 * time.Second, expected: 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			assert.Equal(t, tt.expected, mustDuration("TEST_DURATION", tt.def))
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      bool
		expected bool
	}{
		{name: "true value", value: "true", def: false, expected: true},
		{name: "false value", value: "false", def: true, expected: false},
		{name: "invalid value uses default", value: "invalid", def: true, expected: true},
		{name: "missing variable uses default", value: "", def: false, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			assert.Equal(t, tt.expected, mustBool("TEST_BOOL", tt.def))
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(` a , "b", ,`))
}
