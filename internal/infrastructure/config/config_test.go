package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())

	// Terminal config
	assert.Equal(t, "/bin/bash", cfg.Terminal.Shell)
	assert.Equal(t, 50*time.Millisecond, cfg.Terminal.PollTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Terminal.InitDelay)
	assert.Equal(t, 5*time.Second, cfg.Terminal.KillGrace)

	// Assistant config
	assert.Equal(t, "echo", cfg.Assistant.Backend)
	assert.True(t, cfg.Assistant.Streaming)
	assert.Equal(t, 2*time.Minute, cfg.Assistant.Timeout)

	// Logging config
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	// Ops config
	assert.Equal(t, ":8001", cfg.Ops.GRPCHealthAddr)
	assert.True(t, cfg.Ops.MetricsEnabled)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("TERMINAL_SHELL", "/bin/zsh")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/bin/zsh", cfg.Terminal.Shell)
	assert.Equal(t, 65536, cfg.Terminal.ScrollbackBytes)
	assert.Equal(t, "claude", cfg.Assistant.Binary)
	assert.Equal(t, 50, cfg.RateLimit.FramesPerSecond)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                    "9000",
		"HOST":                    "127.0.0.1",
		"ALLOWED_ORIGINS":         "https://a.example,https://b.example",
		"TERMINAL_SHELL":          "/bin/sh",
		"TERMINAL_WORKSPACE_ROOT": "/srv/terms",
		"TERMINAL_POLL_TIMEOUT":   "20ms",
		"TERMINAL_KILL_GRACE":     "1s",
		"ASSISTANT_BACKEND":       "http",
		"ASSISTANT_URL":           "http://assistant:9000",
		"ASSISTANT_STREAMING":     "false",
		"ASSISTANT_TIMEOUT":       "30s",
		"AUTH_SECRET":             "s3cret",
		"AUTH_STATIC_KEYS":        "svc:$2a$10$abc,ops:$2a$10$def",
		"DATABASE_PATH":           "/var/lib/webterm.db",
		"LOG_LEVEL":               "debug",
		"LOG_DEV":                 "true",
		"RATE_LIMIT_RPS":          "500",
		"RATE_LIMIT_ENABLED":      "false",
		"RATE_LIMIT_WS_FPS":       "5",
		"GRPC_HEALTH_ADDR":        "127.0.0.1:9001",
		"METRICS_ENABLED":         "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, "/bin/sh", cfg.Terminal.Shell)
	assert.Equal(t, "/srv/terms", cfg.Terminal.WorkspaceRoot)
	assert.Equal(t, 20*time.Millisecond, cfg.Terminal.PollTimeout)
	assert.Equal(t, time.Second, cfg.Terminal.KillGrace)

	assert.Equal(t, "http", cfg.Assistant.Backend)
	assert.Equal(t, "http://assistant:9000", cfg.Assistant.URL)
	assert.False(t, cfg.Assistant.Streaming)
	assert.Equal(t, 30*time.Second, cfg.Assistant.Timeout)

	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, []string{"svc:$2a$10$abc", "ops:$2a$10$def"}, cfg.Auth.StaticKeys)
	assert.Equal(t, "/var/lib/webterm.db", cfg.Store.DatabasePath)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)

	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.RateLimit.FramesPerSecond)

	assert.Equal(t, "127.0.0.1:9001", cfg.Ops.GRPCHealthAddr)
	assert.False(t, cfg.Ops.MetricsEnabled)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad duration", "TERMINAL_POLL_TIMEOUT", "soon"},
		{"bad int", "RATE_LIMIT_RPS", "many"},
		{"bad bool", "LOG_DEV", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)

			// LoadOrDefault falls back instead of failing
			cfg := LoadOrDefault()
			assert.Equal(t, Default(), cfg)
		})
	}
}
