package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Terminal  TerminalConfig
	Assistant AssistantConfig
	Auth      AuthConfig
	Store     StoreConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Ops       OpsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string   `envconfig:"PORT" default:"8000"`
	Host           string   `envconfig:"HOST" default:"0.0.0.0"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
}

// TerminalConfig holds shell process configuration.
type TerminalConfig struct {
	Shell           string        `envconfig:"TERMINAL_SHELL" default:"/bin/bash"`
	WorkspaceRoot   string        `envconfig:"TERMINAL_WORKSPACE_ROOT" default:"/tmp/webterm"`
	PollTimeout     time.Duration `envconfig:"TERMINAL_POLL_TIMEOUT" default:"50ms"`
	InitDelay       time.Duration `envconfig:"TERMINAL_INIT_DELAY" default:"100ms"`
	KillGrace       time.Duration `envconfig:"TERMINAL_KILL_GRACE" default:"5s"`
	ScrollbackBytes int           `envconfig:"TERMINAL_SCROLLBACK_BYTES" default:"65536"`
}

// AssistantConfig selects and tunes the external assistant backend.
type AssistantConfig struct {
	// Backend is one of "cli", "http" or "echo". Empty means echo.
	Backend   string        `envconfig:"ASSISTANT_BACKEND" default:"echo"`
	Binary    string        `envconfig:"ASSISTANT_BINARY" default:"claude"`
	URL       string        `envconfig:"ASSISTANT_URL"`
	APIKey    string        `envconfig:"ASSISTANT_API_KEY"`
	Streaming bool          `envconfig:"ASSISTANT_STREAMING" default:"true"`
	Timeout   time.Duration `envconfig:"ASSISTANT_TIMEOUT" default:"2m"`
	Profile   string        `envconfig:"ASSISTANT_PROFILE"`
}

// AuthConfig holds bearer credential configuration.
type AuthConfig struct {
	Secret   string        `envconfig:"AUTH_SECRET"`
	TokenTTL time.Duration `envconfig:"AUTH_TOKEN_TTL" default:"24h"`
	// StaticKeys are "user_id:bcrypt_hash" pairs for service callers.
	StaticKeys []string `envconfig:"AUTH_STATIC_KEYS"`
}

// StoreConfig holds session record storage configuration.
type StoreConfig struct {
	DatabasePath string `envconfig:"DATABASE_PATH" default:"webterm.db"`
	// SeedPath names a YAML file of sessions, members and plans applied at
	// startup. Empty skips seeding.
	SeedPath string `envconfig:"STORE_SEED"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	// Inbound frames per second allowed on one WebSocket connection.
	FramesPerSecond int `envconfig:"RATE_LIMIT_WS_FPS" default:"50"`
	FrameBurst      int `envconfig:"RATE_LIMIT_WS_BURST" default:"100"`
}

// OpsConfig holds operational listener configuration.
type OpsConfig struct {
	GRPCHealthAddr string `envconfig:"GRPC_HEALTH_ADDR" default:":8001"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8000",
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Terminal: TerminalConfig{
			Shell:           "/bin/bash",
			WorkspaceRoot:   "/tmp/webterm",
			PollTimeout:     50 * time.Millisecond,
			InitDelay:       100 * time.Millisecond,
			KillGrace:       5 * time.Second,
			ScrollbackBytes: 64 * 1024,
		},
		Assistant: AssistantConfig{
			Backend:   "echo",
			Binary:    "claude",
			Streaming: true,
			Timeout:   2 * time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Store: StoreConfig{
			DatabasePath: "webterm.db",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
			FramesPerSecond:   50,
			FrameBurst:        100,
		},
		Ops: OpsConfig{
			GRPCHealthAddr: ":8001",
			MetricsEnabled: true,
		},
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
