// Package relay provides configuration helpers that define runtime
// defaults, validation, and rate-limiting parameters for the relay service.
package relay

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig defines the parameters for per-connection message rate
// limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay configuration including security controls.
type Config struct {
	Port          string `envconfig:"PORT" default:"3000"`
	Env           string `envconfig:"ENV" default:"development"`
	PublicKeyFile string `envconfig:"PUBLIC_KEY_FILE" default:"jwt_node.public.key"`

	// AllowedOrigin is the single trusted browser origin. "*" disables the
	// origin check; requests without an Origin header are always accepted
	// because non-browser clients do not send one.
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"https://kaosamt.de"`

	// MaxMessageSize bounds a single inbound WebSocket message. The default
	// leaves room for file chunks, which the relay forwards unbuffered.
	MaxMessageSize int64 `envconfig:"MAX_MESSAGE_SIZE" default:"1048576"`

	MessageBurst          int           `envconfig:"MESSAGE_BURST" default:"64"`
	MessageRefillInterval time.Duration `envconfig:"MESSAGE_REFILL_INTERVAL" default:"1s"`

	HTTPRateRequests int           `envconfig:"HTTP_RATE_REQUESTS" default:"100"`
	HTTPRateWindow   time.Duration `envconfig:"HTTP_RATE_WINDOW" default:"15m"`
}

// LoadConfig reads configuration from environment variables, loading a
// .env file first if one is present (development convenience; missing
// files are ignored).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	sanitizeConfig(&cfg)
	return &cfg, nil
}

// NewConfig returns a Config populated with default values for all
// settings. Useful for tests that need a baseline configuration.
func NewConfig() *Config {
	return &Config{
		Port:                  "3000",
		Env:                   "development",
		PublicKeyFile:         "jwt_node.public.key",
		AllowedOrigin:         "*",
		MaxMessageSize:        1 << 20,
		MessageBurst:          64,
		MessageRefillInterval: time.Second,
		HTTPRateRequests:      100,
		HTTPRateWindow:        15 * time.Minute,
	}
}

func sanitizeConfig(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "3000"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 64
	}
	if cfg.MessageRefillInterval <= 0 {
		cfg.MessageRefillInterval = time.Second
	}
	if cfg.HTTPRateRequests <= 0 {
		cfg.HTTPRateRequests = 100
	}
	if cfg.HTTPRateWindow <= 0 {
		cfg.HTTPRateWindow = 15 * time.Minute
	}
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// IsDevelopment reports whether the relay runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// messageRateLimit bundles the per-connection limiter knobs.
func (c *Config) messageRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Burst:          c.MessageBurst,
		RefillInterval: c.MessageRefillInterval,
	}
}
