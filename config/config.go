package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultRelays are used when NOSTR_RELAYS is empty.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://relay.nostr.band",
	"wss://nos.lol",
	"wss://relay.snort.social",
	"wss://nostr.mom",
}

// DefaultFallbackRelays are substituted when none of the explicit relays acknowledge.
var DefaultFallbackRelays = []string{
	"wss://relay.primal.net",
	"wss://nostr.wine",
	"wss://purplepag.es",
}

var (
	errInvalidAttempts = errors.New("CONNECT_MAX_ATTEMPTS must be positive")
	errInvalidTimeout  = errors.New("timeouts must be positive")
)

type Config struct {
	NostrRelays         []string      `env:"NOSTR_RELAYS" envSeparator:";"`
	NostrFallbackRelays []string      `env:"NOSTR_FALLBACK_RELAYS" envSeparator:";"`
	NostrPrivateKey     string        `env:"NOSTR_PRIVATE_KEY"`
	ConnectMaxAttempts  int           `env:"CONNECT_MAX_ATTEMPTS" envDefault:"3"`
	ConnectTimeout      time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	ConnectRetryDelay   time.Duration `env:"CONNECT_RETRY_DELAY" envDefault:"1s"`
	PublishTimeout      time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"5s"`
	PropagationDelay    time.Duration `env:"PROPAGATION_DELAY" envDefault:"1s"`
	FetchTimeout        time.Duration `env:"FETCH_TIMEOUT" envDefault:"8s"`
	ProfileCacheTTL     time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"1m"`
	HTTPAddress         string        `env:"HTTP_ADDRESS" envDefault:"127.0.0.1:8338"`
	CORSOrigins         []string      `env:"CORS_ORIGINS" envSeparator:";"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig loads the configuration from a .env file in the users home
// directory or the working directory, then from the os environment.
// Variables already present in the environment win over .env values.
func LoadConfig[T any]() (*T, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("error loading home directory", "error", err)
	}
	candidates := []string{".env"}
	if homeDir != "" {
		candidates = append([]string{filepath.Join(homeDir, ".env")}, candidates...)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return loadFromEnv[T](path)
		}
	}
	return loadFromEnv[T]("")
}

// loadFromEnv loads the configuration from the specified .env file path.
// If the path is empty, only the process environment is used.
func loadFromEnv[T any](path string) (*T, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("could not load %s: %w", path, err)
		}
		slog.Debug("loaded configuration file", "path", path)
	}
	cfg, err := env.ParseAs[T]()
	if err != nil {
		return nil, fmt.Errorf("could not parse environment: %w", err)
	}
	return &cfg, nil
}

// Load reads a Config and applies the relay defaults.
func Load() (*Config, error) {
	cfg, err := LoadConfig[Config]()
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) ApplyDefaults() {
	c.NostrRelays = trimAll(c.NostrRelays)
	c.NostrFallbackRelays = trimAll(c.NostrFallbackRelays)
	if len(c.NostrRelays) == 0 {
		slog.Info("no relays provided, using default relays")
		c.NostrRelays = append([]string(nil), DefaultRelays...)
	}
	if len(c.NostrFallbackRelays) == 0 {
		c.NostrFallbackRelays = append([]string(nil), DefaultFallbackRelays...)
	}
}

func (c *Config) Validate() error {
	if c.ConnectMaxAttempts <= 0 {
		return errInvalidAttempts
	}
	for _, d := range []time.Duration{c.ConnectTimeout, c.PublishTimeout, c.FetchTimeout, c.ProfileCacheTTL} {
		if d <= 0 {
			return errInvalidTimeout
		}
	}
	if c.PropagationDelay < 0 || c.ConnectRetryDelay < 0 {
		return errInvalidTimeout
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
