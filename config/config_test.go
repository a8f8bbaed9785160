package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NOSTR_RELAYS", "")
	t.Setenv("NOSTR_FALLBACK_RELAYS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultRelays, cfg.NostrRelays)
	assert.Equal(t, DefaultFallbackRelays, cfg.NostrFallbackRelays)
	assert.Equal(t, 3, cfg.ConnectMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.PublishTimeout)
	assert.Equal(t, time.Second, cfg.PropagationDelay)
	assert.Equal(t, time.Minute, cfg.ProfileCacheTTL)
	assert.Equal(t, "127.0.0.1:8338", cfg.HTTPAddress)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NOSTR_RELAYS", "wss://a.example; wss://b.example ;")
	t.Setenv("CONNECT_MAX_ATTEMPTS", "7")
	t.Setenv("CONNECT_TIMEOUT", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://a.example", "wss://b.example"}, cfg.NostrRelays)
	assert.Equal(t, 7, cfg.ConnectMaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnectTimeout)
}

func TestLoad_HomeDotEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env"), []byte("LOG_LEVEL=debug\n"), 0o600))
	// godotenv does not override variables that already exist
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))
	t.Cleanup(func() { _ = os.Unsetenv("LOG_LEVEL") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero attempts", mutate: func(c *Config) { c.ConnectMaxAttempts = 0 }, wantErr: errInvalidAttempts},
		{name: "zero connect timeout", mutate: func(c *Config) { c.ConnectTimeout = 0 }, wantErr: errInvalidTimeout},
		{name: "zero profile ttl", mutate: func(c *Config) { c.ProfileCacheTTL = 0 }, wantErr: errInvalidTimeout},
		{name: "negative delay", mutate: func(c *Config) { c.PropagationDelay = -time.Second }, wantErr: errInvalidTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				ConnectMaxAttempts: 3,
				ConnectTimeout:     time.Second,
				PublishTimeout:     time.Second,
				FetchTimeout:       time.Second,
				ProfileCacheTTL:    time.Minute,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	} {
		cfg := Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
