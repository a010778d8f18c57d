package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pressgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
rotation:
  keyTtl: 2h
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2*time.Hour, cfg.Rotation.KeyTTL.Duration())
	// Untouched settings keep their defaults.
	assert.Equal(t, 6*time.Hour, cfg.Schedule.CleanupInterval.Duration())
	assert.Equal(t, "x-api-key", cfg.Auth.APIKeyHeader)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFromReader_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_PRESSGATE_ADDR", ":7070")

	cfg, err := LoadFromReader(strings.NewReader(`
server:
  addr: "${TEST_PRESSGATE_ADDR}"
redis:
  address: "${TEST_PRESSGATE_REDIS:-fallback:6379}"
`))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "fallback:6379", cfg.Redis.Address)
}

func TestLoadFromReader_EscapedDollar(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
auth:
  adminJwtSecret: "pa$$$${word}"
`))
	require.NoError(t, err)
	assert.Equal(t, "pa$${word}", cfg.Auth.AdminJWTSecret)
}

func TestLoadFromReader_InvalidYAML(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`server: [`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.AdminJWTSecret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with secret", func(c *Config) {}, ""},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"missing jwt secret", func(c *Config) { c.Auth.AdminJWTSecret = "" }, "adminJwtSecret"},
		{"zero ttl", func(c *Config) { c.Rotation.KeyTTL = 0 }, "keyTtl"},
		{"negative overlap", func(c *Config) { c.Rotation.OverlapWindow = Duration(-time.Minute) }, "overlapWindow"},
		{"overlap exceeds ttl", func(c *Config) {
			c.Rotation.KeyTTL = Duration(10 * time.Minute)
			c.Rotation.OverlapWindow = Duration(10 * time.Minute)
		}, "overlapWindow"},
		{"encryption without key", func(c *Config) {
			c.WebSocket.EncryptionEnabled = true
			c.WebSocket.EncryptionKey = "zz"
		}, "encryptionKey"},
		{"encryption short key", func(c *Config) {
			c.WebSocket.EncryptionEnabled = true
			c.WebSocket.EncryptionKey = "deadbeef"
		}, "32 bytes"},
		{"unknown cipher", func(c *Config) {
			c.WebSocket.EncryptionEnabled = true
			c.WebSocket.EncryptionKey = strings.Repeat("ab", 32)
			c.WebSocket.Cipher = "rot13"
		}, "cipher"},
		{"require encrypted without encryption", func(c *Config) {
			c.WebSocket.RequireEncrypted = true
		}, "requireEncrypted"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_RoundTrip(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(`
schedule:
  rotationInterval: 90m
`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, cfg.Schedule.RotationInterval.Duration())
}
