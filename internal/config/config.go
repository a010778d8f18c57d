// Package config provides configuration management for the news portal backend.
// Configuration is loaded from a YAML file with ${VAR} and ${VAR:-default}
// environment variable substitution, merged over built-in defaults.
package config

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Config holds all configuration settings for the backend.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Rotation  RotationConfig  `yaml:"rotation"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Posture   PostureConfig   `yaml:"posture"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	// Rate limit applied to the public key verification endpoint, per client IP.
	VerifyRatePerSecond float64 `yaml:"verifyRatePerSecond"`
	VerifyRateBurst     int     `yaml:"verifyRateBurst"`
}

// DatabaseConfig holds settings for the relational store.
type DatabaseConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"maxOpenConns"`
	MaxIdleConns    int      `yaml:"maxIdleConns"`
	ConnMaxLifetime Duration `yaml:"connMaxLifetime"`
}

// RedisConfig holds settings for the authentication failure tracker.
// When disabled, failure counting degrades to a no-op and the security
// posture task only checks key expiry.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// APIKeyHeader is the request header carrying the API key.
	APIKeyHeader string `yaml:"apiKeyHeader"`

	// AdminJWTSecret is the HMAC secret for admin bearer tokens.
	AdminJWTSecret string `yaml:"adminJwtSecret"`

	// AdminJWTIssuer, when set, is required in admin token claims.
	AdminJWTIssuer string `yaml:"adminJwtIssuer"`
}

// RotationConfig holds the key rotation policy.
//
// OverlapWindow selects the rotation variant: zero means single-active-key
// (rotation deactivates predecessors in the same transaction); a positive
// value means the previous key stays valid for that grace period after a
// rotation before a one-shot deactivation retires it.
type RotationConfig struct {
	KeyTTL        Duration `yaml:"keyTtl"`
	OverlapWindow Duration `yaml:"overlapWindow"`
}

// ScheduleConfig holds the fixed-rate task cadences.
type ScheduleConfig struct {
	RotationInterval  Duration `yaml:"rotationInterval"`
	CleanupInterval   Duration `yaml:"cleanupInterval"`
	PurgeInterval     Duration `yaml:"purgeInterval"`
	PurgeRetention    Duration `yaml:"purgeRetention"`
	PostureInterval   Duration `yaml:"postureInterval"`
	HeartbeatInterval Duration `yaml:"heartbeatInterval"`
}

// PostureConfig holds thresholds for the daily security posture check.
type PostureConfig struct {
	ExpiryLookahead  Duration `yaml:"expiryLookahead"`
	FailureLookback  Duration `yaml:"failureLookback"`
	FailureThreshold int64    `yaml:"failureThreshold"`
}

// WebSocketConfig holds realtime channel settings.
type WebSocketConfig struct {
	Path string `yaml:"path"`

	// EncryptionEnabled turns on the symmetric broadcast envelope.
	EncryptionEnabled bool `yaml:"encryptionEnabled"`

	// EncryptionKey is the shared static key, hex-encoded (32 bytes).
	EncryptionKey string `yaml:"encryptionKey"`

	// Cipher selects the envelope cipher: "aes-gcm" or "chacha20poly1305".
	Cipher string `yaml:"cipher"`

	// RequireEncrypted rejects plaintext client frames when true.
	// Reloadable at runtime via the config watcher.
	RequireEncrypted bool `yaml:"requireEncrypted"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                ":8080",
			ReadTimeout:         Duration(15 * time.Second),
			WriteTimeout:        Duration(15 * time.Second),
			IdleTimeout:         Duration(60 * time.Second),
			ShutdownTimeout:     Duration(10 * time.Second),
			VerifyRatePerSecond: 5,
			VerifyRateBurst:     10,
		},
		Database: DatabaseConfig{
			DSN:             "file:pressgate.db?_pragma=journal_mode(WAL)",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(time.Hour),
		},
		Redis: RedisConfig{
			Enabled: false,
			Address: "localhost:6379",
		},
		Auth: AuthConfig{
			APIKeyHeader: "x-api-key",
		},
		Rotation: RotationConfig{
			KeyTTL:        Duration(time.Hour),
			OverlapWindow: 0,
		},
		Schedule: ScheduleConfig{
			RotationInterval:  Duration(time.Hour),
			CleanupInterval:   Duration(6 * time.Hour),
			PurgeInterval:     Duration(24 * time.Hour),
			PurgeRetention:    Duration(7 * 24 * time.Hour),
			PostureInterval:   Duration(24 * time.Hour),
			HeartbeatInterval: Duration(24 * time.Hour),
		},
		Posture: PostureConfig{
			ExpiryLookahead:  Duration(72 * time.Hour),
			FailureLookback:  Duration(time.Hour),
			FailureThreshold: 25,
		},
		WebSocket: WebSocketConfig{
			Path:   "/ws",
			Cipher: "aes-gcm",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}
	if c.Auth.APIKeyHeader == "" {
		return fmt.Errorf("auth.apiKeyHeader must not be empty")
	}
	if c.Auth.AdminJWTSecret == "" {
		return fmt.Errorf("auth.adminJwtSecret must not be empty")
	}
	if c.Rotation.KeyTTL <= 0 {
		return fmt.Errorf("rotation.keyTtl must be positive")
	}
	if c.Rotation.OverlapWindow < 0 {
		return fmt.Errorf("rotation.overlapWindow must not be negative")
	}
	if c.Rotation.OverlapWindow.Duration() >= c.Rotation.KeyTTL.Duration() {
		if c.Rotation.OverlapWindow > 0 {
			return fmt.Errorf("rotation.overlapWindow must be shorter than rotation.keyTtl")
		}
	}
	if c.Schedule.RotationInterval <= 0 {
		return fmt.Errorf("schedule.rotationInterval must be positive")
	}
	if c.WebSocket.EncryptionEnabled {
		key, err := hex.DecodeString(c.WebSocket.EncryptionKey)
		if err != nil {
			return fmt.Errorf("websocket.encryptionKey must be hex-encoded: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("websocket.encryptionKey must be 32 bytes, got %d", len(key))
		}
		switch c.WebSocket.Cipher {
		case "aes-gcm", "chacha20poly1305":
		default:
			return fmt.Errorf("websocket.cipher must be aes-gcm or chacha20poly1305, got %q", c.WebSocket.Cipher)
		}
	}
	if c.WebSocket.RequireEncrypted && !c.WebSocket.EncryptionEnabled {
		return fmt.Errorf("websocket.requireEncrypted requires websocket.encryptionEnabled")
	}
	if c.Posture.FailureThreshold < 0 {
		return fmt.Errorf("posture.failureThreshold must not be negative")
	}
	return nil
}
