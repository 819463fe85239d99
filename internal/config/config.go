package config

import (
	"fmt"
	"time"
)

// Config is the main configuration structure for syncboard.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Presence PresenceConfig `yaml:"presence"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type AuthConfig struct {
	// JWTSecret signs and verifies session tokens. Required.
	JWTSecret string `yaml:"jwt_secret"`

	// TokenExpiry bounds token lifetime; zero means tokens never expire.
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// PresenceConfig holds the liveness windows and capacity limits of the
// presence registry. The two windows are independent: ExistenceWindow decides
// when an entry disappears entirely, ActiveWindow decides when a still-present
// user is shown as idle.
type PresenceConfig struct {
	ExistenceWindow     time.Duration `yaml:"existence_window"`
	ActiveWindow        time.Duration `yaml:"active_window"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	RebroadcastInterval time.Duration `yaml:"rebroadcast_interval"`
	MaxEntries          int           `yaml:"max_entries"`
	MaxProfileCache     int           `yaml:"max_profile_cache"`
}

type GatewayConfig struct {
	// MaxPayloadBytes caps a single inbound frame.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes"`

	// SendBuffer is the per-connection outbound frame buffer; a connection
	// whose buffer is full is skipped, not blocked on.
	SendBuffer int `yaml:"send_buffer"`

	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when a field is absent from
// the loaded file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3001,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			TokenExpiry: 24 * time.Hour,
		},
		Presence: PresenceConfig{
			ExistenceWindow:     5 * time.Minute,
			ActiveWindow:        30 * time.Second,
			SweepInterval:       time.Minute,
			RebroadcastInterval: 15 * time.Second,
			MaxEntries:          10000,
			MaxProfileCache:     5000,
		},
		Gateway: GatewayConfig{
			MaxPayloadBytes: 1 << 20,
			SendBuffer:      64,
			WriteTimeout:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior much later.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Presence.ExistenceWindow <= 0 {
		return fmt.Errorf("presence.existence_window must be positive")
	}
	if c.Presence.ActiveWindow <= 0 {
		return fmt.Errorf("presence.active_window must be positive")
	}
	if c.Presence.ActiveWindow >= c.Presence.ExistenceWindow {
		return fmt.Errorf("presence.active_window must be shorter than existence_window")
	}
	if c.Presence.MaxEntries <= 0 {
		return fmt.Errorf("presence.max_entries must be positive")
	}
	return nil
}
