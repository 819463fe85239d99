package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file, expanding ${ENV} references in the
// raw bytes before decoding, and applies defaults for everything the file
// leaves unset.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load when path is set, and falls back to
// environment-driven defaults when it is empty. SYNCBOARD_JWT_SECRET,
// SYNCBOARD_DATABASE_URL and SYNCBOARD_PORT cover the minimal deployment
// where no file is shipped at all. An explicit path that does not exist is
// an error, never a silent fallback.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return Load(path)
	}

	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = os.Getenv("SYNCBOARD_JWT_SECRET")
	cfg.Database.URL = os.Getenv("SYNCBOARD_DATABASE_URL")
	if port := os.Getenv("SYNCBOARD_PORT"); port != "" {
		if _, err := fmt.Sscanf(port, "%d", &cfg.Server.Port); err != nil {
			return nil, fmt.Errorf("invalid SYNCBOARD_PORT %q", port)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
