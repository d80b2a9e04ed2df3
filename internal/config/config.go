// Package config loads the hub daemon configuration from an optional yaml
// file with environment variable fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the hub daemon configuration.
type Config struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
		Stream  string `yaml:"stream"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgres"`
}

// Load reads path (when non-empty) and applies env fallbacks for anything
// the file left unset.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if cfg.Addr == "" {
		cfg.Addr = ":" + getEnv("HUB_PORT", "8080")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = getEnv("NATS_URL", "nats://localhost:4222")
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "WHEELROOM_SYNC"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "wheelroom.sync"
	}
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = getEnv("DB_HOST", "localhost")
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = getEnvAsInt("DB_PORT", 5432)
	}
	if cfg.Postgres.User == "" {
		cfg.Postgres.User = getEnv("DB_USER", "postgres")
	}
	if cfg.Postgres.Password == "" {
		cfg.Postgres.Password = getEnv("DB_PASSWORD", "postgres")
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = getEnv("DB_NAME", "wheelroom")
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	}
	return &cfg, nil
}

// PostgresDSN returns the Postgres connection URL.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User, c.Postgres.Password, c.Postgres.Host,
		c.Postgres.Port, c.Postgres.Database, c.Postgres.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
