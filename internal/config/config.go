// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all service configuration.
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Session SessionConfig
	Redis   RedisConfig
	Logging LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8090"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// BackendConfig holds workflow backend client configuration.
type BackendConfig struct {
	BaseURL   string        `envconfig:"BACKEND_URL" default:"http://localhost:9000"`
	Timeout   time.Duration `envconfig:"BACKEND_TIMEOUT" default:"60s"`
	RetryMax  int           `envconfig:"BACKEND_RETRY_MAX" default:"2"`
	RateLimit float64       `envconfig:"BACKEND_RATE_LIMIT" default:"5"`
	RateBurst int           `envconfig:"BACKEND_RATE_BURST" default:"10"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	InactivityTTL    time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	QueueSize        int           `envconfig:"SESSION_QUEUE_SIZE" default:"64"`
	BroadcastTimeout time.Duration `envconfig:"BROADCAST_TIMEOUT" default:"5s"`
}

// RedisConfig holds the optional Redis persistence configuration. When
// disabled, session state is kept in an in-process store and survives
// page navigations but not process restarts.
type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
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
		Server: ServerConfig{Port: "8090", Host: "0.0.0.0"},
		Backend: BackendConfig{
			BaseURL:   "http://localhost:9000",
			Timeout:   60 * time.Second,
			RetryMax:  2,
			RateLimit: 5,
			RateBurst: 10,
		},
		Session: SessionConfig{
			InactivityTTL:    30 * time.Minute,
			QueueSize:        64,
			BroadcastTimeout: 5 * time.Second,
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Logging: LogConfig{Level: "info"},
	}
}
