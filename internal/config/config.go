// Package config loads the marketd configuration: YAML file first,
// environment overrides second.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full marketd configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Events    EventsConfig    `yaml:"events"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"MARKETD_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"MARKETD_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"MARKETD_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"MARKETD_SHUTDOWN_TIMEOUT"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"MARKETD_LOG_LEVEL"`
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled" env:"MARKETD_POSTGRES_ENABLED"`
	DSN     string `yaml:"dsn" env:"MARKETD_POSTGRES_DSN"`
}

type SweeperConfig struct {
	Enabled  bool          `yaml:"enabled" env:"MARKETD_SWEEPER_ENABLED"`
	Interval time.Duration `yaml:"interval" env:"MARKETD_SWEEPER_INTERVAL"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"MARKETD_RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"MARKETD_RATE_LIMIT_BURST"`
}

type EventsConfig struct {
	BufferSize int `yaml:"buffer_size" env:"MARKETD_EVENTS_BUFFER"`
}

// Default returns the configuration used when no file or environment is set.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Sweeper: SweeperConfig{Interval: time.Minute},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Events: EventsConfig{BufferSize: 1024},
	}
}

// Load reads the configuration from path (skipped when empty or missing) and
// applies environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults plus environment.
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}

	if cfg.Postgres.Enabled && cfg.Postgres.DSN == "" {
		return Config{}, errors.New("postgres enabled without a dsn")
	}
	return cfg, nil
}
