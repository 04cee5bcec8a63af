// Package config loads service configuration from the environment and an
// optional YAML file. Environment variables win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds everything the service needs at startup.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	RedisURL string `yaml:"redis_url"`

	// FetchIntervalSeconds drives the periodic tick of the driver.
	FetchIntervalSeconds int `yaml:"fetch_interval_seconds"`

	// Upstream credentials. Empty values disable the corresponding source
	// or fallback.
	TaapiSecret   string `yaml:"taapi_secret"`
	CMCAPIKey     string `yaml:"cmc_api_key"`
	FinnhubAPIKey string `yaml:"finnhub_api_key"`

	// NodeID identifies this instance in leader election. Defaults to a
	// generated UUID-based id when not set by the deployment.
	NodeID string `yaml:"node_id"`
}

// Defaults mirror the single-instance development setup.
func defaults() *Config {
	return &Config{
		Host:                 "0.0.0.0",
		Port:                 8081,
		RedisURL:             "redis://127.0.0.1:6379",
		FetchIntervalSeconds: 5,
	}
}

// Load builds a Config from defaults, an optional YAML file, and the
// environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.NodeID == "" {
		cfg.NodeID = fmt.Sprintf("ws-%s", uuid.New().String())
	}
	if cfg.FetchIntervalSeconds <= 0 {
		return nil, fmt.Errorf("fetch interval must be positive, got %d", cfg.FetchIntervalSeconds)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		} else {
			c.Port = -1 // force the validation error in Load
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("FETCH_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FetchIntervalSeconds = n
		}
	}
	if v := os.Getenv("TAAPI_SECRET"); v != "" {
		c.TaapiSecret = v
	}
	if v := os.Getenv("CMC_API_KEY"); v != "" {
		c.CMCAPIKey = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.FinnhubAPIKey = v
	}
	// Deployment replica ids take precedence over a generated UUID so that
	// leadership logs stay stable across restarts of the same replica.
	for _, key := range []string{"NODE_ID", "RAILWAY_REPLICA_ID", "RAILWAY_INSTANCE_ID"} {
		if v := os.Getenv(key); v != "" {
			c.NodeID = v
			break
		}
	}
}

// Addr returns the bind address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FetchInterval returns the driver tick period.
func (c *Config) FetchInterval() time.Duration {
	return time.Duration(c.FetchIntervalSeconds) * time.Second
}
