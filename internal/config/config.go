package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// DatabaseConfig holds the store-of-record connection information.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// RedisConfig holds the connection details for the ephemeral store used by
// the rate limiter and the admin session store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// UpstreamConfig holds configuration for the lookup provider.
type UpstreamConfig struct {
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RateLimitConfig holds the per-IP admission ceiling.
type RateLimitConfig struct {
	RequestsPerHour int `yaml:"requests_per_hour"`
}

// SessionConfig holds admin session parameters.
type SessionConfig struct {
	// SigningKey is a base64 fernet key. Generated and logged on startup when empty.
	SigningKey string `yaml:"signing_key"`
}

// UsageConfig holds audit-trail settings.
type UsageConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Config holds the configuration for the gateway.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Session   SessionConfig   `yaml:"session"`
	Usage     UsageConfig     `yaml:"usage"`
	Port      int             `yaml:"port"`
	Debug     bool            `yaml:"debug"`
}

// LoadConfig reads and parses the configuration file. It returns the config
// and a potential warning message.
var LoadConfig = func(path string) (*Config, string, error) {
	var config Config
	var warning string

	data, err := os.ReadFile(path)
	if err == nil {
		err = yaml.Unmarshal(data, &config)
		if err != nil {
			return nil, "", fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	// If the file does not exist, continue with an empty config and rely on
	// environment variables.

	// Set default values
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Redis.Addr == "" {
		config.Redis.Addr = "localhost:6379"
	}
	if config.Upstream.TimeoutSeconds == 0 {
		config.Upstream.TimeoutSeconds = 10
	}
	if config.RateLimit.RequestsPerHour == 0 {
		config.RateLimit.RequestsPerHour = 100
		warning = "rate_limit.requests_per_hour not set, using default value of 100"
	}
	if config.Usage.RetentionDays == 0 {
		config.Usage.RetentionDays = 90
	}

	// Override with environment variables if they exist
	if dsn := os.Getenv("NUMGATE_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv("NUMGATE_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if addr := os.Getenv("NUMGATE_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("NUMGATE_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if upstreamURL := os.Getenv("NUMGATE_UPSTREAM_URL"); upstreamURL != "" {
		config.Upstream.URL = upstreamURL
	}
	if upstreamKey := os.Getenv("NUMGATE_UPSTREAM_API_KEY"); upstreamKey != "" {
		config.Upstream.APIKey = upstreamKey
	}
	if signingKey := os.Getenv("NUMGATE_SESSION_SIGNING_KEY"); signingKey != "" {
		config.Session.SigningKey = signingKey
	}
	if port := os.Getenv("NUMGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if debug := os.Getenv("NUMGATE_DEBUG"); debug != "" {
		config.Debug = (debug == "true")
	}

	// Final validation after overrides
	if config.Database.Type == "" || config.Database.DSN == "" {
		return nil, "", fmt.Errorf("database type and dsn must be configured in config.yaml or via environment variables")
	}
	if config.Upstream.URL == "" {
		return nil, "", fmt.Errorf("upstream url must be configured in config.yaml or via environment variables")
	}

	return &config, warning, nil
}
