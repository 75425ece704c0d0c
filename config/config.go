package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
	RESTPort  int    `mapstructure:"rest_port"`
}

// EngineConfig holds the script engine deployment constants
type EngineConfig struct {
	Backend            string   `mapstructure:"backend"`
	InitialHeapBytes   uint64   `mapstructure:"initial_heap_bytes"`
	MaxHeapBytes       uint64   `mapstructure:"max_heap_bytes"`
	PoolSize           int      `mapstructure:"pool_size"`
	DefaultTimeoutMs   int      `mapstructure:"default_timeout_ms"`
	MaxTimeoutMs       int      `mapstructure:"max_timeout_ms"`
	HeapPollIntervalMs int      `mapstructure:"heap_poll_interval_ms"`
	ReapIntervalMs     int      `mapstructure:"reap_interval_ms"`
	ReapGraceMs        int      `mapstructure:"reap_grace_ms"`
	V8Flags            []string `mapstructure:"v8_flags"`
}

// FetchConfig holds configuration for the fetch capability exposed to scripts
type FetchConfig struct {
	TimeoutMs    int     `mapstructure:"timeout_ms"`
	RetryMax     int     `mapstructure:"retry_max"`
	MaxBodyBytes int64   `mapstructure:"max_body_bytes"`
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	Burst        int     `mapstructure:"burst"`
	UserAgent    string  `mapstructure:"user_agent"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// RateLimitConfig holds the REST transport rate limit
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	return load(v)
}

// NewFromFile loads and validates the configuration stored at path
func NewFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()

	// Environment overrides, e.g. SCRIPTBOX_ENGINE_BACKEND=v8
	v.SetEnvPrefix("scriptbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Server defaults
	v.SetDefault("server.transport", "rest")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.rest_port", 3000)

	// Engine defaults
	v.SetDefault("engine.backend", "goja")
	v.SetDefault("engine.initial_heap_bytes", 16*1024*1024)
	v.SetDefault("engine.max_heap_bytes", 64*1024*1024)
	v.SetDefault("engine.pool_size", 100)
	v.SetDefault("engine.default_timeout_ms", 100)
	v.SetDefault("engine.max_timeout_ms", 30000)
	v.SetDefault("engine.heap_poll_interval_ms", 1)
	v.SetDefault("engine.reap_interval_ms", 50)
	v.SetDefault("engine.reap_grace_ms", 5000)
	v.SetDefault("engine.v8_flags", []string{})

	// Fetch defaults
	v.SetDefault("fetch.timeout_ms", 5000)
	v.SetDefault("fetch.retry_max", 0)
	v.SetDefault("fetch.max_body_bytes", 10*1024*1024)
	v.SetDefault("fetch.rate_limit_rps", 0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.user_agent", "scriptbox-fetch/1.0")

	// Logging defaults
	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	// REST rate limit defaults
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 100)
	v.SetDefault("rate_limit.burst", 200)

	return v
}

func load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	switch c.Server.Transport {
	case "stdio", "http", "rest":
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio', 'http' or 'rest'", c.Server.Transport)
	}

	if c.Engine.Backend != "goja" && c.Engine.Backend != "v8" {
		return fmt.Errorf("unsupported engine.backend: %s, must be 'goja' or 'v8'", c.Engine.Backend)
	}

	if c.Engine.InitialHeapBytes == 0 {
		return fmt.Errorf("engine.initial_heap_bytes must be positive")
	}

	if c.Engine.MaxHeapBytes < c.Engine.InitialHeapBytes {
		return fmt.Errorf("engine.max_heap_bytes must be >= engine.initial_heap_bytes, got: %d < %d",
			c.Engine.MaxHeapBytes, c.Engine.InitialHeapBytes)
	}

	if c.Engine.PoolSize <= 0 {
		return fmt.Errorf("engine.pool_size must be positive, got: %d", c.Engine.PoolSize)
	}

	if c.Engine.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("engine.default_timeout_ms must be positive, got: %d", c.Engine.DefaultTimeoutMs)
	}

	if c.Engine.MaxTimeoutMs < c.Engine.DefaultTimeoutMs {
		return fmt.Errorf("engine.max_timeout_ms must be >= engine.default_timeout_ms, got: %d", c.Engine.MaxTimeoutMs)
	}

	if c.Engine.HeapPollIntervalMs <= 0 {
		return fmt.Errorf("engine.heap_poll_interval_ms must be positive, got: %d", c.Engine.HeapPollIntervalMs)
	}

	if c.Engine.ReapIntervalMs <= 0 || c.Engine.ReapGraceMs <= 0 {
		return fmt.Errorf("engine.reap_interval_ms and engine.reap_grace_ms must be positive")
	}

	if c.Fetch.TimeoutMs <= 0 {
		return fmt.Errorf("fetch.timeout_ms must be positive, got: %d", c.Fetch.TimeoutMs)
	}

	if c.Fetch.RetryMax < 0 {
		return fmt.Errorf("fetch.retry_max must not be negative, got: %d", c.Fetch.RetryMax)
	}

	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be positive, got: %d", c.Fetch.MaxBodyBytes)
	}

	if c.Fetch.RateLimitRPS < 0 {
		return fmt.Errorf("fetch.rate_limit_rps must not be negative, got: %v", c.Fetch.RateLimitRPS)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit.rps and rate_limit.burst must be positive when rate_limit.enabled")
	}

	return nil
}

// GetDefaultTimeout returns the execution timeout used when a request carries none
func (c *Config) GetDefaultTimeout() time.Duration {
	return time.Duration(c.Engine.DefaultTimeoutMs) * time.Millisecond
}

// GetMaxTimeout returns the upper bound applied to requested timeouts
func (c *Config) GetMaxTimeout() time.Duration {
	return time.Duration(c.Engine.MaxTimeoutMs) * time.Millisecond
}

// GetFetchTimeout returns the per-request timeout of the fetch capability
func (c *Config) GetFetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMs) * time.Millisecond
}
