// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap, providing structured, high-performance logging
// throughout the application.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/scriptbox/config"
)

// ServiceName is attached to every log entry
const ServiceName = "scriptbox"

// NewFromConfig creates the application logger from cfg. Entries carry the
// engine backend, pool size and transport.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	zc, err := buildConfig(cfg.Logging.Mode, cfg.Logging.Level, map[string]any{
		"engine":    cfg.Engine.Backend,
		"pool_size": cfg.Engine.PoolSize,
		"transport": cfg.Server.Transport,
	})
	if err != nil {
		return nil, err
	}
	// stdout carries the MCP stream on the stdio transport
	if cfg.Server.Transport == "stdio" {
		zc.OutputPaths = []string{"stderr"}
	}
	return zc.Build()
}

// New creates a new logger instance based on configuration
func New(mode, level string) (*zap.Logger, error) {
	zc, err := buildConfig(mode, level, nil)
	if err != nil {
		return nil, err
	}
	return zc.Build()
}

// buildConfig resolves mode and level into a zap config whose initial fields
// are the service name plus fields
func buildConfig(mode, level string, fields map[string]any) (zap.Config, error) {
	var cfg zap.Config

	switch mode {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// execution durations are logged in milliseconds like timeout_ms
		cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	default:
		return zap.Config{}, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return zap.Config{}, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	cfg.InitialFields = make(map[string]any, len(fields)+1)
	for k, v := range fields {
		cfg.InitialFields[k] = v
	}
	cfg.InitialFields["service"] = ServiceName

	return cfg, nil
}
