package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/httpapi"
	"github.com/isdmx/scriptbox/logger"
	"github.com/isdmx/scriptbox/mcpserver"
	"github.com/isdmx/scriptbox/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Metrics registry shared by the engine and /metrics
			newRegistry,

			// Script engine based on config
			newExecutor,

			// Transports
			mcpserver.New,
			newRESTServer,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(lc fx.Lifecycle, cfg *config.Config, server *mcpserver.MCPServer, rest *httpapi.Server) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				case "rest":
					lc.Append(fx.Hook{
						OnStart: func(context.Context) error {
							return rest.Start()
						},
						OnStop: rest.Stop,
					})
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newExecutor builds the script engine from the application config
func newExecutor(log *zap.Logger, cfg *config.Config, reg *prometheus.Registry) (sandbox.Executor, error) {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	executor, err := sandbox.NewExecutor(log, sandbox.Config{
		Backend: cfg.Engine.Backend,
		Limits: sandbox.HeapLimits{
			Initial: cfg.Engine.InitialHeapBytes,
			Max:     cfg.Engine.MaxHeapBytes,
		},
		PoolSize:       cfg.Engine.PoolSize,
		DefaultTimeout: cfg.GetDefaultTimeout(),
		MaxTimeout:     cfg.GetMaxTimeout(),
		PollInterval:   ms(cfg.Engine.HeapPollIntervalMs),
		ReapInterval:   ms(cfg.Engine.ReapIntervalMs),
		ReapGrace:      ms(cfg.Engine.ReapGraceMs),
		V8Flags:        cfg.Engine.V8Flags,
		Fetch: sandbox.FetcherOptions{
			Timeout:      cfg.GetFetchTimeout(),
			RetryMax:     cfg.Fetch.RetryMax,
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
			RateLimitRPS: cfg.Fetch.RateLimitRPS,
			Burst:        cfg.Fetch.Burst,
			UserAgent:    cfg.Fetch.UserAgent,
		},
	}, sandbox.NewMetrics(reg))
	if err != nil {
		return nil, err
	}
	return executor, nil
}

func newRESTServer(cfg *config.Config, log *zap.Logger, executor sandbox.Executor, reg *prometheus.Registry) *httpapi.Server {
	return httpapi.New(cfg, log, executor, reg)
}
