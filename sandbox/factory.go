package sandbox

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config holds the engine settings the executor is built from
type Config struct {
	Backend        string
	Limits         HeapLimits
	PoolSize       int
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	PollInterval   time.Duration
	ReapInterval   time.Duration
	ReapGrace      time.Duration
	V8Flags        []string
	Fetch          FetcherOptions
}

// Option customizes NewExecutor
type Option func(*factoryOptions)

type factoryOptions struct {
	fetcher Fetcher
	backend Backend
}

// WithFetcher replaces the HTTP fetcher behind the script-visible fetch
func WithFetcher(f Fetcher) Option {
	return func(o *factoryOptions) {
		o.fetcher = f
	}
}

// WithBackend uses b instead of looking up config.Backend
func WithBackend(b Backend) Option {
	return func(o *factoryOptions) {
		o.backend = b
	}
}

// NewExecutor initializes the platform and creates the executor for the
// configured backend
func NewExecutor(logger *zap.Logger, config Config, metrics *Metrics, opts ...Option) (*Guard, error) {
	var o factoryOptions
	for _, opt := range opts {
		opt(&o)
	}

	if _, err := InitPlatform(PlatformOptions{PoolSize: config.PoolSize, V8Flags: config.V8Flags}); err != nil {
		return nil, fmt.Errorf("failed to initialize platform: %w", err)
	}

	backend := o.backend
	if backend == nil {
		b, err := LookupBackend(config.Backend)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(logger, config.Fetch, metrics)
	}

	logger.Info("script engine ready",
		zap.String("backend", backend.Name()),
		zap.Int("pool_size", config.PoolSize),
		zap.Uint64("initial_heap_bytes", config.Limits.Initial),
		zap.Uint64("max_heap_bytes", config.Limits.Max),
		zap.Duration("default_timeout", config.DefaultTimeout),
		zap.Stringer("fetch", config.Fetch),
	)

	return NewGuard(logger, backend, fetcher, metrics, GuardOptions{
		Limits:         config.Limits,
		PoolSize:       config.PoolSize,
		DefaultTimeout: config.DefaultTimeout,
		MaxTimeout:     config.MaxTimeout,
		PollInterval:   config.PollInterval,
		ReapInterval:   config.ReapInterval,
		ReapGrace:      config.ReapGrace,
	})
}
