package sandbox

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// GuardOptions are the limits a Guard enforces
type GuardOptions struct {
	Limits         HeapLimits
	PoolSize       int
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	PollInterval   time.Duration
	ReapInterval   time.Duration
	ReapGrace      time.Duration
}

// Guard is the Executor that runs every request on its own worker goroutine,
// locked to an OS thread, and races it against the request deadline
type Guard struct {
	logger  *zap.Logger
	backend Backend
	fetcher Fetcher
	metrics *Metrics
	opts    GuardOptions

	// slots bounds live workers, abandoned ones included
	slots *semaphore.Weighted
}

var _ Executor = (*Guard)(nil)

// NewGuard creates a Guard over the given backend
func NewGuard(logger *zap.Logger, backend Backend, fetcher Fetcher, metrics *Metrics, opts GuardOptions) (*Guard, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if opts.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got: %d", opts.PoolSize)
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxTimeout < opts.DefaultTimeout {
		opts.MaxTimeout = opts.DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Millisecond
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 50 * time.Millisecond
	}
	if opts.ReapGrace <= 0 {
		opts.ReapGrace = 5 * time.Second
	}

	return &Guard{
		logger:  logger,
		backend: backend,
		fetcher: fetcher,
		metrics: metrics,
		opts:    opts,
		slots:   semaphore.NewWeighted(int64(opts.PoolSize)),
	}, nil
}

type outcome struct {
	output string
	err    error
}

// Execute implements Executor
func (g *Guard) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	id := uuid.NewString()
	timeout := g.timeout(req.Timeout)
	log := g.logger.With(zap.String("execution_id", id))

	g.metrics.InFlight.Inc()
	defer g.metrics.InFlight.Dec()

	start := time.Now()
	output, err := g.execute(ctx, log, req, timeout)
	elapsed := time.Since(start)
	g.metrics.observe(g.backend.Name(), err, elapsed)

	if err != nil {
		log.Info("execution failed",
			zap.String("kind", string(KindOf(err))),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return ExecuteResult{}, err
	}

	log.Debug("execution completed", zap.Duration("duration", elapsed))
	return ExecuteResult{
		ID:       id,
		Output:   output,
		Backend:  g.backend.Name(),
		Duration: elapsed,
	}, nil
}

func (g *Guard) execute(ctx context.Context, log *zap.Logger, req ExecuteRequest, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", newError(KindCanceled, "%v", err)
	}
	if !g.slots.TryAcquire(1) {
		return "", newError(KindCapacity, "all %d workers are busy", g.opts.PoolSize)
	}

	log.Debug("execution started", zap.Duration("timeout", timeout))

	handle := NewCancellationHandle()
	done := make(chan outcome, 1)
	exited := make(chan struct{})
	go g.work(log, req, handle, done, exited)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.output, out.err
	case <-timer.C:
		// An outcome that raced the deadline still wins
		select {
		case out := <-done:
			return out.output, out.err
		default:
		}
		handle.Terminate(CauseTimeout)
		g.reap(log, handle, CauseTimeout, exited)
		return "", newError(KindTimeout, "execution exceeded %s", timeout)
	case <-ctx.Done():
		handle.Terminate(CauseCanceled)
		g.reap(log, handle, CauseCanceled, exited)
		return "", newError(KindCanceled, "%v", ctx.Err())
	}
}

// timeout resolves the effective deadline of a request
func (g *Guard) timeout(requested time.Duration) time.Duration {
	switch {
	case requested <= 0:
		return g.opts.DefaultTimeout
	case requested > g.opts.MaxTimeout:
		return g.opts.MaxTimeout
	default:
		return requested
	}
}

// work is the worker goroutine. It owns the isolate for its whole life and
// sends exactly one outcome.
func (g *Guard) work(log *zap.Logger, req ExecuteRequest, handle *CancellationHandle, done chan<- outcome, exited chan<- struct{}) {
	defer close(exited)
	defer g.slots.Release(1)
	defer handle.release()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	done <- g.run(log, req, handle)
}

func (g *Guard) run(log *zap.Logger, req ExecuteRequest, handle *CancellationHandle) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panicked", zap.Any("panic", r))
			out = outcome{err: newError(KindInternal, "worker panicked: %v", r)}
		}
	}()

	rt, err := newIsolateRuntime(runtimeOptions{
		backend:      g.backend,
		limits:       g.opts.Limits,
		fetcher:      g.fetcher,
		pollInterval: g.opts.PollInterval,
		onLimit: func() {
			g.metrics.MemoryLimitHits.Inc()
			log.Warn("isolate reached its heap limit", zap.Uint64("max_heap_bytes", g.opts.Limits.Max))
		},
	}, handle)
	if err != nil {
		return outcome{err: newError(KindInternal, "%v", err)}
	}
	defer rt.close()

	output, err := invoke(rt.iso, handle, req.Source, req.Args)
	return outcome{output: output, err: err}
}

// reap keeps terminating an abandoned worker until it exits
func (g *Guard) reap(log *zap.Logger, handle *CancellationHandle, cause Cause, exited <-chan struct{}) {
	g.metrics.WorkersAbandoned.Inc()
	log.Debug("worker abandoned", zap.Stringer("cause", cause))

	go func() {
		defer g.metrics.WorkersAbandoned.Dec()

		ticker := time.NewTicker(g.opts.ReapInterval)
		defer ticker.Stop()
		grace := time.NewTimer(g.opts.ReapGrace)
		defer grace.Stop()

		for {
			select {
			case <-exited:
				return
			case <-ticker.C:
				handle.Terminate(cause)
			case <-grace.C:
				log.Warn("abandoned worker outlived its grace period",
					zap.Duration("grace", g.opts.ReapGrace),
					zap.Stringer("cause", handle.Cause()),
				)
			}
		}
	}()
}
