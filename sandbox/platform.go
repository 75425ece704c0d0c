package sandbox

import (
	"errors"
	"fmt"
	"sync"
)

// ErrPlatformNotInitialized is returned when the engine is used before InitPlatform
var ErrPlatformNotInitialized = errors.New("sandbox platform not initialized")

// PlatformOptions are the process-wide engine settings
type PlatformOptions struct {
	// PoolSize bounds the number of live worker goroutines, abandoned ones included
	PoolSize int
	// V8Flags are passed to the V8 backend when it is compiled in
	V8Flags []string
}

// Platform is the process-scoped engine state created by InitPlatform
type Platform struct {
	opts     PlatformOptions
	backends []string
}

// PoolSize returns the worker pool size fixed at initialization
func (p *Platform) PoolSize() int {
	return p.opts.PoolSize
}

// Backends returns the backends initialized with the platform
func (p *Platform) Backends() []string {
	return p.backends
}

var (
	platformOnce sync.Once
	platform     *Platform
	platformErr  error
)

// InitPlatform initializes every registered backend exactly once per
// process. Later calls return the first result and ignore opts.
func InitPlatform(opts PlatformOptions) (*Platform, error) {
	platformOnce.Do(func() {
		if opts.PoolSize <= 0 {
			platformErr = fmt.Errorf("platform pool size must be positive, got: %d", opts.PoolSize)
			return
		}

		p := &Platform{opts: opts}
		for _, name := range Backends() {
			b, err := LookupBackend(name)
			if err != nil {
				platformErr = err
				return
			}
			if err := b.Init(opts); err != nil {
				platformErr = fmt.Errorf("failed to initialize %s backend: %w", name, err)
				return
			}
			p.backends = append(p.backends, name)
		}
		platform = p
	})
	return platform, platformErr
}

// CurrentPlatform returns the initialized platform
func CurrentPlatform() (*Platform, error) {
	if platform == nil {
		return nil, ErrPlatformNotInitialized
	}
	return platform, nil
}
