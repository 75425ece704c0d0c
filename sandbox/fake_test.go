package sandbox

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeBackend hands out fakeIsolates built by newIsolate
type fakeBackend struct {
	newIsolate func(HeapLimits) (Isolate, error)
}

func (fakeBackend) Name() string { return "fake" }

func (fakeBackend) Init(PlatformOptions) error { return nil }

func (b fakeBackend) NewIsolate(limits HeapLimits) (Isolate, error) {
	return b.newIsolate(limits)
}

// fakeIsolate succeeds at every step unless a hook says otherwise
type fakeIsolate struct {
	compile  func(string) error
	settle   func() (string, error)
	heapUsed atomic.Uint64

	pending    atomic.Int32 // remaining pending polls
	terminates atomic.Int32
	terminated chan struct{}
	termOnce   sync.Once
	disposed   atomic.Bool
	bridge     *HostBridge
}

func newFakeIsolate() *fakeIsolate {
	return &fakeIsolate{terminated: make(chan struct{})}
}

func (f *fakeIsolate) InstallHost(bridge *HostBridge) error {
	f.bridge = bridge
	return nil
}

func (f *fakeIsolate) Compile(source string) error {
	if f.compile != nil {
		return f.compile(source)
	}
	return nil
}

func (f *fakeIsolate) DecodeArgs(string) error { return nil }

func (f *fakeIsolate) Call() error { return nil }

func (f *fakeIsolate) RequireAsync() error { return nil }

func (f *fakeIsolate) Pending() bool {
	return f.pending.Add(-1) >= 0
}

func (f *fakeIsolate) Checkpoint() error { return nil }

func (f *fakeIsolate) Settle() (string, error) {
	if f.settle != nil {
		return f.settle()
	}
	return "ok", nil
}

func (f *fakeIsolate) HeapUsed() uint64 { return f.heapUsed.Load() }

func (f *fakeIsolate) Terminate() {
	f.terminates.Add(1)
	f.termOnce.Do(func() { close(f.terminated) })
}

func (f *fakeIsolate) Dispose() { f.disposed.Store(true) }

// blockUntilTerminated is a compile hook that behaves like a script stuck in
// a loop until its isolate is terminated
func (f *fakeIsolate) blockUntilTerminated(string) error {
	<-f.terminated
	return errTerminated
}

func singleIsolate(iso Isolate) fakeBackend {
	return fakeBackend{newIsolate: func(HeapLimits) (Isolate, error) { return iso, nil }}
}

func testGuardOptions() GuardOptions {
	return GuardOptions{
		Limits:         HeapLimits{Initial: DefaultInitialHeapBytes, Max: DefaultMaxHeapBytes},
		PoolSize:       4,
		DefaultTimeout: time.Second,
		MaxTimeout:     5 * time.Second,
		PollInterval:   time.Millisecond,
		ReapInterval:   5 * time.Millisecond,
		ReapGrace:      time.Second,
	}
}

func newTestGuard(t *testing.T, backend Backend, fetcher Fetcher, opts GuardOptions) (*Guard, *Metrics) {
	t.Helper()

	metrics := NewMetrics(prometheus.NewRegistry())
	guard, err := NewGuard(zaptest.NewLogger(t), backend, fetcher, metrics, opts)
	require.NoError(t, err)
	return guard, metrics
}
