package sandbox

import (
	"sync"
	"sync/atomic"
	"time"
)

// HeapLimits are the initial and maximum heap sizes of an isolate, in bytes
type HeapLimits struct {
	Initial uint64
	Max     uint64
}

// MemoryLimitContext pairs a cancellation handle with the callback invoked
// when an isolate's heap approaches its ceiling. It lives exactly as long as
// the isolate it watches.
type MemoryLimitContext struct {
	handle  *CancellationHandle
	initial uint64
	ceiling atomic.Uint64
	hits    atomic.Int32

	// onLimit is notified after every callback invocation, for metrics
	onLimit func()

	stop chan struct{}
	wg   sync.WaitGroup
}

func newMemoryLimitContext(handle *CancellationHandle, limits HeapLimits, onLimit func()) *MemoryLimitContext {
	m := &MemoryLimitContext{
		handle:  handle,
		initial: limits.Initial,
		onLimit: onLimit,
		stop:    make(chan struct{}),
	}
	m.ceiling.Store(limits.Max)
	return m
}

// NearHeapLimit requests termination of the running execution and returns
// double the current ceiling, so the allocator keeps working while the
// termination reaches the next safe point.
func (m *MemoryLimitContext) NearHeapLimit(current, _ uint64) uint64 {
	m.handle.Terminate(CauseMemory)
	m.hits.Add(1)
	if m.onLimit != nil {
		m.onLimit()
	}
	return current * 2
}

// Ceiling returns the heap size that triggers the next callback
func (m *MemoryLimitContext) Ceiling() uint64 {
	return m.ceiling.Load()
}

// Hits returns how many times the callback fired
func (m *MemoryLimitContext) Hits() int {
	return int(m.hits.Load())
}

// watch samples the heap every interval and fires NearHeapLimit whenever
// usage reaches the ceiling. sample must be safe to call from any goroutine.
func (m *MemoryLimitContext) watch(sample func() uint64, interval time.Duration) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				ceiling := m.ceiling.Load()
				if sample() >= ceiling {
					m.ceiling.Store(m.NearHeapLimit(ceiling, m.initial))
				}
			}
		}
	}()
}

// close stops the watcher and waits for it to exit
func (m *MemoryLimitContext) close() {
	close(m.stop)
	m.wg.Wait()
}
