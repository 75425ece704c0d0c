package sandbox

import (
	"context"
	"sync"
	"sync/atomic"
)

// Cause records why an execution was terminated
type Cause int32

// Termination causes
const (
	CauseNone Cause = iota
	CauseTimeout
	CauseMemory
	CauseCanceled
)

// String returns the log name of the cause
func (c Cause) String() string {
	switch c {
	case CauseTimeout:
		return "timeout"
	case CauseMemory:
		return "memory"
	case CauseCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// CancellationHandle requests forced termination of an isolate's execution.
// It is safe for concurrent use and every method is idempotent. The handle
// does not own the isolate: once the isolate is disposed, Terminate only
// records the cause.
type CancellationHandle struct {
	cause atomic.Int32

	mu        sync.Mutex
	terminate func()

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCancellationHandle creates a handle that is not yet bound to an isolate
func NewCancellationHandle() *CancellationHandle {
	ctx, cancel := context.WithCancel(context.Background())
	return &CancellationHandle{ctx: ctx, cancel: cancel}
}

// Terminate requests termination with the given cause. The first cause wins;
// later calls re-issue the request to the isolate without changing it. It
// reports whether this call recorded the cause.
func (h *CancellationHandle) Terminate(cause Cause) bool {
	first := h.cause.CompareAndSwap(int32(CauseNone), int32(cause))
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminate != nil {
		h.terminate()
	}
	return first
}

// Requested reports whether termination has been requested
func (h *CancellationHandle) Requested() bool {
	return h.Cause() != CauseNone
}

// Cause returns the cause recorded by the first Terminate call
func (h *CancellationHandle) Cause() Cause {
	return Cause(h.cause.Load())
}

// Context is cancelled as soon as termination is requested
func (h *CancellationHandle) Context() context.Context {
	return h.ctx
}

// Err converts the recorded cause to the matching execution error
func (h *CancellationHandle) Err() error {
	switch h.Cause() {
	case CauseTimeout:
		return newError(KindTimeout, "execution exceeded its deadline")
	case CauseMemory:
		return newError(KindMemoryLimit, "execution exceeded the heap limit")
	case CauseCanceled:
		return newError(KindCanceled, "execution canceled by caller")
	default:
		return nil
	}
}

// bind attaches the isolate's terminate primitive. A request made before
// binding is replayed immediately.
func (h *CancellationHandle) bind(terminate func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminate = terminate
	if h.Requested() {
		terminate()
	}
}

// unbind detaches the isolate. It must happen before the isolate is disposed.
func (h *CancellationHandle) unbind() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminate = nil
}

// release frees the handle's context once the worker is done with it
func (h *CancellationHandle) release() {
	h.cancel()
}
