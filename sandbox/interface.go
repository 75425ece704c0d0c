package sandbox

import (
	"context"
	"time"
)

// ExecuteRequest represents the parameters for one script execution
type ExecuteRequest struct {
	// Source must evaluate to a callable returning a promise
	Source string
	// Args is a JSON payload passed to the callable as its single argument
	Args string
	// Timeout bounds the wall-clock time of the execution; zero means the
	// configured default
	Timeout time.Duration
}

// ExecuteResult represents the result of a successful execution
type ExecuteResult struct {
	ID       string
	Output   string
	Backend  string
	Duration time.Duration
}

// Executor runs untrusted scripts in throwaway isolates. Failures are
// returned as *Error values.
type Executor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// Engine defaults
const (
	DefaultTimeout          = 100 * time.Millisecond
	DefaultInitialHeapBytes = 16 << 20
	DefaultMaxHeapBytes     = 64 << 20
	DefaultArgs             = "null"
)
