package sandbox

import (
	"errors"
	"fmt"
)

// Kind classifies an execution failure
type Kind string

// Execution failure kinds
const (
	KindCompile     Kind = "compile"
	KindArgument    Kind = "argument"
	KindCall        Kind = "call"
	KindNotAsync    Kind = "not_async"
	KindRejected    Kind = "rejected"
	KindSerialize   Kind = "serialize"
	KindTimeout     Kind = "timeout"
	KindMemoryLimit Kind = "memory_limit"
	KindCanceled    Kind = "canceled"
	KindCapacity    Kind = "capacity"
	KindInternal    Kind = "internal"
)

// Sentinels for errors.Is, one per Kind
var (
	ErrCompile     = &Error{Kind: KindCompile}
	ErrArgument    = &Error{Kind: KindArgument}
	ErrCall        = &Error{Kind: KindCall}
	ErrNotAsync    = &Error{Kind: KindNotAsync}
	ErrRejected    = &Error{Kind: KindRejected}
	ErrSerialize   = &Error{Kind: KindSerialize}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrMemoryLimit = &Error{Kind: KindMemoryLimit}
	ErrCanceled    = &Error{Kind: KindCanceled}
	ErrCapacity    = &Error{Kind: KindCapacity}
	ErrInternal    = &Error{Kind: KindInternal}
)

// Error is the failure outcome of one execution
type Error struct {
	Kind    Kind
	Message string
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind) + " error"
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Is reports whether target is an *Error of the same Kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// errTerminated is returned by isolate primitives when execution was cut off
// through the cancellation handle. The invoker replaces it with the cause.
var errTerminated = errors.New("execution terminated")
