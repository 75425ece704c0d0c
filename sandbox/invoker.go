package sandbox

import (
	"errors"
	"runtime"
	"time"
)

// Drain backoff: spin first, then yield the thread, then sleep
const (
	drainSpinIterations  = 64
	drainYieldIterations = 256
	drainSleepStep       = 10 * time.Microsecond
	drainMaxSleep        = time.Millisecond
)

// invoke runs the compile, call and settle pipeline inside iso. Any step that
// fails after termination was requested reports the termination cause.
func invoke(iso Isolate, handle *CancellationHandle, source, args string) (string, error) {
	out, err := pipeline(iso, handle, source, args)
	if err != nil {
		return "", classify(handle, err)
	}
	return out, nil
}

func pipeline(iso Isolate, handle *CancellationHandle, source, args string) (string, error) {
	if handle.Requested() {
		return "", errTerminated
	}
	if err := iso.Compile(source); err != nil {
		return "", err
	}
	if err := iso.DecodeArgs(args); err != nil {
		return "", err
	}
	if err := iso.Call(); err != nil {
		return "", err
	}
	if err := iso.RequireAsync(); err != nil {
		return "", err
	}
	if err := drain(iso, handle); err != nil {
		return "", err
	}
	return iso.Settle()
}

// drain performs microtask checkpoints until the promise settles or
// termination is requested
func drain(iso Isolate, handle *CancellationHandle) error {
	for idle := 0; iso.Pending(); idle++ {
		if handle.Requested() {
			return errTerminated
		}
		if err := iso.Checkpoint(); err != nil {
			return err
		}
		backoff(idle)
	}
	return nil
}

func backoff(idle int) {
	switch {
	case idle < drainSpinIterations:
	case idle < drainYieldIterations:
		runtime.Gosched()
	default:
		d := time.Duration(idle-drainYieldIterations+1) * drainSleepStep
		if d > drainMaxSleep {
			d = drainMaxSleep
		}
		time.Sleep(d)
	}
}

func classify(handle *CancellationHandle, err error) error {
	if handle.Requested() {
		return handle.Err()
	}
	if errors.Is(err, errTerminated) {
		return newError(KindInternal, "execution terminated without a recorded cause")
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(KindInternal, "%v", err)
}
