// Package sandbox provides the script execution engine.
//
// Every request runs in a fresh, throwaway isolate owned by a worker
// goroutine locked to its OS thread. The script source must evaluate to a
// callable; the callable is invoked with the parsed JSON argument and must
// return a promise, which is drained to settlement and serialized back to a
// string. The only host capability visible to scripts is a synchronous
// fetch(url) that returns the response body or undefined.
//
// Three sources can cut an execution short: script errors, the heap limit
// watched by MemoryLimitContext, and the wall-clock deadline enforced by the
// Guard. The latter two request termination through a CancellationHandle.
// Every failure reaches the caller as an *Error with a Kind.
//
// Two backends exist: goja, compiled in by default, and v8, compiled in with
// the v8 build tag.
//
// Usage:
//
//	executor, err := sandbox.NewExecutor(logger, cfg, sandbox.NewMetrics(reg))
//	result, err := executor.Execute(ctx, sandbox.ExecuteRequest{
//	    Source:  "async function(x) { return x + 1 }",
//	    Args:    "41",
//	    Timeout: 100 * time.Millisecond,
//	})
package sandbox
