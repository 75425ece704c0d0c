//go:build v8

package sandbox

import (
	"errors"
	"fmt"
	"strings"

	v8 "github.com/tommie/v8go"
)

const v8SourceName = "source.js"

// v8Backend runs scripts on V8 through cgo. The hard heap limit handed to V8
// is a multiple of the configured maximum so the heap watcher trips first.
type v8Backend struct{}

const v8HardLimitFactor = 4

func init() {
	RegisterBackend(v8Backend{})
}

func (v8Backend) Name() string { return BackendV8 }

func (v8Backend) Init(opts PlatformOptions) error {
	if len(opts.V8Flags) > 0 {
		v8.SetFlags(opts.V8Flags...)
	}
	return nil
}

func (v8Backend) NewIsolate(limits HeapLimits) (Isolate, error) {
	iso := v8.NewIsolate(v8.WithResourceConstraints(limits.Initial, limits.Max*v8HardLimitFactor))
	ctx := v8.NewContext(iso)
	return &v8Isolate{iso: iso, ctx: ctx}, nil
}

type v8Isolate struct {
	iso *v8.Isolate
	ctx *v8.Context

	fn      *v8.Function
	args    *v8.Value
	result  *v8.Value
	promise *v8.Promise
}

func (i *v8Isolate) InstallHost(bridge *HostBridge) error {
	tmpl := v8.NewFunctionTemplate(i.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) == 0 || args[0].IsUndefined() || args[0].IsNull() {
			return v8.Undefined(i.iso)
		}
		body, ok := bridge.Fetch(args[0].String())
		if !ok {
			return v8.Undefined(i.iso)
		}
		val, err := v8.NewValue(i.iso, body)
		if err != nil {
			return v8.Undefined(i.iso)
		}
		return val
	})
	return i.ctx.Global().Set("fetch", tmpl.GetFunction(i.ctx))
}

func (i *v8Isolate) Compile(source string) error {
	src, _ := wrapFunctionExpression(source)
	script, err := i.iso.CompileUnboundScript(src, v8SourceName, v8.CompileOptions{})
	if err != nil {
		return i.jsError(KindCompile, err)
	}

	val, err := script.Run(i.ctx)
	if err != nil {
		return i.jsError(KindCompile, err)
	}
	if !val.IsFunction() {
		return newError(KindCompile, "script did not evaluate to a function, got: %s", val.String())
	}
	fn, err := val.AsFunction()
	if err != nil {
		return newError(KindCompile, "%v", err)
	}
	i.fn = fn
	return nil
}

func (i *v8Isolate) DecodeArgs(payload string) error {
	val, err := v8.JSONParse(i.ctx, payload)
	if err != nil {
		return i.jsError(KindArgument, err)
	}
	i.args = val
	return nil
}

func (i *v8Isolate) Call() error {
	ret, err := i.fn.Call(i.ctx.Global(), i.args)
	if err != nil {
		return i.jsError(KindCall, err)
	}
	i.result = ret
	return nil
}

func (i *v8Isolate) RequireAsync() error {
	if i.result == nil || !i.result.IsPromise() {
		got := "undefined"
		if i.result != nil {
			got = i.result.String()
		}
		return newError(KindNotAsync, "function did not return a promise, got: %s", got)
	}
	promise, err := i.result.AsPromise()
	if err != nil {
		return newError(KindNotAsync, "%v", err)
	}
	i.promise = promise
	return nil
}

func (i *v8Isolate) Pending() bool {
	return i.promise.State() == v8.Pending
}

func (i *v8Isolate) Checkpoint() error {
	i.ctx.PerformMicrotaskCheckpoint()
	if i.iso.IsExecutionTerminating() {
		return errTerminated
	}
	return nil
}

func (i *v8Isolate) Settle() (string, error) {
	result := i.promise.Result()
	switch i.promise.State() {
	case v8.Fulfilled:
		if !result.IsObject() {
			return result.String(), nil
		}
		encoded, err := v8.JSONStringify(i.ctx, result)
		if err != nil {
			return "", i.jsError(KindSerialize, err)
		}
		return encoded, nil
	case v8.Rejected:
		return "", newError(KindRejected, "%s", result.String())
	default:
		return "", newError(KindInternal, "promise is still pending")
	}
}

// HeapUsed reads V8's heap counters from the watcher goroutine
func (i *v8Isolate) HeapUsed() uint64 {
	// No Locker here. The counters are readable while the worker runs,
	// and a Locker would wait until the script yields.
	return i.iso.GetHeapStatistics().UsedHeapSize
}

func (i *v8Isolate) Terminate() {
	i.iso.TerminateExecution()
}

func (i *v8Isolate) Dispose() {
	i.fn, i.args, i.result, i.promise = nil, nil, nil, nil
	i.ctx.Close()
	i.iso.Dispose()
}

func (i *v8Isolate) jsError(kind Kind, err error) error {
	var jsErr *v8.JSError
	if errors.As(err, &jsErr) {
		if strings.Contains(jsErr.Message, "ExecutionTerminated") {
			return errTerminated
		}
		return newError(kind, "%s", jsErr.Message)
	}
	if i.iso.IsExecutionTerminating() {
		return errTerminated
	}
	return newError(kind, "%s", fmt.Sprint(err))
}
