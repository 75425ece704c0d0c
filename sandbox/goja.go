package sandbox

import (
	"errors"
	"fmt"
	"runtime/metrics"

	"github.com/dop251/goja"
)

const (
	gojaSourceName = "source.js"
	// heapObjectsMetric is the live plus unswept heap object bytes of the process
	heapObjectsMetric = "/memory/classes/heap/objects:bytes"
)

// gojaBackend runs scripts on the pure Go goja interpreter
type gojaBackend struct{}

func init() {
	RegisterBackend(gojaBackend{})
}

func (gojaBackend) Name() string { return BackendGoja }

func (gojaBackend) Init(PlatformOptions) error { return nil }

func (gojaBackend) NewIsolate(limits HeapLimits) (Isolate, error) {
	vm := goja.New()

	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is not callable")
	}
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return nil, errors.New("JSON.stringify is not callable")
	}

	// Running an empty program flushes the job queue
	checkpoint, err := goja.Compile("checkpoint.js", "", false)
	if err != nil {
		return nil, fmt.Errorf("failed to compile checkpoint program: %w", err)
	}

	return &gojaIsolate{
		vm:         vm,
		parse:      parse,
		stringify:  stringify,
		checkpoint: checkpoint,
		baseline:   sampleHeapObjects(),
	}, nil
}

type gojaIsolate struct {
	vm         *goja.Runtime
	parse      goja.Callable
	stringify  goja.Callable
	checkpoint *goja.Program

	fn      goja.Callable
	args    goja.Value
	result  goja.Value
	promise *goja.Promise

	baseline uint64
}

// terminated is the value passed to Interrupt
type terminated struct{}

func (g *gojaIsolate) InstallHost(bridge *HostBridge) error {
	return g.vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			return goja.Undefined()
		}
		body, ok := bridge.Fetch(arg.String())
		if !ok {
			return goja.Undefined()
		}
		return g.vm.ToValue(body)
	})
}

func (g *gojaIsolate) Compile(source string) (err error) {
	defer g.recoverInterrupt(&err)

	src, _ := wrapFunctionExpression(source)
	prog, err := goja.Compile(gojaSourceName, src, false)
	if err != nil {
		return newError(KindCompile, "%v", err)
	}

	val, err := g.vm.RunProgram(prog)
	if err != nil {
		return g.jsError(KindCompile, err)
	}

	fn, ok := goja.AssertFunction(val)
	if !ok {
		return newError(KindCompile, "script did not evaluate to a function, got: %s", describe(val))
	}
	g.fn = fn
	return nil
}

func (g *gojaIsolate) DecodeArgs(payload string) (err error) {
	defer g.recoverInterrupt(&err)

	val, err := g.parse(goja.Undefined(), g.vm.ToValue(payload))
	if err != nil {
		return g.jsError(KindArgument, err)
	}
	g.args = val
	return nil
}

func (g *gojaIsolate) Call() (err error) {
	defer g.recoverInterrupt(&err)

	ret, err := g.fn(g.vm.GlobalObject(), g.args)
	if err != nil {
		return g.jsError(KindCall, err)
	}
	g.result = ret
	return nil
}

func (g *gojaIsolate) RequireAsync() error {
	if g.result != nil {
		if p, ok := g.result.Export().(*goja.Promise); ok {
			g.promise = p
			return nil
		}
	}
	return newError(KindNotAsync, "function did not return a promise, got: %s", describe(g.result))
}

func (g *gojaIsolate) Pending() bool {
	return g.promise.State() == goja.PromiseStatePending
}

func (g *gojaIsolate) Checkpoint() (err error) {
	defer g.recoverInterrupt(&err)

	if _, err := g.vm.RunProgram(g.checkpoint); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return errTerminated
		}
		return newError(KindInternal, "microtask checkpoint failed: %v", err)
	}
	return nil
}

func (g *gojaIsolate) Settle() (out string, err error) {
	defer g.recoverInterrupt(&err)

	result := g.promise.Result()
	switch g.promise.State() {
	case goja.PromiseStateFulfilled:
		if _, isObject := result.(*goja.Object); !isObject {
			return result.String(), nil
		}
		encoded, err := g.stringify(goja.Undefined(), result)
		if err != nil {
			return "", g.jsError(KindSerialize, err)
		}
		return encoded.String(), nil
	case goja.PromiseStateRejected:
		return "", newError(KindRejected, "%s", describe(result))
	default:
		return "", newError(KindInternal, "promise is still pending")
	}
}

// HeapUsed approximates the isolate's heap as the growth of the process heap
// since the isolate was created. goja allocates on the Go heap and has no
// per-runtime accounting.
func (g *gojaIsolate) HeapUsed() uint64 {
	current := sampleHeapObjects()
	if current <= g.baseline {
		return 0
	}
	return current - g.baseline
}

func (g *gojaIsolate) Terminate() {
	g.vm.Interrupt(terminated{})
}

func (g *gojaIsolate) Dispose() {
	g.vm.ClearInterrupt()
	g.fn, g.args, g.result, g.promise = nil, nil, nil, nil
}

// jsError converts a goja error to an engine error of the given kind
func (g *gojaIsolate) jsError(kind Kind, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return errTerminated
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return newError(kind, "%s", describe(exception.Value()))
	}
	return newError(kind, "%v", err)
}

// recoverInterrupt turns an interrupt that unwound as a panic into errTerminated
func (g *gojaIsolate) recoverInterrupt(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if _, ok := r.(*goja.InterruptedError); ok {
		*err = errTerminated
		return
	}
	panic(r)
}

// describe renders a script value for error messages
func describe(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	return v.String()
}

func sampleHeapObjects() uint64 {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}
