package sandbox

import (
	"fmt"
	"sort"
	"sync"
)

// Backend names
const (
	BackendGoja = "goja"
	BackendV8   = "v8"
)

// Backend creates isolates of one virtual machine implementation
type Backend interface {
	// Name returns the configuration name of the backend
	Name() string
	// Init performs the process-wide initialization of the virtual machine.
	// It is called at most once, by InitPlatform.
	Init(opts PlatformOptions) error
	// NewIsolate creates a fresh isolate with the given heap limits
	NewIsolate(limits HeapLimits) (Isolate, error)
}

// Isolate is one throwaway virtual-machine instance. Apart from Terminate and
// HeapUsed, its methods must only be called from the goroutine that created it.
//
// Compile, DecodeArgs, Call, RequireAsync and Settle return *Error values of
// the matching Kind; any primitive returns errTerminated when execution was
// cut off by Terminate.
type Isolate interface {
	// InstallHost registers the host bridge in the global scope
	InstallHost(bridge *HostBridge) error
	// Compile evaluates source once and keeps its callable completion value
	Compile(source string) error
	// DecodeArgs parses the JSON argument payload inside the isolate
	DecodeArgs(payload string) error
	// Call invokes the compiled callable with the global object as receiver
	Call() error
	// RequireAsync checks that the call returned a promise
	RequireAsync() error
	// Pending reports whether the promise is still pending
	Pending() bool
	// Checkpoint runs one microtask checkpoint
	Checkpoint() error
	// Settle converts the settled promise into the engine output
	Settle() (string, error)
	// HeapUsed samples the heap usage in bytes; safe from any goroutine
	HeapUsed() uint64
	// Terminate forces the running execution to stop; safe from any goroutine
	Terminate()
	// Dispose releases the isolate
	Dispose()
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// RegisterBackend makes a backend available by name. Backends register
// themselves from init functions; registering a name twice panics.
func RegisterBackend(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, dup := backends[b.Name()]; dup {
		panic("sandbox: backend registered twice: " + b.Name())
	}
	backends[b.Name()] = b
}

// LookupBackend returns the registered backend with the given name
func LookupBackend(name string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	b, ok := backends[name]
	if !ok {
		if name == BackendV8 {
			return nil, fmt.Errorf("backend %q is not compiled in, rebuild with -tags v8", name)
		}
		return nil, fmt.Errorf("unsupported backend: %s", name)
	}
	return b, nil
}

// Backends returns the names of all registered backends, sorted
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
