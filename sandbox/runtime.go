package sandbox

import (
	"fmt"
	"time"
)

// isolateRuntime owns one throwaway isolate together with its memory-limit
// watcher and the host bridge installed into it
type isolateRuntime struct {
	iso    Isolate
	handle *CancellationHandle
	memory *MemoryLimitContext
}

type runtimeOptions struct {
	backend      Backend
	limits       HeapLimits
	fetcher      Fetcher
	pollInterval time.Duration
	onLimit      func()
}

func newIsolateRuntime(opts runtimeOptions, handle *CancellationHandle) (*isolateRuntime, error) {
	iso, err := opts.backend.NewIsolate(opts.limits)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s isolate: %w", opts.backend.Name(), err)
	}

	rt := &isolateRuntime{
		iso:    iso,
		handle: handle,
		memory: newMemoryLimitContext(handle, opts.limits, opts.onLimit),
	}
	handle.bind(iso.Terminate)

	if err := iso.InstallHost(newHostBridge(opts.fetcher, handle)); err != nil {
		handle.unbind()
		iso.Dispose()
		return nil, fmt.Errorf("failed to install host bridge: %w", err)
	}

	rt.memory.watch(iso.HeapUsed, opts.pollInterval)
	return rt, nil
}

// close stops the watcher and detaches the handle before the isolate is
// disposed, so no terminate request can reach a disposed isolate
func (rt *isolateRuntime) close() {
	rt.memory.close()
	rt.handle.unbind()
	rt.iso.Dispose()
}
