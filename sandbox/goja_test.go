package sandbox

import (
	"context"
	"fmt"
	"runtime/metrics"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// engineCase is shared by the backend suites
type engineCase struct {
	name   string
	source string
	args   string
	want   string
	err    error
	substr string
}

var engineCases = []engineCase{
	{name: "Increment", source: "function(x){ return Promise.resolve(x+1); }", args: "41", want: "42"},
	{name: "ArgumentRoundTrip", source: "function(x){ return Promise.resolve(x); }", args: "[1,2,3]", want: "[1,2,3]"},
	{name: "AsyncFunction", source: "async function(x){ return x.name + '!' }", args: `{"name":"box"}`, want: "box!"},
	{name: "ArrowFunction", source: "async (x) => ({ a: x, b: [true, null] })", args: "1", want: `{"a":1,"b":[true,null]}`},
	{name: "ScriptCompletionValue", source: "const f = async (x) => x * 3;\nf", args: "3", want: "9"},
	{name: "Microtasks", source: "async function(x){ await null; await Promise.resolve(); return x * 2 }", args: "21", want: "42"},
	{name: "UndefinedResult", source: "async function(){}", args: "null", want: "undefined"},
	{name: "GlobalReceiver", source: "function(){ return Promise.resolve(this === globalThis) }", args: "null", want: "true"},
	{name: "OnlyFetchIsInstalled", source: "async function(){ return [typeof fetch, typeof require, typeof process].join() }", args: "null", want: "function,undefined,undefined"},
	{
		name:   "CapturedStringify",
		source: "function(){ JSON.stringify = function(){ return 'hijacked' }; return Promise.resolve({a:1}) }",
		args:   "null",
		want:   `{"a":1}`,
	},
	{
		name:   "CapturedParse",
		source: "JSON.parse = function(){ return 0 };\n(function(x){ return Promise.resolve(x) })",
		args:   "[1]",
		want:   "[1]",
	},

	{name: "Rejected", source: "function(){ return Promise.reject('bad'); }", args: "null", err: ErrRejected, substr: "bad"},
	{name: "RejectedWithError", source: "async function(){ throw new Error('nope') }", args: "null", err: ErrRejected, substr: "nope"},
	{name: "SyntaxError", source: "function(", args: "null", err: ErrCompile},
	{name: "NotCallable", source: "42", args: "null", err: ErrCompile},
	{name: "UnbalancedParenthesis", source: "1), (async () => 5", args: "null", err: ErrCompile},
	{name: "TrailingParenthesis", source: "async function(){ return 1 })", args: "null", err: ErrCompile},
	{name: "ThrowsDuringCompile", source: "throw new Error('early')", args: "null", err: ErrCompile, substr: "early"},
	{name: "MalformedArgs", source: "async function(x){ return x }", args: "{bad", err: ErrArgument},
	{name: "EmptyArgs", source: "async function(x){ return x }", args: "", err: ErrArgument},
	{name: "CallThrows", source: "function(){ throw new Error('boom') }", args: "null", err: ErrCall, substr: "boom"},
	{name: "NotAsync", source: "function(x){ return x }", args: "1", err: ErrNotAsync},
	{name: "CyclicResult", source: "async function(){ const a = {}; a.self = a; return a }", args: "null", err: ErrSerialize},
}

func runEngineCases(t *testing.T, g *Guard) {
	t.Helper()

	for _, tc := range engineCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.Execute(context.Background(), ExecuteRequest{
				Source:  tc.source,
				Args:    tc.args,
				Timeout: time.Second,
			})
			if tc.err != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.err)
				if tc.substr != "" {
					assert.Contains(t, err.Error(), tc.substr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Output)
		})
	}
}

func newGojaGuard(t *testing.T, fetcher Fetcher, opts GuardOptions) (*Guard, *Metrics) {
	t.Helper()
	return newTestGuard(t, gojaBackend{}, fetcher, opts)
}

func TestGojaEngine(t *testing.T) {
	g, _ := newGojaGuard(t, nil, testGuardOptions())
	runEngineCases(t, g)
}

func TestGojaFreshIsolatePerRequest(t *testing.T) {
	g, _ := newGojaGuard(t, nil, testGuardOptions())
	ctx := context.Background()

	_, err := g.Execute(ctx, ExecuteRequest{Source: "async function(){ globalThis.leak = 1; return 1 }", Args: "null"})
	require.NoError(t, err)

	res, err := g.Execute(ctx, ExecuteRequest{Source: "async function(){ return typeof leak }", Args: "null"})
	require.NoError(t, err)
	assert.Equal(t, "undefined", res.Output)
}

func TestGojaFetch(t *testing.T) {
	srv := newTestServer(t)
	fetcher := NewHTTPFetcher(zaptest.NewLogger(t), testFetcherOptions(), nil)
	g, _ := newGojaGuard(t, fetcher, testGuardOptions())
	ctx := context.Background()

	t.Run("Body", func(t *testing.T) {
		res, err := g.Execute(ctx, ExecuteRequest{
			Source:  "async function(u){ return fetch(u) }",
			Args:    fmt.Sprintf("%q", srv.URL+"/ok"),
			Timeout: 2 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "hello scriptbox-test", res.Output)
	})

	t.Run("UnreachableIsUndefined", func(t *testing.T) {
		res, err := g.Execute(ctx, ExecuteRequest{
			Source:  "async function(){ return fetch('http://127.0.0.1:1/') === undefined }",
			Args:    "null",
			Timeout: 2 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "true", res.Output)
	})

	t.Run("ErrorStatusIsUndefined", func(t *testing.T) {
		res, err := g.Execute(ctx, ExecuteRequest{
			Source:  "async function(u){ return typeof fetch(u) }",
			Args:    fmt.Sprintf("%q", srv.URL+"/missing"),
			Timeout: 2 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "undefined", res.Output)
	})

	t.Run("MissingArgumentIsUndefined", func(t *testing.T) {
		res, err := g.Execute(ctx, ExecuteRequest{
			Source:  "async function(){ return typeof fetch() }",
			Args:    "null",
			Timeout: 2 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "undefined", res.Output)
	})
}

func TestGojaTimeout(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"InfiniteLoop", "function(){ while(true){} }"},
		{"NeverSettles", "function(){ return new Promise(function(){}) }"},
		{"LoopInMicrotask", "async function(){ await null; for(;;){} }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, m := newGojaGuard(t, nil, testGuardOptions())

			start := time.Now()
			_, err := g.Execute(context.Background(), ExecuteRequest{
				Source:  tt.source,
				Args:    "null",
				Timeout: 50 * time.Millisecond,
			})
			assert.ErrorIs(t, err, ErrTimeout)
			assert.Less(t, time.Since(start), 500*time.Millisecond)

			// The abandoned worker is terminated and exits
			require.Eventually(t, func() bool {
				return testutil.ToFloat64(m.WorkersAbandoned) == 0
			}, 2*time.Second, time.Millisecond)
		})
	}
}

func TestGojaMemoryLimit(t *testing.T) {
	opts := testGuardOptions()
	opts.Limits = HeapLimits{Initial: 4 << 20, Max: 32 << 20}
	opts.MaxTimeout = time.Minute
	g, m := newGojaGuard(t, nil, opts)

	budget := 5 * time.Second
	start := time.Now()
	_, err := g.Execute(context.Background(), ExecuteRequest{
		Source:  "function(){ var a = []; while(true){ a.push(new Array(100000).fill(0)); } }",
		Args:    "null",
		Timeout: budget,
	})
	assert.ErrorIs(t, err, ErrMemoryLimit)
	assert.Less(t, time.Since(start), budget)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.MemoryLimitHits), float64(1))
}

func TestSampleHeapObjects(t *testing.T) {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	require.Equal(t, metrics.KindUint64, sample[0].Value.Kind())

	assert.Positive(t, sampleHeapObjects())
}

func TestGojaHeapUsed(t *testing.T) {
	iso, err := gojaBackend{}.NewIsolate(HeapLimits{Initial: DefaultInitialHeapBytes, Max: DefaultMaxHeapBytes})
	require.NoError(t, err)
	defer iso.Dispose()

	// 20 arrays of 100000 slots stay reachable from the global object
	require.NoError(t, iso.Compile(`async function(n){
		globalThis.retained = [];
		for (var i = 0; i < n; i++) { retained.push(new Array(100000).fill(i)); }
		return retained.length;
	}`))
	require.NoError(t, iso.DecodeArgs("20"))

	before := iso.HeapUsed()
	require.NoError(t, iso.Call())
	require.NoError(t, iso.RequireAsync())
	for iso.Pending() {
		require.NoError(t, iso.Checkpoint())
	}
	out, err := iso.Settle()
	require.NoError(t, err)
	assert.Equal(t, "20", out)

	assert.Greater(t, iso.HeapUsed(), before+16<<20)
}

func TestWrapFunctionExpression(t *testing.T) {
	tests := []struct {
		source  string
		wrapped bool
	}{
		{"function(x){ return x }", true},
		{"async function(x){ return x }", true},
		{"function* gen(){ yield 1 }", true},
		{"(x) => x", true},
		{"async x => x", true},
		{"  // leading comment\n async () => 1  ", true},
		{"1), (async () => 5", false},
		{"async function(){ return 1 })", false},
		{"const f = async (x) => x;\nf", false},
		{"42", false},
		{"function(", false},
		{"f, function(){}", false},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got, ok := wrapFunctionExpression(tt.source)
			assert.Equal(t, tt.wrapped, ok)
			if ok {
				assert.Equal(t, "(\n"+tt.source+"\n)", got)
			} else {
				assert.Equal(t, tt.source, got)
			}
		})
	}
}
