//go:build v8

package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestV8Engine(t *testing.T) {
	g, _ := newTestGuard(t, v8Backend{}, nil, testGuardOptions())
	runEngineCases(t, g)
}

func TestV8Timeout(t *testing.T) {
	g, metrics := newTestGuard(t, v8Backend{}, nil, testGuardOptions())

	_, err := g.Execute(context.Background(), ExecuteRequest{
		Source:  "function(){ while(true){} }",
		Args:    "null",
		Timeout: 50 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrTimeout)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WorkersAbandoned) == 0
	}, 2*time.Second, time.Millisecond)
}

func TestV8MemoryLimit(t *testing.T) {
	opts := testGuardOptions()
	opts.Limits = HeapLimits{Initial: 4 << 20, Max: 32 << 20}
	opts.MaxTimeout = time.Minute
	g, _ := newTestGuard(t, v8Backend{}, nil, opts)

	_, err := g.Execute(context.Background(), ExecuteRequest{
		Source:  "function(){ var a = []; while(true){ a.push(new Array(100000).fill(0)); } }",
		Args:    "null",
		Timeout: 30 * time.Second,
	})
	assert.ErrorIs(t, err, ErrMemoryLimit)
}
