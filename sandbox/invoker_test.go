package sandbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoke(t *testing.T) {
	t.Run("DrainsUntilSettled", func(t *testing.T) {
		iso := newFakeIsolate()
		iso.pending.Store(300)

		out, err := invoke(iso, NewCancellationHandle(), "src", "null")
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Less(t, iso.pending.Load(), int32(0))
	})

	t.Run("StepErrorPassesThrough", func(t *testing.T) {
		iso := newFakeIsolate()
		iso.compile = func(string) error { return newError(KindCompile, "unexpected end of input") }

		_, err := invoke(iso, NewCancellationHandle(), "function(", "null")
		assert.ErrorIs(t, err, ErrCompile)
	})

	t.Run("DrainStopsOnTermination", func(t *testing.T) {
		iso := newFakeIsolate()
		iso.pending.Store(1 << 30)
		h := NewCancellationHandle()
		iso.settle = func() (string, error) {
			t.Fatal("settled a pending promise")
			return "", nil
		}

		iso.compile = func(string) error {
			h.Terminate(CauseMemory)
			return nil
		}
		_, err := invoke(iso, h, "src", "null")
		assert.ErrorIs(t, err, ErrMemoryLimit)
	})

	t.Run("TerminationOverridesStepError", func(t *testing.T) {
		iso := newFakeIsolate()
		h := NewCancellationHandle()
		iso.compile = func(string) error {
			h.Terminate(CauseTimeout)
			return newError(KindCall, "uncatchable")
		}

		_, err := invoke(iso, h, "src", "null")
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("TerminatedWithoutCause", func(t *testing.T) {
		iso := newFakeIsolate()
		iso.compile = func(string) error { return errTerminated }

		_, err := invoke(iso, NewCancellationHandle(), "src", "null")
		assert.ErrorIs(t, err, ErrInternal)
	})

	t.Run("UntypedErrorIsInternal", func(t *testing.T) {
		iso := newFakeIsolate()
		iso.settle = func() (string, error) { return "", errors.New("broken") }

		_, err := invoke(iso, NewCancellationHandle(), "src", "null")
		assert.ErrorIs(t, err, ErrInternal)
		assert.Contains(t, err.Error(), "broken")
	})
}
