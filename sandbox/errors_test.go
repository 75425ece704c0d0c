package sandbox

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("Message", func(t *testing.T) {
		err := newError(KindRejected, "%s", "bad")
		assert.Equal(t, "rejected error: bad", err.Error())
		assert.Equal(t, "timeout error", ErrTimeout.Error())
	})

	t.Run("IsMatchesKind", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", newError(KindCompile, "unexpected token"))
		assert.ErrorIs(t, err, ErrCompile)
		assert.NotErrorIs(t, err, ErrCall)
	})

	t.Run("KindOf", func(t *testing.T) {
		assert.Equal(t, KindMemoryLimit, KindOf(newError(KindMemoryLimit, "heap")))
		assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	})
}
