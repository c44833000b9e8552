package retry

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tempErr struct{ retryable bool }

func (e *tempErr) Error() string   { return "temp" }
func (e *tempErr) Retryable() bool { return e.retryable }

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&tempErr{retryable: true}))
	assert.False(t, IsRetryable(&tempErr{retryable: false}))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsRetryable(errors.Wrap(&tempErr{retryable: true}, "wrapped")))
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), 5*time.Second, func() error {
		attempts++
		if attempts < 3 {
			return &tempErr{retryable: true}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	sentinel := errors.New("validation failed")
	attempts := 0
	err := Do(context.Background(), 5*time.Second, func() error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, time.Minute, func() error {
		return &tempErr{retryable: true}
	})
	require.Error(t, err)
}
