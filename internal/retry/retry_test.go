package retry_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalnine/arbiter/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		MaxJitter:   time.Millisecond,
	}
}

func always(error) bool { return true }

func TestDoSucceedsAfterRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	got, attempts, err := retry.Do(context.Background(), testPolicy(), "judge", always, func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("503")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
}

func TestDoExhausted(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	cause := errors.New("429")
	_, attempts, err := retry.Do(context.Background(), testPolicy(), "judge", always, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	var ex *retry.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoNonRetryable(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	cause := errors.New("401")
	_, attempts, err := retry.Do(context.Background(), testPolicy(), "judge", func(error) bool { return false }, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, cause
	})
	assert.Equal(t, cause, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	p := testPolicy()
	p.BaseBackoff = time.Hour
	p.MaxBackoff = time.Hour
	_, _, err := retry.Do(ctx, p, "judge", always, func(context.Context) (int, error) {
		cancel()
		return 0, errors.New("timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	p := retry.Policy{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 5*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(62))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, testPolicy().Validate())
	assert.Error(t, retry.Policy{MaxRetries: -1}.Validate())
	assert.Error(t, retry.Policy{BaseBackoff: -time.Second}.Validate())
}
