// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Policy bounds how an operation is retried. MaxRetries counts retries, so
// the operation runs at most MaxRetries+1 times.
type Policy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxJitter   time.Duration
}

func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if p.BaseBackoff < 0 || p.MaxBackoff < 0 || p.MaxJitter < 0 {
		return errors.New("backoff durations cannot be negative")
	}
	return nil
}

// Backoff returns the delay before retry number attempt (0-based) without
// jitter: BaseBackoff * 2^attempt, capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for range attempt {
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// ExhaustedError is returned once the retry budget is spent on retryable
// failures.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns an error isRetryable rejects, the
// budget runs out, or ctx is done. It reports how many attempts were made.
func Do[T any](ctx context.Context, p Policy, operation string, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, int, error) {
	var (
		result  T
		lastErr error
	)
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		result, lastErr = fn(ctx)
		if lastErr == nil {
			return result, attempt + 1, nil
		}
		if !isRetryable(lastErr) {
			return result, attempt + 1, lastErr
		}
		if attempt >= p.MaxRetries {
			break
		}

		wait := p.Backoff(attempt) + jitter(p.MaxJitter)
		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("max_retries", p.MaxRetries).
			With("backoff", wait).
			With("error", lastErr.Error()).
			Warn("Transient failure, retrying")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return result, attempt + 1, ctx.Err()
		case <-t.C:
		}
	}
	return result, p.MaxRetries + 1, &ExhaustedError{Operation: operation, Attempts: p.MaxRetries + 1, Err: lastErr}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
