package cache

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by the registry clients.
var (
	// ErrNotFound means the upstream has no such resource.
	ErrNotFound = errors.New("not found")

	// ErrNetwork covers timeouts, connection errors and 5xx responses.
	ErrNetwork = errors.New("network error")
)

// MaxRetryDelay caps a single wait between attempts, including waits
// requested by the upstream through Retry-After.
const MaxRetryDelay = 30 * time.Second

// RetryableError marks an error as transient. After, when set, is the wait
// the upstream asked for and replaces the computed backoff for that attempt.
type RetryableError struct {
	Err   error
	After time.Duration
}

// Retryable wraps err as a RetryableError. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// RetryAfter wraps err as a RetryableError that waits d before the next attempt.
func RetryAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, After: d}
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Retry calls fn up to attempts times. Only [RetryableError]s lead to
// another attempt; anything else is returned at once. The wait starts at
// delay and doubles, bounded by [MaxRetryDelay]. The last error is returned
// when every attempt failed, ctx.Err() when cancelled while waiting.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	attempts = max(attempts, 1)
	var lastErr error

	for i := range attempts {
		err := fn()
		if err == nil {
			return nil
		}
		var re *RetryableError
		if !errors.As(err, &re) {
			return err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}

		wait := delay
		if re.After > 0 {
			wait = re.After
		}
		t := time.NewTimer(min(wait, MaxRetryDelay))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, MaxRetryDelay)
	}
	return lastErr
}

// RetryWithBackoff is Retry with three attempts starting at one second, the
// schedule the registry clients use.
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return Retry(ctx, 3, time.Second, fn)
}
