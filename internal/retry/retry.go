package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/loykin/taskserve/internal/common"
)

// Policy controls how storage operations are retried.
type Policy struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialDelay    time.Duration // Initial delay before first retry
	MaxDelay        time.Duration // Maximum delay between retries
	BackoffFactor   float64       // Multiplier for exponential backoff
	RetryableErrors []string      // Error substrings that trigger retries
}

// DefaultPolicy returns the policy used by the storage backends.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:    3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: []string{
			"database is locked",
			"database table is locked",
			"sqlite_busy",
			"connection refused",
			"connection reset",
			"broken pipe",
			"deadlock",
		},
	}
}

// Retryable reports whether err should trigger another attempt.
func (p *Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range p.RetryableErrors {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// delay returns the wait before attempt+1 using exponential backoff.
func (p *Policy) delay(attempt int) time.Duration {
	if attempt <= 0 {
		return p.InitialDelay
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable regardless of its message.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Operation is a unit of work that may be attempted more than once.
type Operation func(ctx context.Context) error

// Do runs op until it succeeds, fails with a non-retryable error, the policy
// is exhausted or ctx is done. A nil policy means DefaultPolicy.
func Do(ctx context.Context, policy *Policy, op Operation) error {
	if policy == nil {
		policy = DefaultPolicy()
	}
	logger := common.GetLogger().WithComponent("storage-retry")

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("storage operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !policy.Retryable(err) {
			var perm *permanentError
			if errors.As(err, &perm) {
				return perm.err
			}
			return err
		}
		if attempt == policy.MaxRetries {
			break
		}

		d := policy.delay(attempt)
		logger.Warn("storage operation failed, retrying",
			"error", err,
			"attempt", attempt+1,
			"max_attempts", policy.MaxRetries+1,
			"retry_delay", d)

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("operation cancelled during retry: %w", ctx.Err())
		case <-t.C:
		}
	}

	logger.Error("storage operation failed after all retry attempts",
		"error", lastErr,
		"attempts", policy.MaxRetries+1)

	return fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}
