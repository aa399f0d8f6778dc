// Package retry classifies provider errors into retryable/non-retryable and
// wraps a closure with exponential backoff + jitter. It is only ever used
// around LLM completion calls, never around tool execution — tool failures
// become structured results, not retried Go errors.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ionforge/agentcore/internal/memory"
)

// Classify inspects err (and, when known, the HTTP status the provider
// returned) and reports whether the call should be retried, plus the
// error-reason code that should be recorded if it is not retried further.
func Classify(err error, httpStatus int) (retryable bool, reason memory.ErrorReason) {
	if err == nil {
		return false, ""
	}
	if errors.Is(err, context.Canceled) {
		return false, memory.ReasonAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, memory.ReasonTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, memory.ReasonTimeout
		}
		return true, memory.ReasonNetworkError
	}

	switch {
	case httpStatus == http.StatusTooManyRequests:
		return true, memory.ReasonRateLimit
	case httpStatus >= 500 && httpStatus < 600:
		return true, memory.ReasonNetworkError
	case httpStatus >= 400 && httpStatus < 500:
		return false, memory.ReasonInvalidInput
	}

	// Unknown error shape (e.g. a transport error without an HTTP status):
	// retry conservatively, as these are usually connection resets.
	return true, memory.ReasonNetworkError
}

// Policy configures exponential backoff with full jitter.
type Policy struct {
	MaxAttempts int           // total attempts including the first; must be >= 1
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // backoff ceiling
}

// DefaultPolicy mirrors the teacher's fixed 1s/2s/3s... linear backoff,
// generalised to exponential-with-jitter so a noisy-neighbour rate limit
// doesn't synchronise every conversation's retries on the same tick.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Classifier reports whether err should be retried, the HTTP status (if
// any) behind it, and the memory.ErrorReason that would be recorded if
// attempts run out. Do's backoff does not use the HTTP status.
type Classifier func(err error) (retryable bool, httpStatus int, reason memory.ErrorReason)

// Do runs fn up to p.MaxAttempts times, backing off between attempts for
// errors that classify as retryable, and returns the last error (with its
// classified reason) otherwise. fn's context is ctx for every attempt;
// cancellation aborts immediately without a further retry.
func Do(ctx context.Context, p Policy, classify Classifier, fn func(context.Context) error) (memory.ErrorReason, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var lastErr error
	var lastReason memory.ErrorReason

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return memory.ReasonAborted, ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			return "", nil
		}

		retryable, _, reason := classify(err)
		lastErr, lastReason = err, reason
		if !retryable || attempt == p.MaxAttempts-1 {
			return reason, lastErr
		}

		delay := backoffDelay(p, attempt)
		log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", p.MaxAttempts).
			Dur("delay", delay).Msg("retry: retrying after classified-retryable error")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return memory.ReasonAborted, ctx.Err()
		}
	}
	return lastReason, lastErr
}

func backoffDelay(p Policy, attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > max {
		delay = max
	}
	// Full jitter: uniform in [0, delay].
	if delay > 0 {
		delay = time.Duration(rand.Int63n(int64(delay) + 1))
	}
	return delay
}

// Exhausted formats a terminal error after retries run out.
func Exhausted(attempts int, err error) error {
	return fmt.Errorf("retry: exhausted after %d attempt(s): %w", attempts, err)
}
