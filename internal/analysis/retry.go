package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis/provider"
)

// RetryPolicy parameterises Retry. Attempt n+1 waits BaseDelay*n.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(error) bool
	// Sleep replaces the context-aware wait, mainly for tests
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted or ctx is done. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || !retryable(lastErr) {
			break
		}

		delay := p.BaseDelay * time.Duration(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// IsRetryable classifies provider failures: rate limiting, 5xx unavailability
// and transport errors are retried; other statuses, response-shape errors and
// cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrTruncatedResponse) || errors.Is(err, ErrMalformedResponse) {
		return false
	}

	var se *provider.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var te *provider.TransportError
	return errors.As(err, &te)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// describeError shortens provider errors for progress and log lines
func describeError(err error) string {
	var se *provider.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("%s returned HTTP %d", se.Provider, se.StatusCode)
	}
	return err.Error()
}
