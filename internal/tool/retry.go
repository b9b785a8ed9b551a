package tool

import (
	"context"
	"math/rand"
	"time"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// withRetry wraps call with up to maxAttempts tries and exponential
// backoff with jitter (200ms base, 800ms cap). The backoff shape mirrors
// the engine's computeBackoff (internal/graph/policy.go), duplicated here
// rather than exported across packages for a two-line pure function.
func withRetry(ctx context.Context, maxAttempts int, call func(ctx context.Context) ([]domain.Evidence, error)) ([]domain.Evidence, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		evidence, err := call(ctx)
		if err == nil {
			return evidence, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func backoff(attempt int) time.Duration {
	base := 200 * time.Millisecond
	maxDelay := 800 * time.Millisecond

	delay := base * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter timing, not security
	return delay + jitter
}
