package acme

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codebuckets/acmemanager/internal/model"
)

const (
	// maxPollAttempts bounds status polling so a stuck resource cannot
	// loop forever.
	maxPollAttempts = 10

	// defaultRetryDelay applies when the provider gives no Retry-After.
	defaultRetryDelay = 3 * time.Second
)

// updateFunc refreshes a remote resource and reports its current status plus
// an optional retry-after instant. A zero instant means the provider gave
// no hint and the default delay applies.
type updateFunc func(ctx context.Context) (model.Status, time.Time, error)

// waitForCompletion polls a remote resource until it reaches a terminal
// status (valid or invalid). Exhausting the attempt budget yields
// ErrTimeout; cancellation during a wait yields ErrCancelled. Errors from
// the update function are returned as-is.
func waitForCompletion(ctx context.Context, update updateFunc) (model.Status, error) {
	for attempt := 1; attempt <= maxPollAttempts; attempt++ {
		logger.Debug("Checking current status", zap.Int("attempt", attempt), zap.Int("maxAttempts", maxPollAttempts))

		now := time.Now()

		status, retryAfter, err := update(ctx)
		if err != nil {
			return "", err
		}

		if status.Terminal() {
			return status, nil
		}

		// No point waiting out the delay when no attempt is left.
		if attempt == maxPollAttempts {
			break
		}

		if retryAfter.IsZero() {
			retryAfter = now.Add(defaultRetryDelay)
		}

		// A retry-after in the past means poll again immediately.
		wait := time.Until(retryAfter)
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("%w: while waiting for status change: %w", ErrCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	return "", fmt.Errorf("%w: status did not change after %d attempts", ErrTimeout, maxPollAttempts)
}
