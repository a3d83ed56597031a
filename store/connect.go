package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// RetryPolicy bounds connection establishment.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is five attempts two seconds apart.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Delay: 2 * time.Second}

// Connect runs dial until it succeeds or the policy is exhausted. Exhaustion
// returns an error wrapping ErrConnect; callers treat it as fatal.
func Connect(ctx context.Context, policy RetryPolicy, log *zap.Logger, backend string, dial func(ctx context.Context) error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.Delay <= 0 {
		policy.Delay = time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	backoff := retry.WithMaxRetries(uint64(policy.Attempts-1), retry.NewConstant(policy.Delay))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := dial(ctx); err != nil {
			log.Warn("storage connection attempt failed",
				zap.String("backend", backend),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.Attempts),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrConnect, backend, attempt, err)
	}

	log.Info("storage connected", zap.String("backend", backend), zap.Int("attempts", attempt))
	return nil
}
