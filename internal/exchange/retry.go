package exchange

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
)

// RetryPolicy wraps jpillora/backoff around an idempotent exchange call,
// generalizing the teacher's fixed-delay retry loop in
// execution/executor.go's executeLive into exponential backoff with a cap,
// per spec §5: "exponential backoff with cap (default 3 attempts) wraps
// every exchange call that can be retried idempotently."
type RetryPolicy struct {
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy matches the spec's default of 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Min: 250 * time.Millisecond, Max: 5 * time.Second}
}

// Do runs fn up to MaxAttempts times, sleeping with exponential backoff
// between attempts, and returns the last error if every attempt failed.
// It aborts early if ctx is cancelled.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt).Msg("exchange call failed, retrying")
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
