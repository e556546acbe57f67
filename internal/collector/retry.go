package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"LagSentinel/internal/model"
)

// RetryPolicy retries transient failures with exponential backoff up to a
// fixed number of attempts. Non-transient errors are returned immediately.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     *backoff.Backoff
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy waiting min, min*factor, ... capped at max.
func NewRetryPolicy(maxAttempts int, min, max time.Duration, factor float64) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     &backoff.Backoff{Min: min, Max: max, Factor: factor},
		sleep:       sleepCtx,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	return p.Backoff.ForAttempt(float64(attempt - 1))
}

// Do runs op until it succeeds, fails permanently, or the attempt ceiling is
// reached. Exhaustion is reported as model.ErrTransient.
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, model.ErrTransient) {
			return err
		}
		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}
		wait := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		sleep := p.sleep
		if sleep == nil {
			sleep = sleepCtx
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("all %d attempts exhausted: %w", p.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
