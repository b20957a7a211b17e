package retry

import (
	"context"
	"math"
	"time"
)

// Policy bounds how an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// IsTransient defaults to the package-level IsTransient.
	IsTransient func(error) bool
	// Sleep defaults to a context-aware timer; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Delay returns the wait before attempt n+1, where n starts at 1.
func (p Policy) Delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1)))
}

// Execute runs op until it succeeds, fails permanently or runs out of
// attempts. The last error is returned as-is.
func Execute(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is Execute for operations that produce a value.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	isTransient := policy.IsTransient
	if isTransient == nil {
		isTransient = IsTransient
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt == maxAttempts || !isTransient(err) {
			return result, err
		}
		if sleepErr := sleep(ctx, policy.Delay(attempt)); sleepErr != nil {
			return result, sleepErr
		}
	}
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
