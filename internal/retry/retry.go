// Package retry runs operations under an exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/jobvault/internal/domain"
)

// Policy bounds a retry loop
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultPolicy is used for store writes on the enqueue and finish paths
var DefaultPolicy = Policy{
	MaxAttempts: 5,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    2 * time.Second,
	Multiplier:  2.0,
}

// Delay returns the backoff before attempt n+1, where n starts at 0
func (p Policy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2.0
	}

	d := float64(p.BaseDelay)
	for i := 0; i < n; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns an error that is not a transient store
// error, the attempts run out or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return DoIf(ctx, p, domain.IsTransient, fn)
}

// DoIf is Do with a caller supplied retry predicate
func DoIf(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
	return err
}

// Persist calls fn until it succeeds, returns an error that is not a transient
// store error or ctx is done. MaxAttempts is ignored; the backoff stays capped
// at MaxDelay, or at DefaultPolicy.MaxDelay when the policy sets none.
func Persist(ctx context.Context, p Policy, onRetry func(attempt int, err error), fn func(ctx context.Context) error) error {
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		timer := time.NewTimer(p.Delay(min(attempt, 64)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
}
