package session

import (
	"context"
	"time"
)

// sleepFunc pauses for d or until ctx is done. Injected so tests run without
// real delays.
type sleepFunc func(ctx context.Context, d time.Duration) error

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

// retryPolicy bounds the extractor round-trip: up to Attempts tries with
// exponential backoff between them.
type retryPolicy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// delay returns the backoff before retry number attempt (1-based), doubling
// from Base and capped at Cap.
func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.Base << attempt
	if d <= 0 || d > p.Cap {
		return p.Cap
	}
	return d
}

// withRetry runs fn until it succeeds or the attempt budget is spent. The
// last failure is returned; a cancelled sleep aborts early with the ctx error.
func withRetry(ctx context.Context, p retryPolicy, sleep sleepFunc, fn func(context.Context) error) error {
	var last error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.delay(attempt)); err != nil {
				return err
			}
		}
		if last = fn(ctx); last == nil {
			return nil
		}
	}
	return last
}
