// Package retrylimit pairs an adaptive rate limiter with bounded retries for
// HTTP-ish clients. The limiter speeds up while calls succeed and backs off
// when the remote side signals overload; the retry helper wraps a call in
// exponential backoff and gives up on fatal errors.
//
// Example:
//
//	lim := retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5)
//	err := retrylimit.WithRetryMax(ctx, func() error {
//	    return client.Fetch()
//	}, lim, 3)
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HTTPError is implemented by errors carrying an HTTP status code. Errors
// without it are retried on the generic path.
type HTTPError interface {
	error
	StatusCode() int
}

// FatalError stops retrying immediately.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// AdaptiveLimiter adjusts its request rate from call outcomes: up a step
// after a quiet stretch of successes, down by a multiplier on overload.
// Safe for concurrent use.
type AdaptiveLimiter struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	lastError time.Time
}

// NewAdaptiveLimiter builds a limiter starting at initial requests per
// second, bounded by min and max. stepUp is added per success streak;
// stepDown multiplies the rate on failure (0.5 halves it).
func NewAdaptiveLimiter(initial, min, max rate.Limit, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	if initial < 1 {
		initial = 1
	}
	if min < 1 {
		min = 1
	}
	burst := int(initial)
	if burst < 1 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, burst),
		minLimit: min,
		maxLimit: max,
		stepUp:   stepUp,
		stepDown: stepDown,
	}
}

// Wait blocks until a token is available or ctx ends.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return a.limiter.Wait(ctx)
}

// Success nudges the rate up, but only once errors are 10s in the past.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > 10*time.Second {
		a.set(a.limiter.Limit() + a.stepUp)
	}
}

// Overloaded cuts the rate after a failure or throttle response.
func (a *AdaptiveLimiter) Overloaded() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.set(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// CurrentLimit returns the current requests per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) set(limit rate.Limit) {
	if limit > a.maxLimit {
		limit = a.maxLimit
	} else if limit < a.minLimit {
		limit = a.minLimit
	}
	if limit != a.limiter.Limit() {
		a.limiter.SetLimit(limit)
		burst := int(limit)
		if burst < 1 {
			burst = 1
		}
		a.limiter.SetBurst(burst)
	}
}

// WithRetryMax runs fn up to maxAttempts times with exponential backoff and
// jitter, waiting on lim (when non-nil) before each attempt. It stops early
// when fn succeeds, returns a FatalError, or ctx ends. Responses indicating
// overload (429, 5xx) also slow the limiter down.
func WithRetryMax(ctx context.Context, fn func() error, lim *AdaptiveLimiter, maxAttempts int) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := 500 * time.Millisecond
	const maxDelay = 10 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			return nil
		}
		lastErr = err

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return err
		}
		if lim != nil && isOverload(err) {
			lim.Overloaded()
		}

		if attempt == maxAttempts {
			break
		}

		// jitter keeps concurrent callers from retrying in lockstep
		sleep := delay + time.Duration(rand.Int63n(int64(delay/4)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return fmt.Errorf("retrylimit: %d attempts: %w", maxAttempts, lastErr)
}

func isOverload(err error) bool {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		code := httpErr.StatusCode()
		return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
	}
	return false
}
