// Package retrylimit combines an adaptive client-side rate limiter with
// exponential-backoff retries. The limit climbs slowly on success and drops
// sharply when the remote side pushes back, so scrapers settle near the
// highest rate the service tolerates.
package retrylimit

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HTTPError is implemented by errors carrying an HTTP status code; 429 and
// 5xx responses trigger rate reduction, everything else just retries.
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

// AdaptiveLimiter adjusts its rate from request outcomes. Safe for
// concurrent use.
type AdaptiveLimiter struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	min, max  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	lastError time.Time
}

// NewAdaptiveLimiter starts at initial requests per second, adding stepUp
// per success and multiplying by stepDown per failure, clamped to
// [minLimit, maxLimit].
func NewAdaptiveLimiter(initial, minLimit, maxLimit, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	if initial < 1 {
		initial = 1
	}
	if minLimit < 1 {
		minLimit = 1
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, int(initial)),
		min:      minLimit,
		max:      maxLimit,
		stepUp:   stepUp,
		stepDown: stepDown,
	}
}

// Wait blocks until a token is available or ctx ends.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success nudges the rate up, unless an error happened recently.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > 10*time.Second {
		a.set(a.limiter.Limit() + a.stepUp)
	}
}

// RateLimited cuts the rate after the remote side pushed back.
func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.set(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// Limit returns the current requests per second.
func (a *AdaptiveLimiter) Limit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) set(l rate.Limit) {
	if l > a.max {
		l = a.max
	}
	if l < a.min {
		l = a.min
	}
	if l != a.limiter.Limit() {
		a.limiter.SetLimit(l)
		b := int(l)
		if b < 1 {
			b = 1
		}
		a.limiter.SetBurst(b)
	}
}

// Config tunes WithRetry.
type Config struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
	Multiplier     float64
	Jitter         bool
	Log            zerolog.Logger
}

// DefaultConfig is tuned for polling third-party APIs.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    10,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		RateLimitDelay: 100 * time.Millisecond,
		Multiplier:     2.0,
		Jitter:         true,
		Log:            zerolog.Nop(),
	}
}

// WithRetry runs fn under lim with default settings.
func WithRetry(ctx context.Context, fn func() error, lim *AdaptiveLimiter) error {
	return WithConfig(ctx, fn, lim, DefaultConfig())
}

// WithConfig runs fn until it succeeds, returns a FatalError, the context
// ends, or attempts run out.
func WithConfig(ctx context.Context, fn func() error, lim *AdaptiveLimiter, cfg Config) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	delay := cfg.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
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
		if ok := asFatal(err, &fatal); ok {
			return err
		}

		wait := delay
		if rateLimited(err) {
			if lim != nil {
				lim.RateLimited()
			}
			wait = cfg.RateLimitDelay
			cfg.Log.Warn().Int("attempt", attempt).Msg("rate limited, backing off")
		} else {
			if serverError(err) && lim != nil {
				lim.RateLimited()
			}
			cfg.Log.Debug().Err(err).Int("attempt", attempt).Dur("sleep", wait).Msg("request failed, retrying")
			if cfg.Jitter && delay > 0 {
				wait += time.Duration(rand.Int63n(int64(delay/4) + 1))
			}
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func asFatal(err error, target **FatalError) bool {
	f, ok := err.(*FatalError)
	if ok {
		*target = f
	}
	return ok
}

func rateLimited(err error) bool {
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode() == http.StatusTooManyRequests
	}
	return false
}

func serverError(err error) bool {
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode() >= 500 && he.StatusCode() < 600
	}
	return false
}
