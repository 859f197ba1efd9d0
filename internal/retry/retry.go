package retry

import (
	"context"
	"errors"
	"math"
	"time"
)

// Config holds configuration for retry with backoff.
type Config struct {
	// MaxAttempts is the total number of calls, including the first one.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the wait after the first failure.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps every wait.
	// Default: 60s
	MaxDelay time.Duration

	// Multiplier is the exponential base applied per attempt.
	// Default: 2.0
	Multiplier float64

	// Retryable decides whether an error qualifies for another attempt.
	// nil retries everything except Permanent errors and context errors.
	Retryable func(error) bool
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
	}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Delay returns the wait before attempt+1, where attempt counts from 0:
// min(BaseDelay * Multiplier^attempt, MaxDelay).
func (c Config) Delay(attempt int) time.Duration {
	c = c.withDefaults()
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) || math.IsInf(d, 0) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	return c
}

// Do calls op until it succeeds, returns a non-qualifying error, or MaxAttempts
// calls have been made. The error returned is always the last call's error.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if IsPermanent(err) {
			return zero, err
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}

		if attempt+1 >= cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, lastErr
		case <-time.After(cfg.Delay(attempt)):
		}
	}

	return zero, lastErr
}
