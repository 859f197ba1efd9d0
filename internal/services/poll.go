package services

import (
	"context"
	"fmt"
	"time"
)

// pollConfig is the backoff schedule for providers that hand back a job id
// and make us poll for the result.
type pollConfig struct {
	InitialDelay time.Duration // wait before the first poll
	MinInterval  time.Duration
	MaxInterval  time.Duration
	Factor       float64
	MaxDuration  time.Duration // hard window, then ErrGenerationTimedOut
}

var defaultPollConfig = pollConfig{
	InitialDelay: 10 * time.Second,
	MinInterval:  5 * time.Second,
	MaxInterval:  20 * time.Second,
	Factor:       1.5,
	MaxDuration:  10 * time.Minute,
}

// pollUntil calls check until it reports done, returns an error, the context
// ends or the window closes. Intervals grow 5s, 7.5s, 11.25s ... up to the cap.
func pollUntil(ctx context.Context, cfg pollConfig, check func(ctx context.Context) (bool, error)) (int, error) {
	deadline := time.Now().Add(cfg.MaxDuration)
	interval := cfg.MinInterval
	polls := 0

	if cfg.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return polls, fmt.Errorf("cancelled during initial wait: %w", ctx.Err())
		case <-time.After(cfg.InitialDelay):
		}
	}

	for {
		if time.Now().After(deadline) {
			return polls, fmt.Errorf("%w after %v (polled %d times)", ErrGenerationTimedOut, cfg.MaxDuration, polls)
		}

		polls++
		done, err := check(ctx)
		if err != nil {
			return polls, err
		}
		if done {
			return polls, nil
		}

		select {
		case <-ctx.Done():
			return polls, fmt.Errorf("cancelled while polling: %w", ctx.Err())
		case <-time.After(interval):
		}

		next := time.Duration(float64(interval) * cfg.Factor)
		if next > cfg.MaxInterval {
			next = cfg.MaxInterval
		}
		interval = next
	}
}
