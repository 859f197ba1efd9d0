package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsAtMaxAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("attempt %d", calls)
	})

	assert.Equal(t, 3, calls)
	require.Error(t, err)
	assert.Equal(t, "attempt 3", err.Error())
}

func TestDoRecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fastConfig(5), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	base := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		calls++
		return Permanent(base)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsPermanent(err))
}

func TestRetryablePredicate(t *testing.T) {
	errFatal := errors.New("fatal")
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, errFatal) }

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errFatal
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errFatal)
}

func TestContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(ctx context.Context) error {
			calls++
			return errors.New("boom")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.EqualError(t, err, "boom")
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestContextErrorFromOpIsNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(4), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("poll: %w", context.DeadlineExceeded)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDelay(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, cfg.Delay(0))
	assert.Equal(t, 2*time.Second, cfg.Delay(1))
	assert.Equal(t, 8*time.Second, cfg.Delay(3))
	assert.Equal(t, 10*time.Second, cfg.Delay(4), "capped at MaxDelay")
	assert.Equal(t, 10*time.Second, cfg.Delay(5000), "overflow is capped too")
}

func TestDefaultsApplied(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Config{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 3, calls)
}
