package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T) (*miniredis.Miniredis, *JobLocker) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, New(client)
}

func TestAcquireRelease(t *testing.T) {
	mr, l := setupLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "job-1", time.Minute, false, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, h.Token)

	val, err := mr.Get("lock:job:job-1")
	require.NoError(t, err)
	assert.Equal(t, h.Token, val)

	locked, err := l.IsLocked(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, locked)

	ok, err := l.Release(ctx, h)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("lock:job:job-1"))
}

func TestNonBlockingAcquireFailsWhenHeld(t *testing.T) {
	_, l := setupLocker(t)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "job-1", time.Minute, false, 0)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "job-1", time.Minute, false, 0)
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestConcurrentAcquireOnlyOneWins(t *testing.T) {
	_, l := setupLocker(t)
	ctx := context.Background()

	const contenders = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(ctx, "shared", time.Minute, false, 0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestReleaseWithForeignTokenIsNoop(t *testing.T) {
	mr, l := setupLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "job-1", time.Minute, false, 0)
	require.NoError(t, err)

	forged := &Handle{JobID: "job-1", Token: "not-the-token", key: Key("job-1")}
	ok, err := l.Release(ctx, forged)
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := mr.Get("lock:job:job-1")
	require.NoError(t, err)
	assert.Equal(t, h.Token, val, "foreign release must not touch the record")

	ok, err = l.Extend(ctx, forged, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("lock:job:job-1"))
}

func TestStaleHolderCannotReleaseReacquiredLock(t *testing.T) {
	mr, l := setupLocker(t)
	ctx := context.Background()

	slow, err := l.Acquire(ctx, "job-1", time.Second, false, 0)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "job-1", time.Minute, false, 0)
	require.NoError(t, err)

	ok, err := l.Release(ctx, slow)
	require.NoError(t, err)
	assert.False(t, ok)

	val, err := mr.Get("lock:job:job-1")
	require.NoError(t, err)
	assert.Equal(t, fresh.Token, val)
}

func TestExtend(t *testing.T) {
	mr, l := setupLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "job-1", time.Minute, false, 0)
	require.NoError(t, err)

	ok, err := l.Extend(ctx, h, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Minute, mr.TTL("lock:job:job-1"))
}

func TestBlockingAcquireWaitsForRelease(t *testing.T) {
	_, l := setupLocker(t)
	ctx := context.Background()

	first, err := l.Acquire(ctx, "job-1", time.Minute, false, 0)
	require.NoError(t, err)

	go func() {
		time.Sleep(150 * time.Millisecond)
		_, _ = l.Release(ctx, first)
	}()

	second, err := l.Acquire(ctx, "job-1", time.Minute, true, 2*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestBlockingAcquireTimesOut(t *testing.T) {
	_, l := setupLocker(t)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "job-1", time.Minute, false, 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = l.Acquire(ctx, "job-1", time.Minute, true, 250*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestAcquireRejectsZeroTTL(t *testing.T) {
	_, l := setupLocker(t)
	_, err := l.Acquire(context.Background(), "job-1", 0, false, 0)
	assert.Error(t, err)
}
