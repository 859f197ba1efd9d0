package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "lock:job:"

// pollInterval is how often a blocking Acquire retries while the key is held.
const pollInterval = 100 * time.Millisecond

// ErrNotAcquired means another holder owns the job. Callers skip the job; it is not a failure.
var ErrNotAcquired = errors.New("job lock held by another worker")

// Handle proves ownership of one acquisition.
type Handle struct {
	JobID string
	Token string
	key   string
}

type JobLocker struct {
	cli *redis.Client
}

func New(cli *redis.Client) *JobLocker {
	return &JobLocker{cli: cli}
}

func Key(jobID string) string {
	return keyPrefix + jobID
}

var luaRelease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

var luaExtend = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

// Acquire sets the lock key only if absent, with ttl as its expiry. With blocking
// set it keeps retrying until timeout elapses; otherwise a held key returns
// ErrNotAcquired at once.
func (l *JobLocker) Acquire(ctx context.Context, jobID string, ttl time.Duration, blocking bool, timeout time.Duration) (*Handle, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}

	h := &Handle{JobID: jobID, Token: uuid.NewString(), key: Key(jobID)}
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.cli.SetNX(ctx, h.key, h.Token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock for %s: %w", jobID, err)
		}
		if ok {
			return h, nil
		}

		if !blocking || !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}

		wait := pollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Release deletes the key only while it still holds h's token. It reports false,
// without touching the key, when the lock expired or belongs to someone else.
func (l *JobLocker) Release(ctx context.Context, h *Handle) (bool, error) {
	if h == nil {
		return false, nil
	}
	n, err := luaRelease.Run(ctx, l.cli, []string{h.key}, h.Token).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to release lock for %s: %w", h.JobID, err)
	}
	return n == 1, nil
}

// Extend resets the expiry to ttl under the same ownership check as Release.
func (l *JobLocker) Extend(ctx context.Context, h *Handle, ttl time.Duration) (bool, error) {
	if h == nil {
		return false, nil
	}
	n, err := luaExtend.Run(ctx, l.cli, []string{h.key}, h.Token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to extend lock for %s: %w", h.JobID, err)
	}
	return n == 1, nil
}

func (l *JobLocker) IsLocked(ctx context.Context, jobID string) (bool, error) {
	n, err := l.cli.Exists(ctx, Key(jobID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
