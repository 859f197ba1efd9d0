package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultQueue is the list the frontend and the worker agree on.
const DefaultQueue = "video:queue"

// Queue is a FIFO of video ids on a Redis list: LPUSH to enqueue, BRPOP to dequeue.
// A pop hands an id to exactly one consumer; exclusivity while processing comes
// from the job lock, not from the queue.
type Queue struct {
	client *redis.Client
	name   string
}

func New(redisURL, name string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFromClient(client, name), nil
}

// NewFromClient wraps an existing client. An empty name selects DefaultQueue.
func NewFromClient(client *redis.Client, name string) *Queue {
	if name == "" {
		name = DefaultQueue
	}
	return &Queue{client: client, name: name}
}

// Client exposes the shared connection for the lock, record and dead-letter stores.
func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Enqueue(ctx context.Context, videoID string) error {
	if videoID == "" {
		return fmt.Errorf("empty video id")
	}
	return q.client.LPush(ctx, q.name, videoID).Err()
}

// Dequeue blocks for up to timeout. It returns "" with a nil error when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil // No job available
	}
	if err != nil {
		return "", fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return "", fmt.Errorf("unexpected redis response")
	}

	return result[1], nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}
