package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/queue"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const DefaultPrefix = "dlq:video:failed"

// ErrNotFound is returned when no dead-letter entry exists for an id.
var ErrNotFound = errors.New("dead-letter entry not found")

// Store keeps jobs that exhausted their attempt budget. Entries leave only by
// an explicit Retry or Remove.
type Store struct {
	client  *redis.Client
	queue   *queue.Queue
	records *queue.Records
	prefix  string
	log     zerolog.Logger
	now     func() time.Time
}

func New(q *queue.Queue, records *queue.Records, log zerolog.Logger) *Store {
	return &Store{
		client:  q.Client(),
		queue:   q,
		records: records,
		prefix:  DefaultPrefix,
		log:     log,
		now:     time.Now,
	}
}

func (s *Store) entryKey(jobID string) string {
	return s.prefix + ":" + jobID
}

func (s *Store) idsKey() string {
	return s.prefix + ":ids"
}

// Add records a failed job. Adding the same id twice keeps one list entry.
func (s *Store) Add(ctx context.Context, entry models.DeadLetterEntry) error {
	if entry.FailedAt.IsZero() {
		entry.FailedAt = s.now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.entryKey(entry.JobID), map[string]interface{}{
			"entry":     data,
			"failed_at": strconv.FormatInt(entry.FailedAt.Unix(), 10),
		})
		pipe.LRem(ctx, s.idsKey(), 0, entry.JobID)
		pipe.LPush(ctx, s.idsKey(), entry.JobID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add %s to dead-letter store: %w", entry.JobID, err)
	}

	s.log.Error().
		Str("job_id", entry.JobID).
		Int("attempt", entry.Attempt).
		Int("max_attempts", entry.MaxAttempts).
		Str("error", entry.LastError).
		Msg("job moved to dead-letter store")
	return nil
}

func (s *Store) Get(ctx context.Context, jobID string) (*models.DeadLetterEntry, error) {
	data, err := s.client.HGet(ctx, s.entryKey(jobID), "entry").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead-letter entry: %w", err)
	}

	var entry models.DeadLetterEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead-letter entry %s: %w", jobID, err)
	}
	return &entry, nil
}

// List returns up to limit entries, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := s.client.LRange(ctx, s.idsKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter ids: %w", err)
	}

	entries := make([]models.DeadLetterEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Remove purges an entry without retrying it.
func (s *Store) Remove(ctx context.Context, jobID string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, s.idsKey(), 0, jobID)
		del = pipe.Del(ctx, s.entryKey(jobID))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove dead-letter entry %s: %w", jobID, err)
	}

	removed := del.Val() > 0
	if removed {
		s.log.Info().Str("job_id", jobID).Msg("dead-letter entry removed")
	}
	return removed, nil
}

// Retry resets the job to pending with attempt 0, puts it back on the queue and
// drops the entry.
func (s *Store) Retry(ctx context.Context, jobID string) error {
	entry, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	job, err := s.records.Get(ctx, jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		job = &models.Job{VideoID: jobID, CreatedAt: s.now().UTC()}
		if len(entry.Payload) > 0 {
			if err := json.Unmarshal(entry.Payload, &job.Data); err != nil {
				return fmt.Errorf("failed to restore form for %s: %w", jobID, err)
			}
		}
	} else if err != nil {
		return err
	}

	job.Status = models.JobStatusPending
	job.Attempt = 0
	job.Error = ""
	job.FailedAt = nil

	if err := s.records.Save(ctx, job); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, jobID); err != nil {
		return fmt.Errorf("failed to requeue %s: %w", jobID, err)
	}
	if _, err := s.Remove(ctx, jobID); err != nil {
		return err
	}

	s.log.Info().Str("job_id", jobID).Msg("dead-letter entry retried")
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.idsKey()).Result()
}
