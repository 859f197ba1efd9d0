package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/saludo/internal/models"
	"github.com/go-redis/redis/v8"
)

const jobKeyPrefix = "job:"

// ErrJobNotFound is returned when no record exists for a video id.
var ErrJobNotFound = errors.New("job not found")

func JobKey(videoID string) string {
	return jobKeyPrefix + videoID
}

// Records stores job records as JSON under job:{videoId}.
type Records struct {
	client *redis.Client
	now    func() time.Time
}

func NewRecords(client *redis.Client) *Records {
	return &Records{client: client, now: time.Now}
}

// Submit creates a pending record and pushes its id onto q in one transaction.
func (r *Records) Submit(ctx context.Context, q *Queue, videoID string, form models.FormFields) (*models.Job, error) {
	now := r.now().UTC()
	job := &models.Job{
		VideoID:   videoID,
		Status:    models.JobStatusPending,
		Data:      form,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, JobKey(videoID), data, 0)
		pipe.LPush(ctx, q.Name(), videoID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}

	return job, nil
}

func (r *Records) Get(ctx context.Context, videoID string) (*models.Job, error) {
	data, err := r.client.Get(ctx, JobKey(videoID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", videoID, err)
	}
	if job.VideoID == "" {
		job.VideoID = videoID
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	return &job, nil
}

// Save overwrites the record and stamps UpdatedAt.
func (r *Records) Save(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = r.now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := r.client.Set(ctx, JobKey(job.VideoID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.VideoID, err)
	}
	return nil
}

func (r *Records) Delete(ctx context.Context, videoID string) error {
	return r.client.Del(ctx, JobKey(videoID)).Err()
}

// Scan calls fn for every stored job. Records that fail to decode are skipped.
func (r *Records) Scan(ctx context.Context, fn func(*models.Job) error) error {
	iter := r.client.Scan(ctx, 0, jobKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		videoID := iter.Val()[len(jobKeyPrefix):]
		job, err := r.Get(ctx, videoID)
		if err != nil {
			continue
		}
		if err := fn(job); err != nil {
			return err
		}
	}
	return iter.Err()
}
