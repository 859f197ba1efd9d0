package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/saludo/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

const jobColumns = `
	video_id, status, data, attempt, strategy, video_url,
	error_message, notify_error, created_at, updated_at, completed_at, failed_at`

// UpsertJob writes the latest state of a job.
func (db *DB) UpsertJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO greeting_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (video_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt = EXCLUDED.attempt,
			strategy = COALESCE(EXCLUDED.strategy, greeting_jobs.strategy),
			video_url = COALESCE(EXCLUDED.video_url, greeting_jobs.video_url),
			error_message = EXCLUDED.error_message,
			notify_error = EXCLUDED.notify_error,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			failed_at = EXCLUDED.failed_at
	`

	updated := job.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	_, err := db.ExecContext(
		ctx, query,
		job.VideoID, job.Status, job.Data, job.Attempt,
		nullString(job.Strategy), nullString(job.VideoURL),
		nullString(job.Error), nullString(job.NotifyError),
		job.CreatedAt, updated, job.CompletedAt, job.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", job.VideoID, err)
	}
	return nil
}

func (db *DB) GetJob(ctx context.Context, videoID string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM greeting_jobs WHERE video_id = $1`

	job, err := scanJob(db.QueryRowContext(ctx, query, videoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (db *DB) ListJobs(ctx context.Context, status string, limit, offset int) ([]models.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + jobColumns + ` FROM greeting_jobs`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// DeleteJobsBefore removes finished jobs last updated before cutoff.
func (db *DB) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `
		DELETE FROM greeting_jobs
		WHERE updated_at < $1 AND status IN ($2, $3, $4)
	`, cutoff, models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                                      models.Job
		strategy, videoURL, errMsg, notifyErrMsg sql.NullString
	)
	err := row.Scan(
		&job.VideoID, &job.Status, &job.Data, &job.Attempt, &strategy, &videoURL,
		&errMsg, &notifyErrMsg, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt, &job.FailedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Strategy = strategy.String
	job.VideoURL = videoURL.String
	job.Error = errMsg.String
	job.NotifyError = notifyErrMsg.String
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
