// Package janitor removes what finished jobs leave behind: scratch files the
// worker could not clean up and job records past their retention.
package janitor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobarin/saludo/internal/logging"
	"github.com/bobarin/saludo/internal/metrics"
	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/queue"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// MirrorPruner trims the optional job-history mirror. *db.DB implements it.
type MirrorPruner interface {
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	// Schedule is a five-field cron expression or a descriptor such as "@every 6h".
	Schedule string
	// TempDirs are scanned for files older than TempMaxAge. The audio cache
	// must not be listed here; it evicts on its own.
	TempDirs     []string
	TempMaxAge   time.Duration
	JobRetention time.Duration
}

// Report counts what one sweep removed.
type Report struct {
	TempFiles  int
	JobRecords int
	MirrorRows int64
}

type Janitor struct {
	records *queue.Records
	mirror  MirrorPruner
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time

	cron *cron.Cron
	mu   sync.Mutex // one sweep at a time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates the schedule. mirror may be nil.
func New(records *queue.Records, mirror MirrorPruner, cfg Config, log zerolog.Logger) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 6h"
	}
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.TempMaxAge <= 0 {
		cfg.TempMaxAge = 24 * time.Hour
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = 7 * 24 * time.Hour
	}

	j := &Janitor{
		records: records,
		mirror:  mirror,
		cfg:     cfg,
		log:     logging.Component(log, "janitor"),
		now:     time.Now,
	}
	cl := cronLogger{j.log}
	j.cron = cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	return j, nil
}

// Start schedules sweeps. It returns immediately.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.log.Error().Err(err).Msg("cleanup sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	j.cron.Start()
	j.log.Info().Str("schedule", j.cfg.Schedule).Msg("janitor started")
	return nil
}

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce performs one sweep.
func (j *Janitor) RunOnce(ctx context.Context) (Report, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var report Report
	now := j.now()

	tempCutoff := now.Add(-j.cfg.TempMaxAge)
	for _, dir := range j.cfg.TempDirs {
		report.TempFiles += j.cleanTemp(dir, tempCutoff)
	}
	metrics.CleanupDeleted("temp_file", report.TempFiles)

	jobCutoff := now.Add(-j.cfg.JobRetention)
	n, err := j.pruneJobs(ctx, jobCutoff)
	report.JobRecords = n
	metrics.CleanupDeleted("job_record", n)
	if err != nil {
		return report, fmt.Errorf("prune job records: %w", err)
	}

	if j.mirror != nil {
		rows, err := j.mirror.DeleteJobsBefore(ctx, jobCutoff)
		if err != nil {
			return report, fmt.Errorf("prune job mirror: %w", err)
		}
		report.MirrorRows = rows
	}

	j.log.Info().
		Int("temp_files", report.TempFiles).
		Int("job_records", report.JobRecords).
		Int64("mirror_rows", report.MirrorRows).
		Msg("cleanup sweep finished")
	return report, nil
}

// cleanTemp removes files older than cutoff, then any directories left empty.
func (j *Janitor) cleanTemp(root string, cutoff time.Time) int {
	var removed int
	var dirs []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			j.log.Debug().Err(err).Str("path", path).Msg("skipping unreadable path")
			return nil
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			// Judged by the age seen before this sweep touched its contents.
			if info, err := d.Info(); err == nil && info.ModTime().Before(cutoff) {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			j.log.Warn().Err(err).Str("path", path).Msg("failed to remove temp file")
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		j.log.Warn().Err(err).Str("dir", root).Msg("temp walk failed")
	}

	// Deepest first, so nested empty dirs go too. os.Remove refuses non-empty ones.
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Remove(dirs[i])
	}
	return removed
}

func (j *Janitor) pruneJobs(ctx context.Context, cutoff time.Time) (int, error) {
	var stale []string
	err := j.records.Scan(ctx, func(job *models.Job) error {
		if !finished(job.Status) {
			return nil
		}
		last := job.UpdatedAt
		if last.IsZero() {
			last = job.CreatedAt
		}
		if !last.IsZero() && last.Before(cutoff) {
			stale = append(stale, job.VideoID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range stale {
		if err := j.records.Delete(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func finished(s models.JobStatus) bool {
	return s == models.JobStatusCompleted || s == models.JobStatusFailed || s == models.JobStatusCancelled
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
