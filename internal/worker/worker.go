package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobarin/saludo/internal/dlq"
	"github.com/bobarin/saludo/internal/lock"
	"github.com/bobarin/saludo/internal/logging"
	"github.com/bobarin/saludo/internal/metrics"
	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/notify"
	"github.com/bobarin/saludo/internal/orchestrator"
	"github.com/bobarin/saludo/internal/queue"
	"github.com/bobarin/saludo/internal/storage"
	"github.com/rs/zerolog"
)

// bookkeepingTimeout bounds status writes made after the job context is gone.
const bookkeepingTimeout = 10 * time.Second

// Pipeline turns a job into a local video. *orchestrator.Orchestrator is the
// production implementation.
type Pipeline interface {
	Run(ctx context.Context, job *models.Job) (*orchestrator.Result, error)
}

// JobMirror receives every status change. *db.DB implements it.
type JobMirror interface {
	UpsertJob(ctx context.Context, job *models.Job) error
}

type Config struct {
	MaxAttempts   int
	LockTTL       time.Duration
	PollTimeout   time.Duration
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Minute
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Minute
	}
	return c
}

// Deps are the collaborators a worker drives. Mirror and Notifier may be nil.
type Deps struct {
	Queue    *queue.Queue
	Records  *queue.Records
	Locks    *lock.JobLocker
	DLQ      *dlq.Store
	Pipeline Pipeline
	Uploader storage.Uploader
	Notifier notify.Notifier
	Mirror   JobMirror
}

type Worker struct {
	queue    *queue.Queue
	records  *queue.Records
	locks    *lock.JobLocker
	dlq      *dlq.Store
	pipeline Pipeline
	uploader storage.Uploader
	notifier notify.Notifier
	mirror   JobMirror

	cfg Config
	log zerolog.Logger
	now func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	// shutdown closes when Stop is called; the in-flight job then has
	// ShutdownGrace to finish.
	shutdown     chan struct{}
	shutdownOnce sync.Once

	// lockLost is set by the heartbeat of the current job. Jobs run one at a
	// time per worker.
	lockLost atomic.Bool
}

func New(deps Deps, cfg Config, log zerolog.Logger) *Worker {
	return &Worker{
		queue:    deps.Queue,
		records:  deps.Records,
		locks:    deps.Locks,
		dlq:      deps.DLQ,
		pipeline: deps.Pipeline,
		uploader: deps.Uploader,
		notifier: deps.Notifier,
		mirror:   deps.Mirror,
		cfg:      cfg.withDefaults(),
		log:      logging.Component(log, "worker"),
		now:      time.Now,
		shutdown: make(chan struct{}),
	}
}

// Start runs the loop in the background until Stop is called or ctx ends.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	w.log.Info().
		Str("queue", w.queue.Name()).
		Int("max_attempts", w.cfg.MaxAttempts).
		Dur("lock_ttl", w.cfg.LockTTL).
		Msg("worker started")

	go func() {
		defer close(w.done)
		w.loop(ctx)
	}()
}

// Stop prevents new jobs from starting and waits for the in-flight one. A job
// still running after ShutdownGrace is cancelled.
func (w *Worker) Stop() {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.log.Info().Msg("worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		videoID, err := w.queue.Dequeue(ctx, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("dequeue failed")
			sleep(ctx, time.Second)
			continue
		}

		if videoID == "" {
			w.sampleQueueDepth(ctx)
			continue
		}

		if ctx.Err() != nil {
			// Popped while shutting down: hand it back untouched.
			w.requeueID(videoID)
			return
		}

		w.ProcessJob(ctx, videoID)
	}
}

// ProcessJob runs one job end to end under its lock.
func (w *Worker) ProcessJob(ctx context.Context, videoID string) {
	log := logging.WithJob(w.log, videoID)

	handle, err := w.locks.Acquire(ctx, videoID, w.cfg.LockTTL, false, 0)
	if errors.Is(err, lock.ErrNotAcquired) {
		log.Info().Msg("job locked by another worker, skipping")
		metrics.JobOutcome("skipped")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("lock acquire failed, requeueing")
		w.requeueID(videoID)
		return
	}

	w.lockLost.Store(false)
	jobCtx, cancelJob := w.jobContext(ctx)
	defer cancelJob()

	stopHeartbeat := w.heartbeat(jobCtx, cancelJob, handle, log)
	defer func() {
		stopHeartbeat()
		rctx, cancel := w.bookkeeping(ctx)
		defer cancel()
		if _, err := w.locks.Release(rctx, handle); err != nil {
			log.Warn().Err(err).Msg("lock release failed")
		}
	}()

	job, err := w.records.Get(jobCtx, videoID)
	if errors.Is(err, queue.ErrJobNotFound) {
		log.Warn().Msg("job record missing, dropping id")
		metrics.JobOutcome("skipped")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load job, requeueing")
		w.requeueID(videoID)
		return
	}
	if job.Status.Terminal() {
		log.Info().Str("status", string(job.Status)).Msg("job already finished, skipping")
		metrics.JobOutcome("skipped")
		return
	}

	w.run(ctx, jobCtx, job, log)
}

func (w *Worker) run(ctx, jobCtx context.Context, job *models.Job, log zerolog.Logger) {
	start := w.now()
	job.Status = models.JobStatusProcessing
	job.Error = ""
	w.save(ctx, job, log)
	log.Info().Int("attempt", job.Attempt).Msg("processing job")

	result, err := w.pipeline.Run(jobCtx, job)
	if err != nil {
		w.fail(ctx, jobCtx, job, err, log)
		return
	}
	defer func() {
		if result.WorkDir != "" {
			os.RemoveAll(result.WorkDir)
		}
	}()

	url, err := w.uploader.UploadVideo(jobCtx, job.VideoID, result.VideoPath)
	if err != nil {
		w.fail(ctx, jobCtx, job, fmt.Errorf("upload: %w", err), log)
		return
	}

	completedAt := w.now().UTC()
	job.Status = models.JobStatusCompleted
	job.VideoURL = url
	job.Strategy = result.Strategy
	job.CompletedAt = &completedAt
	job.FailedAt = nil
	w.save(ctx, job, log)
	metrics.JobOutcome("completed")

	log.Info().
		Str("strategy", result.Strategy).
		Strs("attempted", result.Attempted).
		Dur("elapsed", w.now().Sub(start)).
		Msg("job completed")

	w.notifyReady(ctx, jobCtx, job, log)
}

// notifyReady never reverts completion; a failed send is recorded on the job.
func (w *Worker) notifyReady(ctx, jobCtx context.Context, job *models.Job, log zerolog.Logger) {
	if w.notifier == nil {
		return
	}
	err := w.notifier.NotifyReady(jobCtx, job.Data.Email, job.Data.Nombre, job.VideoURL)
	if errors.Is(err, notify.ErrNotConfigured) {
		log.Debug().Msg("email not configured, skipping notification")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("notification failed")
		job.NotifyError = err.Error()
		w.save(ctx, job, log)
	}
}

// fail applies the job-level retry policy: requeue while attempts remain,
// otherwise dead-letter and mark failed.
func (w *Worker) fail(ctx, jobCtx context.Context, job *models.Job, cause error, log zerolog.Logger) {
	if w.lockLost.Load() {
		// Another worker owns the job now; its record is not ours to touch.
		log.Warn().Err(cause).Msg("job abandoned after losing its lock")
		return
	}

	job.Error = cause.Error()

	if w.interrupted(ctx) && jobCtx.Err() != nil {
		// Cut off by shutdown: not the job's fault, so the attempt is not spent.
		log.Warn().Err(cause).Msg("job interrupted by shutdown, requeueing")
		job.Status = models.JobStatusPending
		w.save(ctx, job, log)
		w.requeueID(job.VideoID)
		metrics.JobOutcome("requeued")
		return
	}

	if job.Attempt+1 < w.cfg.MaxAttempts {
		job.Attempt++
		job.Status = models.JobStatusPending
		w.save(ctx, job, log)
		w.requeueID(job.VideoID)
		metrics.JobOutcome("requeued")
		log.Warn().Err(cause).Int("next_attempt", job.Attempt).Msg("job failed, requeued")
		return
	}

	job.Attempt++
	failedAt := w.now().UTC()
	job.Status = models.JobStatusFailed
	job.FailedAt = &failedAt

	entry := models.DeadLetterEntry{
		JobID:       job.VideoID,
		Payload:     deadLetterPayload(job, log),
		LastError:   cause.Error(),
		Attempt:     job.Attempt,
		MaxAttempts: w.cfg.MaxAttempts,
		FailedAt:    failedAt,
	}

	bctx, cancel := w.bookkeeping(ctx)
	defer cancel()
	if err := w.dlq.Add(bctx, entry); err != nil {
		log.Error().Err(err).Msg("failed to dead-letter job")
	}
	w.save(ctx, job, log)
	metrics.JobOutcome("dead_lettered")
	log.Error().Err(cause).Int("attempts", job.Attempt).Msg("job dead-lettered")
}

// deadLetterPayload is the form dlq.Retry rebuilds the job from once the
// janitor has pruned its record.
func deadLetterPayload(job *models.Job, log zerolog.Logger) json.RawMessage {
	payload, err := json.Marshal(job.Data)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode form for dead-letter entry, retry needs the job record")
		return nil
	}
	return payload
}

func (w *Worker) interrupted(ctx context.Context) bool {
	select {
	case <-w.shutdown:
		return true
	default:
		return ctx.Err() != nil
	}
}

// jobContext outlives ctx: once ctx ends the job gets ShutdownGrace more.
func (w *Worker) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-jobCtx.Done():
			return
		case <-ctx.Done():
		}
		t := time.NewTimer(w.cfg.ShutdownGrace)
		defer t.Stop()
		select {
		case <-jobCtx.Done():
		case <-t.C:
			w.log.Warn().Dur("grace", w.cfg.ShutdownGrace).Msg("shutdown grace elapsed, cancelling job")
			cancel()
		}
	}()
	return jobCtx, cancel
}

// heartbeat extends the lock every ttl/3. Losing the lock cancels the job so
// two workers never publish the same greeting.
func (w *Worker) heartbeat(ctx context.Context, cancelJob context.CancelFunc, h *lock.Handle, log zerolog.Logger) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(w.cfg.LockTTL / 3)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				ok, err := w.locks.Extend(ctx, h, w.cfg.LockTTL)
				if err != nil {
					log.Warn().Err(err).Msg("lock extend failed")
					continue
				}
				if !ok {
					log.Error().Msg("job lock lost, cancelling job")
					w.lockLost.Store(true)
					cancelJob()
					return
				}
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}

func (w *Worker) save(ctx context.Context, job *models.Job, log zerolog.Logger) {
	bctx, cancel := w.bookkeeping(ctx)
	defer cancel()

	if err := w.records.Save(bctx, job); err != nil {
		log.Error().Err(err).Str("status", string(job.Status)).Msg("failed to save job")
	}
	if w.mirror != nil {
		if err := w.mirror.UpsertJob(bctx, job); err != nil {
			log.Warn().Err(err).Msg("failed to mirror job")
		}
	}
}

func (w *Worker) requeueID(videoID string) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	if err := w.queue.Enqueue(ctx, videoID); err != nil {
		w.log.Error().Err(err).Str("job_id", videoID).Msg("failed to requeue job")
	}
}

func (w *Worker) bookkeeping(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

func (w *Worker) sampleQueueDepth(ctx context.Context) {
	n, err := w.queue.Length(ctx)
	if err == nil {
		metrics.SetQueueDepth(n)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
