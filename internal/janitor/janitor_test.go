package janitor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/queue"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)

type fakePruner struct {
	cutoff time.Time
}

func (p *fakePruner) DeleteJobsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return 3, nil
}

func setup(t *testing.T, cfg Config, mirror MirrorPruner) (*redis.Client, *queue.Records, *Janitor) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	records := queue.NewRecords(client)
	j, err := New(records, mirror, cfg, zerolog.Nop())
	require.NoError(t, err)
	j.now = func() time.Time { return now }
	return client, records, j
}

// putJob writes a record directly so UpdatedAt is not restamped.
func putJob(t *testing.T, client *redis.Client, id string, status models.JobStatus, updated time.Time) {
	t.Helper()
	data, err := json.Marshal(models.Job{VideoID: id, Status: status, CreatedAt: updated, UpdatedAt: updated})
	require.NoError(t, err)
	require.NoError(t, client.Set(context.Background(), queue.JobKey(id), data, 0).Err())
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(nil, nil, Config{Schedule: "every tuesday"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(nil, nil, Config{Schedule: "0 */6 * * *"}, zerolog.Nop())
	assert.NoError(t, err)
}

func TestRunOnceRemovesOldTempFiles(t *testing.T) {
	dir := t.TempDir()
	_, _, j := setup(t, Config{TempDirs: []string{dir, filepath.Join(dir, "missing")}, TempMaxAge: 24 * time.Hour}, nil)

	old := now.Add(-48 * time.Hour)
	oldFile := filepath.Join(dir, "elevenlabs-1.mp3")
	oldNested := filepath.Join(dir, "job_a_1", "final_a.mp4")
	fresh := filepath.Join(dir, "job_b_1", "main.mp4")
	touch(t, oldFile, old)
	touch(t, oldNested, old)
	require.NoError(t, os.Chtimes(filepath.Dir(oldNested), old, old))
	touch(t, fresh, now)

	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.TempFiles)
	assert.NoFileExists(t, oldFile)
	assert.NoFileExists(t, oldNested)
	assert.NoDirExists(t, filepath.Dir(oldNested))
	assert.FileExists(t, fresh)
}

func TestRunOncePrunesFinishedJobs(t *testing.T) {
	client, records, j := setup(t, Config{JobRetention: 7 * 24 * time.Hour}, nil)
	ctx := context.Background()

	old := now.Add(-8 * 24 * time.Hour)
	putJob(t, client, "old-done", models.JobStatusCompleted, old)
	putJob(t, client, "old-failed", models.JobStatusFailed, old)
	putJob(t, client, "old-pending", models.JobStatusPending, old)
	putJob(t, client, "new-done", models.JobStatusCompleted, now.Add(-time.Hour))

	report, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.JobRecords)

	for _, id := range []string{"old-done", "old-failed"} {
		_, err := records.Get(ctx, id)
		assert.ErrorIs(t, err, queue.ErrJobNotFound, id)
	}
	for _, id := range []string{"old-pending", "new-done"} {
		_, err := records.Get(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestRunOncePrunesMirror(t *testing.T) {
	p := &fakePruner{}
	_, _, j := setup(t, Config{JobRetention: 24 * time.Hour}, p)

	report, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.MirrorRows)
	assert.Equal(t, now.Add(-24*time.Hour), p.cutoff)
}

func TestStartStop(t *testing.T) {
	_, _, j := setup(t, Config{Schedule: "@every 1h"}, nil)
	require.NoError(t, j.Start(context.Background()))
	assert.Len(t, j.cron.Entries(), 1)
	j.Stop()
}
