package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bobarin/saludo/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis creates a queue backed by an in-memory Redis server.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewFromClient(client, "")
}

func TestQueueFIFO(t *testing.T) {
	_, q := setupMiniRedis(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))

	n, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	id, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	id, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}

func TestDequeueEmptyReturnsNothing(t *testing.T) {
	_, q := setupMiniRedis(t)

	id, err := q.Dequeue(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestEnqueueRejectsEmptyID(t *testing.T) {
	_, q := setupMiniRedis(t)
	assert.Error(t, q.Enqueue(context.Background(), ""))
}

func TestDefaultQueueName(t *testing.T) {
	_, q := setupMiniRedis(t)
	assert.Equal(t, "video:queue", q.Name())
}

func TestSubmitWritesRecordAndQueue(t *testing.T) {
	mr, q := setupMiniRedis(t)
	records := NewRecords(q.Client())
	ctx := context.Background()

	job, err := records.Submit(ctx, q, "vid-1", models.FormFields{Nombre: "Juan"})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	assert.True(t, mr.Exists("job:vid-1"))
	list, err := mr.List("video:queue")
	require.NoError(t, err)
	assert.Equal(t, []string{"vid-1"}, list)

	got, err := records.Get(ctx, "vid-1")
	require.NoError(t, err)
	assert.Equal(t, "Juan", got.Data.Nombre)
	assert.Equal(t, 0, got.Attempt)
}

func TestGetMissing(t *testing.T) {
	_, q := setupMiniRedis(t)
	_, err := NewRecords(q.Client()).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetAcceptsFrontendRecord(t *testing.T) {
	mr, q := setupMiniRedis(t)
	// Records written by the web frontend carry no attempt or updatedAt.
	require.NoError(t, mr.Set("job:web-1", `{"videoId":"web-1","status":"pending","data":{"nombre":"Ana"},"createdAt":"2025-12-20T10:00:00Z"}`))

	job, err := NewRecords(q.Client()).Get(context.Background(), "web-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", job.Data.Nombre)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 2025, job.CreatedAt.Year())
}

func TestSaveStampsUpdatedAt(t *testing.T) {
	_, q := setupMiniRedis(t)
	records := NewRecords(q.Client())
	fixed := time.Date(2025, 12, 24, 21, 0, 0, 0, time.UTC)
	records.now = func() time.Time { return fixed }

	job := &models.Job{VideoID: "v", Status: models.JobStatusProcessing}
	require.NoError(t, records.Save(context.Background(), job))

	got, err := records.Get(context.Background(), "v")
	require.NoError(t, err)
	assert.Equal(t, fixed, got.UpdatedAt)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

func TestScanVisitsAllJobs(t *testing.T) {
	mr, q := setupMiniRedis(t)
	records := NewRecords(q.Client())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, records.Save(ctx, &models.Job{VideoID: id, Status: models.JobStatusCompleted}))
	}
	require.NoError(t, mr.Set("job:broken", "{not json"))

	seen := map[string]bool{}
	require.NoError(t, records.Scan(ctx, func(j *models.Job) error {
		seen[j.VideoID] = true
		return nil
	}))
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}
