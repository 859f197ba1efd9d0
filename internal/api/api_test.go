package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bobarin/saludo/internal/dlq"
	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/queue"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storageStub bool

func (s storageStub) Configured() bool { return bool(s) }

type historyStub struct {
	jobs   []models.Job
	err    error
	status string
	limit  int
}

func (h *historyStub) ListJobs(_ context.Context, status string, limit, _ int) ([]models.Job, error) {
	h.status, h.limit = status, limit
	return h.jobs, h.err
}

type env struct {
	mr      *miniredis.Miniredis
	q       *queue.Queue
	records *queue.Records
	dlq     *dlq.Store
	deps    Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := queue.NewFromClient(client, "")
	records := queue.NewRecords(client)
	store := dlq.New(q, records, zerolog.Nop())

	asset := filepath.Join(t.TempDir(), "intro.mov")
	require.NoError(t, os.WriteFile(asset, []byte("mov"), 0o644))

	return &env{
		mr: mr, q: q, records: records, dlq: store,
		deps: Deps{
			Queue:   q,
			Records: records,
			DLQ:     store,
			Storage: storageStub(true),
			Assets:  []string{asset},
			Providers: func() []models.ProviderDescriptor {
				return []models.ProviderDescriptor{
					{Name: "elevenlabs", Capability: models.CapabilityTTS, Priority: 1, Available: true},
					{Name: "cartesia", Capability: models.CapabilityTTS, Priority: 2, Available: false},
					{Name: "synclabs", Capability: models.CapabilityLipSync, Priority: 1, Available: true},
				}
			},
		},
	}
}

func (e *env) router(cfg RouterConfig) http.Handler {
	return NewRouter(NewHandler(e.deps, zerolog.Nop()), cfg, zerolog.Nop())
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func validRequest() models.CreateGreetingRequest {
	return models.CreateGreetingRequest{
		FormFields: models.FormFields{
			Nombre:            "Sofía",
			Parentesco:        "hija",
			Email:             "sofia",
			Provincia:         "Córdoba",
			QueHizo:           "Ayudó   a su abuela",
			RecuerdoEspecial:  "El viaje al mar",
			PedidoNocheMagica: "Una bicicleta",
		},
		EmailDomain: "@example.com",
	}
}

func TestCreateGreetingQueuesJob(t *testing.T) {
	e := newEnv(t)
	rec := do(t, e.router(RouterConfig{}), http.MethodPost, "/v1/greetings", validRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp models.GreetingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.VideoID)
	assert.Equal(t, models.JobStatusPending, resp.Status)

	job, err := e.records.Get(context.Background(), resp.VideoID)
	require.NoError(t, err)
	assert.Equal(t, "sofia@example.com", job.Data.Email)
	assert.Equal(t, "Ayudó a su abuela", job.Data.QueHizo)

	id, err := e.q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, resp.VideoID, id)
}

func TestCreateGreetingRejectsInvalidForm(t *testing.T) {
	e := newEnv(t)
	req := validRequest()
	req.Nombre = "R2D2"
	req.Provincia = ""

	rec := do(t, e.router(RouterConfig{}), http.MethodPost, "/v1/greetings", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Problems []string `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Problems, 2)

	n, err := e.q.Length(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateGreetingRejectsBadJSON(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/greetings", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	e.router(RouterConfig{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetGreeting(t *testing.T) {
	e := newEnv(t)
	h := e.router(RouterConfig{})

	rec := do(t, h, http.MethodGet, "/v1/greetings/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := e.records.Submit(context.Background(), e.q, "vid-1", validRequest().FormFields)
	require.NoError(t, err)

	rec = do(t, h, http.MethodGet, "/v1/greetings/vid-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"videoId":"vid-1"`)
	assert.NotContains(t, rec.Body.String(), "sofia", "form data must not leak")
}

func TestAPIKeyAuth(t *testing.T) {
	e := newEnv(t)
	h := e.router(RouterConfig{BackendAPIKey: "s3cret"})

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/dlq", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/v1/dlq", nil, "X-API-Key", "nope").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/dlq", nil, "X-API-Key", "s3cret").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/dlq", nil, "Authorization", "Bearer s3cret").Code)

	// Health stays public.
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
}

func TestDeadLetterAdmin(t *testing.T) {
	e := newEnv(t)
	h := e.router(RouterConfig{})
	ctx := context.Background()

	job, err := e.records.Submit(ctx, e.q, "vid-dead", validRequest().FormFields)
	require.NoError(t, err)
	_, err = e.q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	payload, err := json.Marshal(job.Data)
	require.NoError(t, err)
	require.NoError(t, e.dlq.Add(ctx, models.DeadLetterEntry{
		JobID: "vid-dead", Payload: payload, LastError: "all strategies failed",
		Attempt: 3, MaxAttempts: 3, FailedAt: time.Now().UTC(),
	}))

	rec := do(t, h, http.MethodGet, "/v1/dlq", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Entries []models.DeadLetterEntry `json:"entries"`
		Total   int64                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, "all strategies failed", list.Entries[0].LastError)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/dlq/vid-dead", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/dlq/other", nil).Code)

	rec = do(t, h, http.MethodPost, "/v1/dlq/vid-dead/retry", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id, err := e.q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "vid-dead", id)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/v1/dlq/vid-dead/retry", nil).Code)
}

func TestDeleteDeadLetter(t *testing.T) {
	e := newEnv(t)
	h := e.router(RouterConfig{})
	require.NoError(t, e.dlq.Add(context.Background(), models.DeadLetterEntry{JobID: "x", Payload: json.RawMessage(`{}`)}))

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/dlq/x", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/dlq/x", nil).Code)
}

func TestHistory(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusNotImplemented, do(t, e.router(RouterConfig{}), http.MethodGet, "/v1/history", nil).Code)

	hist := &historyStub{jobs: []models.Job{{VideoID: "a", Status: models.JobStatusCompleted}}}
	e.deps.History = hist
	h := e.router(RouterConfig{})

	rec := do(t, h, http.MethodGet, "/v1/history?status=completed&limit=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", hist.status)
	assert.Equal(t, 100, hist.limit)
	assert.Contains(t, rec.Body.String(), `"videoId":"a"`)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/history?status=bogus", nil).Code)

	hist.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/v1/history", nil).Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := do(t, e.router(RouterConfig{}), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, 1, report.Providers["tts"])
	assert.Equal(t, 1, report.Providers["lipsync"])
	assert.True(t, report.Storage)
}

func TestHealthMissingAsset(t *testing.T) {
	e := newEnv(t)
	e.deps.Assets = append(e.deps.Assets, filepath.Join(t.TempDir(), "outro.mov"))

	rec := do(t, e.router(RouterConfig{}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "outro.mov")
}

func TestHealthRedisDown(t *testing.T) {
	e := newEnv(t)
	e.mr.Close()

	rec := do(t, e.router(RouterConfig{}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServesLocalVideos(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "abc.mp4"), []byte("video"), 0o644))

	rec := do(t, e.router(RouterConfig{VideosDir: dir}), http.MethodGet, "/videos/abc.mp4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video", rec.Body.String())
}

func TestAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, allowedOrigins(""))
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, allowedOrigins(" https://a.com, ,https://b.com "))
}
