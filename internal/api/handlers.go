package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/bobarin/saludo/internal/dlq"
	"github.com/bobarin/saludo/internal/greeting"
	"github.com/bobarin/saludo/internal/logging"
	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// History is the optional Postgres mirror of finished and running jobs.
type History interface {
	ListJobs(ctx context.Context, status string, limit, offset int) ([]models.Job, error)
}

// Deps are the collaborators the handlers read from. History and Providers
// may be nil.
type Deps struct {
	Queue     *queue.Queue
	Records   *queue.Records
	DLQ       *dlq.Store
	History   History
	Providers func() []models.ProviderDescriptor
	Storage   interface{ Configured() bool }
	Assets    []string
}

type Handler struct {
	deps Deps
	log  zerolog.Logger
}

func NewHandler(deps Deps, log zerolog.Logger) *Handler {
	return &Handler{deps: deps, log: logging.Component(log, "api")}
}

// CreateGreeting handles POST /v1/greetings
func (h *Handler) CreateGreeting(w http.ResponseWriter, r *http.Request) {
	var req models.CreateGreetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := greeting.Validate(req.FormFields, req.EmailDomain); err != nil {
		var verr *greeting.ValidationError
		if errors.As(err, &verr) {
			respondJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":    "Invalid form",
				"problems": verr.Problems,
			})
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	form := greeting.Normalize(req.FormFields, req.EmailDomain)
	job, err := h.deps.Records.Submit(r.Context(), h.deps.Queue, uuid.NewString(), form)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to submit greeting")
		respondError(w, http.StatusInternalServerError, "Failed to enqueue greeting")
		return
	}

	h.log.Info().Str("job_id", job.VideoID).Msg("greeting queued")
	respondJSON(w, http.StatusCreated, job.ToResponse())
}

// GetGreeting handles GET /v1/greetings/{id}
func (h *Handler) GetGreeting(w http.ResponseWriter, r *http.Request) {
	job, err := h.deps.Records.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, queue.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "Greeting not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load greeting")
		return
	}
	respondJSON(w, http.StatusOK, job.ToResponse())
}

// ListHistory handles GET /v1/history
// Query params:
//   - status: filter by job status
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		respondError(w, http.StatusNotImplemented, "Job history is not enabled")
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !models.JobStatus(status).Valid() {
		respondError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	jobs, err := h.deps.History.ListJobs(r.Context(), status, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list history")
		respondError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}

	out := make([]models.GreetingResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobs[i].ToResponse())
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   out,
		"limit":  limit,
		"offset": offset,
	})
}

// ListDeadLetters handles GET /v1/dlq
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	entries, err := h.deps.DLQ.List(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list dead letters")
		return
	}
	total, err := h.deps.DLQ.Count(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count dead letters")
		return
	}
	if entries == nil {
		entries = []models.DeadLetterEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}

// GetDeadLetter handles GET /v1/dlq/{id}
func (h *Handler) GetDeadLetter(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.DLQ.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, dlq.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Dead letter not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load dead letter")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// RetryDeadLetter handles POST /v1/dlq/{id}/retry
func (h *Handler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.deps.DLQ.Retry(r.Context(), id)
	if errors.Is(err, dlq.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Dead letter not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", id).Msg("dead letter retry failed")
		respondError(w, http.StatusInternalServerError, "Failed to retry dead letter")
		return
	}
	h.log.Info().Str("job_id", id).Msg("dead letter requeued")
	respondJSON(w, http.StatusAccepted, map[string]string{"videoId": id, "status": string(models.JobStatusPending)})
}

// DeleteDeadLetter handles DELETE /v1/dlq/{id}
func (h *Handler) DeleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	removed, err := h.deps.DLQ.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to remove dead letter")
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, "Dead letter not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status    string         `json:"status"`
	Redis     string         `json:"redis"`
	Assets    string         `json:"assets"`
	Storage   bool           `json:"storage"`
	Providers map[string]int `json:"providers,omitempty"`
	Queue     int64          `json:"queue"`
}

// Health checks Redis, the fixed assets and storage. Any failure is a 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	report := HealthReport{Status: "ok", Redis: "ok", Assets: "ok"}

	var g errgroup.Group
	g.Go(func() error {
		if err := h.deps.Queue.Ping(ctx); err != nil {
			report.Redis = err.Error()
			return err
		}
		n, err := h.deps.Queue.Length(ctx)
		if err == nil {
			report.Queue = n
		}
		return nil
	})
	g.Go(func() error {
		for _, p := range h.deps.Assets {
			if _, err := os.Stat(p); err != nil {
				report.Assets = fmt.Sprintf("missing %s", p)
				return err
			}
		}
		return nil
	})
	err := g.Wait()

	if h.deps.Storage != nil {
		report.Storage = h.deps.Storage.Configured()
	}
	if h.deps.Providers != nil {
		report.Providers = map[string]int{}
		for _, d := range h.deps.Providers() {
			if d.Available {
				report.Providers[string(d.Capability)]++
			}
		}
	}

	status := http.StatusOK
	if err != nil || !report.Storage {
		report.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
