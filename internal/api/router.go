package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// BackendAPIKey guards /v1. Empty skips auth (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list. Empty allows "*".
	CorsAllowedOrigins string

	// VideosDir is served at /videos/ when local storage is in use.
	VideosDir string
}

func NewRouter(h *Handler, cfg RouterConfig, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CorsAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.VideosDir != "" {
		r.Handle("/videos/*", http.StripPrefix("/videos/", http.FileServer(http.Dir(cfg.VideosDir))))
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		r.Post("/greetings", h.CreateGreeting)
		r.Get("/greetings/{id}", h.GetGreeting)
		r.Get("/history", h.ListHistory)

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", h.ListDeadLetters)
			r.Get("/{id}", h.GetDeadLetter)
			r.Post("/{id}/retry", h.RetryDeadLetter)
			r.Delete("/{id}", h.DeleteDeadLetter)
		})
	})

	return r
}

func allowedOrigins(csv string) []string {
	var out []string
	for _, o := range strings.Split(csv, ",") {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
