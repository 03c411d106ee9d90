package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/metrics"
	"github.com/JakeFAU/site-scraper/internal/scheduler"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

const defaultRequestTimeout = 30 * time.Second

// JobService is the scheduler surface the handlers need.
type JobService interface {
	Submit(ctx context.Context, req scheduler.SubmitRequest) (scheduler.SubmitResponse, error)
	Status(ctx context.Context, jobID string) (scrape.Job, error)
	List(ctx context.Context, filter scrape.ListFilter) ([]scrape.Job, error)
	Cancel(ctx context.Context, jobID string) scheduler.CancelResult
	Stats() scheduler.Stats
}

// Options tunes the router.
type Options struct {
	// APIKey, when set, is required on every /v1 route.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the scheduler and the event stream.
type Server struct {
	router chi.Router
	jobs   JobService
	stream http.Handler
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. stream serves the
// websocket endpoint and may be nil.
func NewServer(jobs JobService, stream http.Handler, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		jobs:   jobs,
		stream: stream,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		// Upgraded connections outlive any request timeout.
		if stream != nil {
			r.Method(http.MethodGet, "/ws", stream)
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.submitJob)
				r.Get("/", s.listJobs)
				r.Route("/{job_id}", func(r chi.Router) {
					r.Get("/", s.getJob)
					r.Post("/cancel", s.cancelJob)
				})
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	stats := s.jobs.Stats()
	status := http.StatusOK
	state := "ready"
	if !stats.Running {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "scheduler": stats})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
