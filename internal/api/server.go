package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/dispatcher"
	"github.com/JakeFAU/shelfscan/internal/id/uuid"
	"github.com/JakeFAU/shelfscan/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Jobs is the job lifecycle the server exposes. *dispatcher.Dispatcher
// satisfies it.
type Jobs interface {
	Submit(ctx context.Context, params crawler.JobParameters) (crawler.Job, error)
	Job(ctx context.Context, jobID string) (crawler.Job, error)
	Cancel(ctx context.Context, jobID string) (crawler.Job, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options configure the server.
type Options struct {
	APIKey         string
	AllowedOrigins []string
	RequestTimeout time.Duration
	Checks         map[string]ReadinessCheck
}

// Server wires HTTP handlers to the job dispatcher.
type Server struct {
	router chi.Router
	jobs   Jobs
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs Jobs, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{jobs: jobs, opts: opts, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/", s.submitJob)
		r.Get("/{job_id}", s.getJob)
		r.Delete("/{job_id}", s.cancelJob)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("checks", failed))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	Seeds           []string `json:"seeds"`
	Retailer        string   `json:"retailer"`
	MaxPages        int      `json:"max_pages"`
	AutoExpand      *bool    `json:"auto_expand"`
	MinSafePages    int      `json:"min_safe_pages"`
	HeadlessAllowed *bool    `json:"headless_allowed"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.jobs.Submit(r.Context(), crawler.JobParameters{
		Seeds:           req.Seeds,
		Retailer:        req.Retailer,
		MaxPages:        req.MaxPages,
		AutoExpand:      req.AutoExpand,
		MinSafePages:    req.MinSafePages,
		HeadlessAllowed: req.HeadlessAllowed,
	})
	switch {
	case errors.Is(err, dispatcher.ErrInvalidJob):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, dispatcher.ErrQueueFull):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "job queue is full")
		return
	case err != nil:
		s.logger.Error("submit job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	s.withJob(w, r, s.jobs.Job, http.StatusOK)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.withJob(w, r, s.jobs.Cancel, http.StatusAccepted)
}

func (s *Server) withJob(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, string) (crawler.Job, error),
	status int,
) {
	jobID := chi.URLParam(r, "job_id")
	if !uuid.Valid(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job, err := op(r.Context(), jobID)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		s.logger.Error("job request failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	if job.Status.IsTerminal() && status == http.StatusAccepted {
		status = http.StatusOK
	}
	writeJSON(w, status, job)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
