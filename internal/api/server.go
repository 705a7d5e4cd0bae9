// Package api exposes the HTTP interface for the scheduler service:
// operator job submission, job inspection and cancellation, health probes,
// and the Prometheus scrape endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/scheduler"
)

// TaskValidator reports whether a task name is dispatchable.
type TaskValidator interface {
	Known(name string) bool
}

// ReadyChecker reports whether downstream dependencies are reachable.
type ReadyChecker func(ctx context.Context) error

// Config controls the HTTP surface.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the job store and task registry.
type Server struct {
	router chi.Router
	jobs   scheduler.Store
	tasks  TaskValidator
	ready  ReadyChecker
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobs scheduler.Store, tasks TaskValidator, ready ReadyChecker, logger *zap.Logger, cfg Config) *Server {
	s := &Server{
		jobs:   jobs,
		tasks:  tasks,
		ready:  ready,
		logger: logger,
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	Task        string          `json:"task"`
	Payload     json.RawMessage `json:"payload"`
	DedupKey    string          `json:"dedup_key"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts"`
	Queue       string          `json:"queue"`
}

// submitJob enqueues one job. A dedup collision is indistinguishable from
// a fresh insert by design, so the response carries no job ID; operators
// inspect jobs through GET.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}
	if !s.tasks.Known(req.Task) {
		writeError(w, http.StatusUnprocessableEntity, "unknown task")
		return
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	err := s.jobs.Enqueue(r.Context(), req.Task, payload, scheduler.EnqueueOptions{
		DedupKey:    req.DedupKey,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		QueueName:   req.Queue,
	})
	if err != nil {
		s.logger.Error("enqueue via API failed", zap.String("task", req.Task), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "task": req.Task})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": toJobDTO(job)})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.MarkExhausted(r.Context(), jobID, "canceled via API"); err != nil {
		writeError(w, http.StatusConflict, "job not found or already terminal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"state":  string(scheduler.StateExhausted),
	})
}

type jobDTO struct {
	ID           string          `json:"id"`
	Task         string          `json:"task"`
	Payload      json.RawMessage `json:"payload"`
	DedupKey     string          `json:"dedup_key,omitempty"`
	Queue        string          `json:"queue,omitempty"`
	Priority     int             `json:"priority"`
	MaxAttempts  int             `json:"max_attempts"`
	AttemptCount int             `json:"attempt_count"`
	State        string          `json:"state"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toJobDTO(job *scheduler.Job) jobDTO {
	return jobDTO{
		ID:           job.ID,
		Task:         job.Name,
		Payload:      job.Payload,
		DedupKey:     job.DedupKey,
		Queue:        job.QueueName,
		Priority:     job.Priority,
		MaxAttempts:  job.MaxAttempts,
		AttemptCount: job.AttemptCount,
		State:        string(job.State),
		ScheduledAt:  job.ScheduledAt,
		LastError:    job.LastError,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
