// Package api exposes the HTTP interface for the scraping service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crowdlens/social-crawler/internal/config"
	"github.com/crowdlens/social-crawler/internal/metrics"
	"github.com/crowdlens/social-crawler/internal/ratelimit"
	"github.com/crowdlens/social-crawler/internal/scrape"
)

// Drainer runs queued jobs; the worker satisfies it.
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

// Server wires HTTP handlers to the job store, queue, and worker.
type Server struct {
	router   chi.Router
	jobStore scrape.JobStore
	queue    scrape.Queue
	drainer  Drainer
	idGen    scrape.IDGenerator
	clock    scrape.Clock
	limiter  *ratelimit.Limiter
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore scrape.JobStore,
	queue scrape.Queue,
	drainer Drainer,
	idGen scrape.IDGenerator,
	clock scrape.Clock,
	limiter *ratelimit.Limiter,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		jobStore: jobStore,
		queue:    queue,
		drainer:  drainer,
		idGen:    idGen,
		clock:    clock,
		limiter:  limiter,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(60 * time.Second))

		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		r.Get("/v1/limits", s.getLimits)
		r.Post("/v1/jobs", s.submitJob)
		r.Get("/v1/jobs/{job_id}", s.getJob)
		r.Post("/v1/jobs/{job_id}/cancel", s.cancelJob)
	})

	// A drain runs the queued scrape jobs synchronously and takes as long
	// as the jobs do; a request timeout here would cancel in-flight jobs
	// mid-run.
	r.Post("/v1/jobs/process", s.processJobs)

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
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getLimits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actor_api": s.limiter.Status()})
}

type submitJobRequest struct {
	CampaignRef string              `json:"campaign_ref"`
	Sources     []scrape.SourceSpec `json:"sources"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateSources(req.Sources); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CampaignRef == "" {
		req.CampaignRef = "default"
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate job id")
		return
	}
	job := scrape.ScrapeJob{
		ID:          jobID,
		CampaignRef: req.CampaignRef,
		Sources:     req.Sources,
		Status:      scrape.JobStatusQueued,
		QueuedAt:    s.clock.Now(),
	}
	if err := s.jobStore.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job: %v", err))
		return
	}
	if err := s.queue.Enqueue(r.Context(), jobID); err != nil {
		// Without a queue entry the row would sit in queued forever.
		if cancelErr := s.jobStore.CancelJob(r.Context(), jobID); cancelErr != nil {
			s.logger.Error("cancel stranded job failed",
				zap.String("job_id", jobID), zap.Error(cancelErr))
		}
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("enqueue job: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(scrape.JobStatusQueued),
	})
}

// processJobs drains the queue synchronously. Scrape runs take minutes, so
// callers invoke this from a scheduler or controller loop rather than a
// user-facing request path.
func (s *Server) processJobs(w http.ResponseWriter, r *http.Request) {
	processed, err := s.drainer.Drain(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if errors.Is(err, scrape.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := s.jobStore.CancelJob(r.Context(), jobID)
	switch {
	case errors.Is(err, scrape.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, scrape.ErrNotQueued):
		writeError(w, http.StatusConflict, "only queued jobs can be cancelled")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id": jobID,
			"status": string(scrape.JobStatusCancelled),
		})
	}
}

func validateSources(sources []scrape.SourceSpec) error {
	if len(sources) == 0 {
		return errors.New("at least one source required")
	}
	for i, src := range sources {
		switch src.Platform {
		case scrape.PlatformTikTok, scrape.PlatformInstagram:
		default:
			return fmt.Errorf("sources[%d]: unknown platform %q", i, src.Platform)
		}
		switch src.Type {
		case scrape.SourceProfile, scrape.SourceHashtag, scrape.SourceKeyword:
		default:
			return fmt.Errorf("sources[%d]: unknown source type %q", i, src.Type)
		}
		if src.Value == "" {
			return fmt.Errorf("sources[%d]: value required", i)
		}
		if src.MaxItems < 0 {
			return fmt.Errorf("sources[%d]: max_items must be >= 0", i)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
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

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, time.Since(start))
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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
				writeError(w, http.StatusUnauthorized, "invalid api key")
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

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}
