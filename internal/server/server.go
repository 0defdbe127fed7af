// Package server exposes the HTTP trigger and job inspection endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/raphaelgruber/kbingest/internal/metrics"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
)

// maxBatch caps ?batch= on manual triggers.
const maxBatch = 100

// CycleRunner runs one claim-and-process cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, n int) (service.CycleReport, error)
}

// Server routes HTTP requests to the dispatcher and job store.
type Server struct {
	jobs         service.JobStore
	runner       CycleRunner
	metrics      *metrics.Collector
	logger       *slog.Logger
	defaultBatch int

	// running serializes manual triggers; a second trigger gets 409.
	running sync.Mutex
}

// New creates a server. collector may be nil.
func New(jobs service.JobStore, runner CycleRunner, collector *metrics.Collector, defaultBatch int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultBatch <= 0 {
		defaultBatch = 10
	}
	return &Server{
		jobs:         jobs,
		runner:       runner,
		metrics:      collector,
		logger:       logger.With("component", "server"),
		defaultBatch: defaultBatch,
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest/run", s.handleRun)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("POST /jobs", s.handleEnqueue)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	return LoggingMiddleware(s.logger)(mux)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	n := s.defaultBatch
	if v := r.URL.Query().Get("batch"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > maxBatch {
			writeError(w, http.StatusBadRequest, "batch must be between 1 and 100")
			return
		}
		n = parsed
	}

	if !s.running.TryLock() {
		writeError(w, http.StatusConflict, "a cycle is already running")
		return
	}
	defer s.running.Unlock()

	report, err := s.runner.RunCycle(r.Context(), n)
	if err != nil {
		s.logger.Error("manual cycle failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), r.PathValue("id"))
	if errors.Is(err, service.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.JobStatus(q.Get("status"))
	switch status {
	case "", models.JobQueued, models.JobProcessing, models.JobComplete, models.JobError:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	jobs, err := s.jobs.ListJobs(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var sub models.JobSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if sub.SourceID == "" || sub.VersionID == "" {
		writeError(w, http.StatusBadRequest, "source_id and version_id are required")
		return
	}

	job, err := s.jobs.Enqueue(r.Context(), sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// pinger is implemented by stores with a remote connection.
type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.jobs.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, metrics.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
