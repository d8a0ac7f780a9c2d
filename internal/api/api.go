// Package api exposes the post queue, submission problems and site status over
// HTTP, with queue changes streamed as server-sent events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/abdulachik/multipost/internal/db"
	"github.com/abdulachik/multipost/internal/queue"
	"github.com/abdulachik/multipost/internal/scheduler"
	"github.com/abdulachik/multipost/internal/submission"
	"github.com/abdulachik/multipost/internal/website"
)

// Queue is the post queue as seen by the API.
type Queue interface {
	Enqueue(ctx context.Context, sub *submission.Submission) (*queue.Entry, error)
	Requeue(ctx context.Context, sub *submission.Submission, sites []string) (*queue.Entry, error)
	Dequeue(ctx context.Context, id string) error
	CancelAll(ctx context.Context) error
	Snapshot() []queue.Entry
	Get(id string) (queue.Entry, bool)
	Subscribe() (<-chan []queue.Entry, func())
	Validate(sub *submission.Submission) []string
}

// Submissions reads and updates stored submissions.
type Submissions interface {
	GetSubmissions(ctx context.Context) ([]*submission.Submission, error)
	GetSubmission(ctx context.Context, id string) (*submission.Submission, error)
	UpdateSubmission(ctx context.Context, sub *submission.Submission) error
	Delete(ctx context.Context, ids []string) error
}

// ChangeStream streams the stored submissions after every change.
type ChangeStream interface {
	Changes(ctx context.Context) (<-chan []*submission.Submission, func(), error)
}

// Sites resolves registered adapters.
type Sites interface {
	Get(id string) (website.Handle, error)
	Descriptors() []website.Descriptor
}

// History lists recorded post attempts.
type History interface {
	ListAttempts(ctx context.Context, f db.AttemptFilter, limit uint64) ([]db.Attempt, error)
}

// Health reports the scheduler's component health.
type Health interface {
	Snapshot() []scheduler.HealthStatus
	IsOverallHealthy() bool
}

// Config holds the API collaborators. Changes, History and Health are optional.
type Config struct {
	Queue       Queue
	Submissions Submissions
	Changes     ChangeStream
	Sites       Sites
	History     History
	Health      Health

	// Heartbeat is the interval of keep-alive comments on event streams.
	Heartbeat time.Duration
}

// Server serves the HTTP API.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// NewServer creates a server.
func NewServer(cfg Config) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	return &Server{cfg: cfg, logger: slog.Default().With("component", "api")}
}

// Router builds the chi router.
func (s *Server) Router() *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(requestLogger(s.logger))
	mux.Use(middleware.Recoverer)

	mux.Get("/health", s.handleHealth)

	mux.Route("/queue", func(r chi.Router) {
		r.Get("/", s.handleQueue)
		r.Get("/events", s.handleQueueEvents)
		r.Post("/cancel", s.handleCancelAll)
		r.Get("/{id}", s.handleEntry)
		r.Delete("/{id}", s.handleDequeue)
	})

	mux.Route("/submissions", func(r chi.Router) {
		r.Get("/", s.handleSubmissions)
		r.Get("/events", s.handleSubmissionEvents)
		r.Delete("/{id}", s.handleDeleteSubmission)
		r.Post("/{id}/queue", s.handleEnqueue)
		r.Post("/{id}/requeue", s.handleRequeue)
		r.Get("/{id}/problems", s.handleProblems)
		r.Get("/{id}/attempts", s.handleAttempts)
	})

	mux.Route("/sites", func(r chi.Router) {
		r.Get("/", s.handleSites)
		r.Get("/{site}/status", s.handleSiteStatus)
		r.Get("/{site}/folders", s.handleSiteFolders)
	})

	return mux
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"failed to marshal JSON response"}`)); werr != nil {
			s.logger.Error("failed to write error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		s.logger.Error("failed to write JSON response", "error", err)
	}
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, errorResponse{Error: msg})
}

// respondErr maps domain errors to status codes.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	var verr *queue.ValidationError
	switch {
	case errors.As(err, &verr):
		s.respondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "submission has problems", Problems: verr.Problems})
	case errors.Is(err, queue.ErrAlreadyQueued):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrNotFound), errors.Is(err, queue.ErrEntryNotFound), errors.Is(err, website.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}
