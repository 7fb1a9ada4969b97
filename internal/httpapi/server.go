// Package httpapi serves the read-mostly status API used in watch mode.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/subclip/internal/jobs"
	"github.com/MimeLyc/subclip/internal/persistence"
)

// History is the run history backing /api/runs.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]persistence.Run, error)
	GetRun(ctx context.Context, id string) (persistence.Run, bool, error)
	ListVideoResults(ctx context.Context, runID string) ([]persistence.VideoResult, error)
}

// Trigger starts a batch run in the background.
type Trigger func()

type Server struct {
	queue   *jobs.Queue
	history History
	trigger Trigger
	started time.Time

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

func WithTrigger(fn Trigger) Option {
	return func(s *Server) {
		s.trigger = fn
	}
}

func NewServer(queue *jobs.Queue, opts ...Option) *Server {
	s := &Server{
		queue:   queue,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/api/jobs/", s.handleJobDetailRoutes)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/runs/", s.handleRunDetail)
}
