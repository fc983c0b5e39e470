// Package api exposes the conversion pipeline over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dgallion1/docprompt/internal/config"
	"github.com/dgallion1/docprompt/internal/extract"
	"github.com/dgallion1/docprompt/internal/pathstore"
	"github.com/dgallion1/docprompt/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// JobRunner queues jobs and looks them up. *pipeline.Orchestrator satisfies it.
type JobRunner interface {
	Submit(job *pipeline.Job) error
	GetJob(id string) *pipeline.Job
}

// DocumentStore is the part of the pathstore client the document endpoints use.
type DocumentStore interface {
	ListChildren(ctx context.Context, key string, limit int) ([]pathstore.ListChildrenResponse, error)
	GetNode(ctx context.Context, key string) (*pathstore.NodeResponse, error)
	DeleteNode(ctx context.Context, key string, recursive bool) error
}

// Server is the HTTP API server for docprompt.
type Server struct {
	router   chi.Router
	jobs     JobRunner
	docs     DocumentStore
	stats    *extract.LatencyStats
	log      *slog.Logger
	cfg      config.Config
	defaults pipeline.RunConfig
}

// NewServer creates and configures the HTTP server. docs and stats may be
// nil; their endpoints then answer 503.
func NewServer(jobs JobRunner, docs DocumentStore, stats *extract.LatencyStats, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		jobs:     jobs,
		docs:     docs,
		stats:    stats,
		log:      log,
		cfg:      cfg,
		defaults: cfg.RunConfig(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/jobs", s.handleCreateJob)
		r.Post("/api/jobs/upload", s.handleUpload)
		r.Get("/api/jobs/{jobID}", s.handleJobStatus)
		r.Get("/api/jobs/{jobID}/result", s.handleJobResult)
		r.Get("/api/stats/extract", s.handleExtractStats)

		r.Get("/api/documents", s.handleListDocuments)
		r.Delete("/api/documents/{docID}", s.handleDeleteDocument)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
