package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/blob"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/export"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/pipeline"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/repository"
)

// Server is the HTTP surface: upload, trigger, status, result, export.
// Triggering is a fast synchronous prefix; extraction always happens on
// the dispatcher's workers.
type Server struct {
	jobs      repository.JobRepository
	blobs     blob.Store
	disp      *pipeline.Dispatcher
	exporter  *export.Service
	health    func(ctx context.Context) error
	maxUpload int64
	log       *zap.Logger
}

// Option overrides a Server default.
type Option func(*Server)

// WithMaxUploadBytes caps the size of one receipt upload.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

func New(jobs repository.JobRepository, blobs blob.Store, disp *pipeline.Dispatcher, exporter *export.Service, health func(ctx context.Context) error, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:      jobs,
		blobs:     blobs,
		disp:      disp,
		exporter:  exporter,
		health:    health,
		maxUpload: defaultMaxUploadBytes,
		log:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Owner-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.ownerMiddleware)
		r.Post("/receipts", s.handleUpload)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/{id}/process", s.handleProcess)
			r.Get("/{id}/status", s.handleStatus)
			r.Get("/{id}/result", s.handleResult)
		})
		r.Get("/export", s.handleExport)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.log.Error("http.health.failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
