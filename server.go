package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/LexiconIndonesia/ocr-worker-service/common/config"
	"github.com/LexiconIndonesia/ocr-worker-service/common/storage"
	"github.com/LexiconIndonesia/ocr-worker-service/common/work"
	"github.com/LexiconIndonesia/ocr-worker-service/handler"
	"github.com/LexiconIndonesia/ocr-worker-service/middlewares"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
)

type AppHttpServer struct {
	router   *chi.Mux
	cfg      config.Config
	server   *http.Server
	pool     *work.Pool
	manager  *work.WorkManager
	jobs     handler.JobLister
	archive  *storage.PDFArchive
	services map[string]handler.Pinger
}

func NewAppHttpServer(cfg config.Config, pool *work.Pool) (*AppHttpServer, error) {
	if pool == nil {
		return nil, errors.New("cannot serve without a worker pool")
	}
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middlewares.ApiKeyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Recognition of large scans can take a while; the pool task timeout
	// bounds each job separately.
	r.Use(middleware.Timeout(cfg.Pool.Timeout + 10*time.Second))

	server := &AppHttpServer{
		router:   r,
		cfg:      cfg,
		pool:     pool,
		services: map[string]handler.Pinger{},
	}
	return server, nil
}

// SetWorkManager enables the cross-instance worker listing
func (s *AppHttpServer) SetWorkManager(manager *work.WorkManager) {
	s.manager = manager
}

// SetJobStore enables the job ledger listing
func (s *AppHttpServer) SetJobStore(jobs handler.JobLister) {
	s.jobs = jobs
}

// SetPDFArchive makes /v1/pdf upload documents instead of returning them
func (s *AppHttpServer) SetPDFArchive(archive *storage.PDFArchive) {
	s.archive = archive
}

// AddHealthCheck reports service under name on /health/services
func (s *AppHttpServer) AddHealthCheck(name string, service handler.Pinger) {
	s.services[name] = service
}

func (s *AppHttpServer) setupRoute() {
	r := s.router

	healthHandler := handler.NewHealthHandler(s.pool, s.services)
	r.Mount("/health", healthHandler.Router())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middlewares.ApiKey(s.cfg.Security.BackendApiKey))

		var manager handler.RunningLister
		if s.manager != nil {
			manager = s.manager
		} else {
			log.Warn().Msg("Work manager not set, listing local workers only")
		}

		ocrHandler := handler.NewOCRHandler(s.pool, s.archive)
		workersHandler := handler.NewWorkersHandler(s.pool, manager)

		r.Mount("/", ocrHandler.Router())
		r.Mount("/workers", workersHandler.Router())

		if s.jobs != nil {
			r.Mount("/jobs", handler.NewJobsHandler(s.jobs).Router())
		} else {
			log.Warn().Msg("Job store not set, /v1/jobs disabled")
		}
	})
}

func (s *AppHttpServer) start() error {
	r := s.router
	cfg := s.cfg
	log.Info().Msg("Starting up server...")

	s.server = &http.Server{
		Addr:         cfg.Listen.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Pool.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// stop gracefully shuts down the server
func (s *AppHttpServer) stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
