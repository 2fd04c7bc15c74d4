package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"mmrag/config"
	"mmrag/internal/port"
	"mmrag/internal/usecase"
)

// Dependencies are the use cases the API exposes.
type Dependencies struct {
	Answers *usecase.AnswerUseCase
	Ingest  *usecase.IngestUseCase
	Memory  *usecase.ConversationMemory
	Fetcher port.Fetcher
}

// Server is the HTTP API in front of the assistant.
type Server struct {
	cfg     config.ServerConfig
	deps    Dependencies
	router  *gin.Engine
	metrics *Metrics
	logger  *slog.Logger

	// scraping serialises batch ingestion runs.
	scraping sync.Mutex
}

func New(cfg config.ServerConfig, deps Dependencies, logger *slog.Logger) (*Server, error) {
	if deps.Answers == nil || deps.Memory == nil {
		return nil, errors.New("server: answer and memory use cases are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		router:  gin.New(),
		metrics: NewMetrics("mmrag"),
		logger:  logger,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(loggingMiddleware(logger))
	s.router.Use(corsMiddleware(cfg.AllowedOrigins))
	s.router.Use(s.metrics.Middleware())

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", s.metrics.Handler())

	api := s.router.Group("/api")
	api.GET("/health", s.health)
	api.POST("/query", s.query)
	api.POST("/scrape", s.scrape)
	api.POST("/clear", s.clear)
	api.POST("/chat", s.chat)
}

// Router returns the underlying gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
