package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/api/handlers"
	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/coordinator"
	"github.com/taskmesh/taskmesh/coordinator/persistence"
	"github.com/taskmesh/taskmesh/internal/server"
)

// Server wires the coordinator to the HTTP API and metrics endpoints.
type Server struct {
	cfg     *config.Config
	coord   *coordinator.Coordinator
	archive persistence.Store
	logger  *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	coordCancel       context.CancelFunc
	rateLimiterCancel context.CancelFunc
}

// NewServer creates the server. Start launches everything.
func NewServer(cfg *config.Config, coord *coordinator.Coordinator, archive persistence.Store, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		coord:   coord,
		archive: archive,
		logger:  logger,
	}
}

// Start launches the coordinator, the task API, and the metrics server.
func (s *Server) Start() error {
	coordCtx, coordCancel := context.WithCancel(context.Background())
	s.coordCancel = coordCancel
	s.coord.Start(coordCtx)

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("archive_enabled", s.archive != nil),
	)
	return nil
}

func (s *Server) startHTTPServer() error {
	healthHandler := handlers.NewHealthHandler(s.logger)
	taskHandler := handlers.NewTaskHandler(s.coord, s.logger)
	workerHandler := handlers.NewWorkerHandler(s.coord, s.logger)

	if s.archive != nil {
		healthHandler.RegisterCheck(handlers.NewPingHealthCheck("archive", func(ctx context.Context) error {
			_, err := s.archive.Stats(ctx)
			return err
		}))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/tasks", taskHandler.HandleSubmit)
	mux.HandleFunc("GET /api/v1/tasks/{id}", taskHandler.HandleGet)
	mux.HandleFunc("POST /api/v1/tasks/{id}/handoff", taskHandler.HandleHandoff)
	mux.HandleFunc("GET /api/v1/queue", taskHandler.HandleQueue)
	mux.HandleFunc("GET /api/v1/workers", workerHandler.HandleList)
	mux.HandleFunc("POST /api/v1/workers/{id}/status", workerHandler.HandleNotify)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestLogger(s.logger),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a signal arrives or a server fails, then
// shuts everything down.
func (s *Server) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case err := <-s.httpManager.Errors():
			return err
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		select {
		case err := <-s.metricsManager.Errors():
			return err
		case <-gctx.Done():
			return nil
		}
	})
	if s.archive != nil && s.cfg.Archive.CleanupInterval > 0 {
		g.Go(func() error {
			return s.runArchiveRetention(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("server exited unexpectedly", zap.Error(err))
	}

	s.Shutdown()
}

// runArchiveRetention periodically removes settled records past the
// retention window.
func (s *Server) runArchiveRetention(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Archive.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := s.archive.Cleanup(ctx, s.cfg.Archive.Retention)
			if err != nil {
				s.logger.Warn("archive retention sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("archive retention sweep", zap.Int("removed", removed))
			}
		}
	}
}

// Shutdown stops the servers and the coordinator in reverse order.
func (s *Server) Shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown failed", zap.Error(err))
		}
	}

	s.coord.Stop()
	if s.coordCancel != nil {
		s.coordCancel()
	}

	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.Error("archive close failed", zap.Error(err))
		}
	}

	s.logger.Info("graceful shutdown complete")
}
