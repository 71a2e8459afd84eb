package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/internal/search/app/fieldmapper"
	"github.com/tegendraads/registry/internal/search/handlers"
	"github.com/tegendraads/registry/pkg/config"
	"github.com/tegendraads/registry/pkg/logger"
)

// Server serves the operational HTTP API.
type Server struct {
	config     *config.Config
	logger     logger.Logger
	httpServer *http.Server
	scheduler  *cron.Cron
	rebuilds   handlers.RebuildService
}

// New builds the HTTP API and, when a cron expression is configured, the
// rebuild schedule.
func New(cfg *config.Config, rebuilds handlers.RebuildService, checks map[string]handlers.ReadinessCheck, log logger.Logger) (*Server, error) {
	h := handlers.NewIndexHandlers(rebuilds, fieldmapper.Datasets, checks, log)

	s := &Server{
		config:   cfg,
		logger:   log,
		rebuilds: rebuilds,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      setupRouter(h, log),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	if cfg.Schedule.Cron != "" {
		scheduler, err := newScheduler(cfg.Schedule.Cron, rebuilds, log)
		if err != nil {
			return nil, err
		}
		s.scheduler = scheduler
	}

	return s, nil
}

func setupRouter(h *handlers.IndexHandlers, log logger.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(log))

	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1/index")
	{
		v1.POST("/rebuild", h.TriggerRebuild)
		v1.GET("/runs", h.ListRuns)
		v1.GET("/runs/:id", h.GetRun)
		v1.GET("/fields", h.Fields)
	}

	return router
}

// newScheduler triggers a rebuild on every tick of a standard five field
// cron expression. A tick that finds a rebuild running is skipped.
func newScheduler(spec string, rebuilds handlers.RebuildService, log logger.Logger) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithLocation(time.UTC))
	_, err := scheduler.AddFunc(spec, func() {
		run, err := rebuilds.Trigger(context.Background(), indexing.TriggerSchedule)
		switch {
		case errors.Is(err, indexing.ErrRebuildInProgress):
			log.Warn("Skipping scheduled rebuild, one is already running")
		case err != nil:
			log.Error("Failed to start scheduled rebuild", "error", err)
		default:
			log.Info("Scheduled rebuild started", "runId", run.ID)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid rebuild schedule %q: %w", spec, err)
	}
	return scheduler, nil
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the scheduler and blocks serving HTTP.
func (s *Server) Start() error {
	if s.scheduler != nil {
		s.scheduler.Start()
		s.logger.Info("Rebuild schedule active", "cron", s.config.Schedule.Cron)
	}

	s.logger.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	if s.scheduler != nil {
		<-s.scheduler.Stop().Done()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}
