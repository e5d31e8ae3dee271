// Package server exposes the learning core over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShayCichocki/qlearn/internal/learning"
	"github.com/ShayCichocki/qlearn/pkg/models"
)

// QValueReader reads Q-table entries.
type QValueReader interface {
	Entries(ctx context.Context, scope models.Scope, state models.StateKey) ([]models.QValueEntry, error)
}

// EpsilonReader reads per-agent exploration rates.
type EpsilonReader interface {
	Peek(ctx context.Context, agentID string) (float64, error)
}

// Aggregator runs hierarchical aggregation passes on demand.
type Aggregator interface {
	RunOnce(ctx context.Context) (learning.Report, error)
}

// Pinger checks backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the HTTP boundary serves.
type Deps struct {
	Learner    learning.Learner
	QValues    QValueReader
	Epsilon    EpsilonReader
	Aggregator Aggregator
	Store      Pinger
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the HTTP boundary.
type Server struct {
	deps   Deps
	logger *slog.Logger
	router *gin.Engine
}

// New builds the router.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{deps: deps, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	s.routes(router)
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(router *gin.Engine) {
	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.POST("/select", s.selectAction)
		v1.POST("/learn", s.learn)
		v1.POST("/aggregate", s.aggregate)
		v1.GET("/qvalues", s.qvalues)

		agents := v1.Group("/agents")
		{
			agents.POST("", s.registerAgent)
			agents.GET("", s.listAgents)
			agents.POST("/:id/replay", s.replay)
			agents.GET("/:id/epsilon", s.epsilon)
		}
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
