package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mikey/reply-checker/internal/coordinator"
	"github.com/mikey/reply-checker/internal/core"
	"github.com/mikey/reply-checker/internal/deadletter"
	"go.uber.org/zap"
)

// Reviewer is the dead-letter surface exposed to operators
type Reviewer interface {
	Review(ctx context.Context, req deadletter.ReviewRequest) (*deadletter.ReviewResult, error)
	Stats(ctx context.Context, userID string) (map[core.DeadLetterStatus]int, error)
	Pending(ctx context.Context, userID string, limit int) ([]*core.DeadLetterEntry, error)
}

// Checker runs on-demand checks and provider probes
type Checker interface {
	Check(ctx context.Context, sentEmailID string) (*coordinator.Outcome, error)
	CheckHealth(ctx context.Context, userID string) []core.ProviderHealth
}

// Server is the operator HTTP API
type Server struct {
	echo     *echo.Echo
	address  string
	reviewer Reviewer
	checker  Checker
	logger   *zap.Logger
}

// NewServer creates the API server and registers its routes
func NewServer(address string, reviewer Reviewer, checker Checker, logger *zap.Logger) *Server {
	s := &Server{
		echo:     echo.New(),
		address:  address,
		reviewer: reviewer,
		checker:  checker,
		logger:   logger,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(s.zapMiddleware())
	s.echo.Use(middleware.Recover())
	s.setupRoutes()
	return s
}

// zapMiddleware logs each request with zap
func (s *Server) zapMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			s.logger.Info("HTTP request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.String("remote_ip", c.RealIP()),
				zap.Int("status", c.Response().Status),
				zap.Int64("latency_ms", time.Since(start).Milliseconds()))
			return nil
		}
	}
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)

	api := s.echo.Group("/api")
	api.POST("/dead-letters/:id/review", s.handleReview)
	api.GET("/dead-letters/stats", s.handleStats)
	api.GET("/dead-letters/pending", s.handlePending)
	api.POST("/checks/:sent_email_id", s.handleCheck)
	api.GET("/providers/health", s.handleProviderHealth)
}

// Handler exposes the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting operator API", zap.String("address", s.address))
	if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
