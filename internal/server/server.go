// Package server provides the remedyd HTTP API.
//
// It exposes workflow triggering and session inspection over an Echo
// router, plus health and Prometheus metrics endpoints, with graceful
// context-aware shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/finding"
	"github.com/fyrsmithlabs/remedyd/internal/session"
	"github.com/fyrsmithlabs/remedyd/internal/workflow"
)

// Server is the remedyd HTTP server.
type Server struct {
	cfg     config.ServerConfig
	echo    *echo.Echo
	manager *workflow.Manager
	logger  *zap.Logger
}

// HealthResponse is the JSON response for the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// WorkflowRequest is the body of POST /v1/workflows.
type WorkflowRequest struct {
	Finding finding.Finding    `json:"finding"`
	Steps   []session.StepName `json:"steps,omitempty"`
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg config.ServerConfig, manager *workflow.Manager, logger *zap.Logger) (*Server, error) {
	if manager == nil {
		return nil, errors.New("workflow manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		cfg:     cfg,
		echo:    e,
		manager: manager,
		logger:  logger,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.POST("/workflows", s.handleStartWorkflow)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/cancel", s.handleCancelSession)
	v1.DELETE("/sessions/:id", s.handleDeleteSession)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "remedyd"})
}

// handleStartWorkflow launches a workflow in the background and returns the
// pending session snapshot with 202 Accepted.
func (s *Server) handleStartWorkflow(c echo.Context) error {
	var req WorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Finding.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "finding.id is required")
	}
	steps := req.Steps
	if steps == nil {
		steps = session.DefaultPipeline()
	}

	snapshot, err := s.manager.StartWorkflow(c.Request().Context(), &req.Finding, steps)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.logger.Info("workflow accepted",
		zap.String("session_id", snapshot.ID),
		zap.String("subject_id", req.Finding.ID),
	)
	return c.JSON(http.StatusAccepted, snapshot)
}

func (s *Server) handleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.manager.ListSessions())
}

func (s *Server) handleGetSession(c echo.Context) error {
	snapshot, err := s.manager.GetSession(c.Param("id"))
	if err != nil {
		if errors.Is(err, workflow.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleCancelSession(c echo.Context) error {
	err := s.manager.CancelSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, workflow.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	if err := s.manager.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Start runs the server until ctx is cancelled, then shuts down gracefully
// within the configured timeout. Returns http.ErrServerClosed on graceful
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.cfg.ShutdownTimeout.Duration(),
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance, used by tests to drive
// handlers without a listener.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
