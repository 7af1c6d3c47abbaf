// Package api exposes the HTTP surface: signal intake, incident queries, and
// the acknowledge endpoint.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opsignal/responder/internal/models"
	"github.com/opsignal/responder/internal/services"
	"github.com/opsignal/responder/internal/utils"
)

// Server wraps the echo router around the responder service.
type Server struct {
	echo    *echo.Echo
	service *services.ResponderService
	logger  *slog.Logger
	address string
}

// NewServer constructs the HTTP server and registers all routes.
func NewServer(logger *slog.Logger, svc *services.ResponderService, address string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				slog.String("method", c.Request().Method),
				slog.String("uri", c.Request().RequestURI),
				slog.Int("status", c.Response().Status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)))
			return err
		}
	})

	s := &Server{
		echo:    e,
		service: svc,
		logger:  logger,
		address: address,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/signals", s.handleSubmitSignal)
	v1.GET("/incidents", s.handleListIncidents)
	v1.GET("/incidents/:id", s.handleGetIncident)
	v1.POST("/incidents/:id/close", s.handleCloseIncident)
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	return s.echo.Start(s.address)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// SignalRequest is the body for POST /api/v1/signals.
type SignalRequest struct {
	Source string         `json:"source"`
	Event  map[string]any `json:"event"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	IntakeP99 string `json:"intake_p99"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		IntakeP99: s.service.IntakeP99().String(),
	})
}

func (s *Server) handleSubmitSignal(c echo.Context) error {
	var req SignalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	source := models.SignalSource(req.Source)
	if !models.ValidSource(source) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown signal source: " + req.Source})
	}

	sig, err := s.service.SubmitSignal(c.Request().Context(), req.Event, source)
	if err != nil {
		if errors.Is(err, models.ErrMalformedSignal) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		s.logger.Error("signal intake failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to accept signal"})
	}
	return c.JSON(http.StatusAccepted, sig)
}

func (s *Server) handleGetIncident(c echo.Context) error {
	detail, err := s.service.GetIncident(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "incident not found"})
		}
		s.logger.Error("incident lookup failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load incident"})
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleListIncidents(c echo.Context) error {
	filter, err := parseFilter(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}

	incidents, err := s.service.ListIncidents(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error("incident list failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list incidents"})
	}
	if incidents == nil {
		incidents = []*models.Incident{}
	}
	return c.JSON(http.StatusOK, incidents)
}

func (s *Server) handleCloseIncident(c echo.Context) error {
	id := c.Param("id")
	if err := s.service.CloseIncident(c.Request().Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "incident not found"})
		}
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	}

	detail, err := s.service.GetIncident(c.Request().Context(), id)
	if err != nil {
		s.logger.Error("incident reload failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load incident"})
	}
	return c.JSON(http.StatusOK, detail)
}

func parseFilter(c echo.Context) (models.IncidentFilter, error) {
	var filter models.IncidentFilter
	filter.Status = models.IncidentStatus(c.QueryParam("status"))
	filter.Severity = models.Severity(c.QueryParam("severity"))
	filter.Source = models.SignalSource(c.QueryParam("source"))

	if v := c.QueryParam("since"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			return filter, errors.New("invalid since timestamp")
		}
		filter.Since = t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			return filter, errors.New("invalid until timestamp")
		}
		filter.Until = t
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = n
	}
	return filter, nil
}
