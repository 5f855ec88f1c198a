// Package httpapi exposes the corpusd operations over HTTP.
//
// The API is session-oriented: the current organization and user are
// set once via the session endpoints and every corpus operation after
// that is scoped to them. Domain errors map onto the status codes in
// statusFor; cross-tenant probes surface as a generic 404.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/peakai/corpusd/internal/backend"
	"github.com/peakai/corpusd/internal/corpus"
	"github.com/peakai/corpusd/internal/quota"
	"github.com/peakai/corpusd/internal/tenant"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the corpusd HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	tenants  *tenant.Manager
	ingestor *corpus.Ingestor
	engine   *corpus.Engine
	logger   *zap.Logger
	config   Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(tenants *tenant.Manager, ingestor *corpus.Ingestor, engine *corpus.Engine, logger *zap.Logger, cfg Config) (*Server, error) {
	if tenants == nil {
		return nil, fmt.Errorf("tenant manager is required")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestMetrics())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		tenants:  tenants,
		ingestor: ingestor,
		engine:   engine,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.GET("/session", s.handleGetSession)
	v1.PUT("/session/organization", s.handleSetOrganization)
	v1.PUT("/session/user", s.handleSetUser)
	v1.DELETE("/session", s.handleClearSession)

	v1.POST("/documents", s.handleAddDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
	v1.POST("/sync", s.handleSyncEntity)

	v1.GET("/corpus", s.handleGetCorpus)
	v1.GET("/corpus/stats", s.handleCorpusStats)
	v1.POST("/corpus/clear", s.handleClearCorpus)

	v1.POST("/query", s.handleQuery)
}

// statusFor maps domain errors onto HTTP status codes. ErrAccessDenied
// stays a generic 404 so existence never leaks across tenants.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, tenant.ErrNoOrganization):
		return http.StatusPreconditionFailed, "no organization context"
	case errors.Is(err, corpus.ErrTenantIsolation):
		return http.StatusForbidden, "organization mismatch"
	case errors.Is(err, corpus.ErrAccessDenied):
		return http.StatusNotFound, "not found"
	case errors.Is(err, corpus.ErrPermissionDenied):
		return http.StatusForbidden, "permission denied"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, quota.ErrFeatureDisabled):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, corpus.ErrInvalidEntity),
		errors.Is(err, backend.ErrEmptyQuery),
		errors.Is(err, backend.ErrEmptyDocument),
		errors.Is(err, tenant.ErrInvalidOrganization),
		errors.Is(err, tenant.ErrInvalidUser):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, backend.ErrBackend):
		return http.StatusBadGateway, "retrieval backend unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) domainError(err error) *echo.HTTPError {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("unhandled error", zap.Error(err))
	}
	return echo.NewHTTPError(status, msg)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// SessionResponse is the response body for GET /api/v1/session.
type SessionResponse struct {
	Organization *tenant.Organization `json:"organization,omitempty"`
	User         *tenant.TenantUser   `json:"user,omitempty"`
}

func (s *Server) handleGetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, SessionResponse{
		Organization: s.tenants.CurrentOrganization(),
		User:         s.tenants.CurrentUser(),
	})
}

func (s *Server) handleSetOrganization(c echo.Context) error {
	var org tenant.Organization
	if err := c.Bind(&org); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.tenants.SetCurrentOrganization(&org); err != nil {
		return s.domainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSetUser(c echo.Context) error {
	var user tenant.TenantUser
	if err := c.Bind(&user); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.tenants.SetCurrentUser(&user); err != nil {
		return s.domainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleClearSession(c echo.Context) error {
	if err := s.tenants.ClearContext(); err != nil {
		return s.domainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AddDocumentRequest is the request body for POST /api/v1/documents.
type AddDocumentRequest struct {
	SourceType corpus.SourceType       `json:"source_type"`
	SourceID   string                  `json:"source_id"`
	Content    string                  `json:"content"`
	Metadata   corpus.DocumentMetadata `json:"metadata"`
}

func (s *Server) handleAddDocument(c echo.Context) error {
	var req AddDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	doc, err := s.ingestor.AddDocument(c.Request().Context(), corpus.Document{
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Content:    req.Content,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return s.domainError(err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	if err := s.ingestor.DeleteDocument(c.Request().Context(), c.Param("id")); err != nil {
		return s.domainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSyncEntity(c echo.Context) error {
	var entity corpus.Entity
	if err := c.Bind(&entity); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	doc, err := s.ingestor.SyncEntity(c.Request().Context(), entity)
	if err != nil {
		return s.domainError(err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (s *Server) handleGetCorpus(c echo.Context) error {
	crp, err := s.ingestor.GetOrCreateCorpus(c.Request().Context())
	if err != nil {
		return s.domainError(err)
	}
	return c.JSON(http.StatusOK, crp)
}

func (s *Server) handleCorpusStats(c echo.Context) error {
	stats, err := s.ingestor.CorpusStats(c.Request().Context())
	if err != nil {
		return s.domainError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleClearCorpus(c echo.Context) error {
	if err := s.ingestor.ClearCorpus(c.Request().Context()); err != nil {
		return s.domainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// QueryRequest is the request body for POST /api/v1/query.
type QueryRequest struct {
	Text    string              `json:"text"`
	Options corpus.QueryOptions `json:"options"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.engine.Query(c.Request().Context(), req.Text, req.Options)
	if err != nil {
		return s.domainError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// addr is the listen address derived from the configured host and port.
func (s *Server) addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
