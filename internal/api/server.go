package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/geonudge/internal/api/middleware"
	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/notification"
	"github.com/tphakala/geonudge/internal/observability"
)

// Engine is the part of notification.Engine the API serves.
type Engine interface {
	ReportGeofenceEvent(ctx context.Context, report notification.GeofenceReport) (notification.IntakeResult, error)
	PerformNotificationAction(ctx context.Context, notificationID string, action notification.Action) (notification.ActionResult, error)
	GetNotification(ctx context.Context, id string) (notification.NotificationView, error)
	GetNotificationHistory(ctx context.Context, userID string, filter notification.HistoryFilter) ([]notification.NotificationView, error)
	SyncTask(ctx context.Context, task entities.TaskState) (int, error)
	Unmute(ctx context.Context, taskID string) (bool, error)
	RunNow(ctx context.Context) (*notification.RunReport, error)
	Breaker() *notification.CircuitBreaker
}

// Server is the HTTP server for geonudge.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	engine   Engine
	metrics  *observability.Metrics
	log      logger.Logger

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithMetrics exposes the metrics registry on the metrics path.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithConfig overrides the configuration derived from settings.
func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) {
		s.config = cfg
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, engine Engine, opts ...ServerOption) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	s := &Server{
		config:    ConfigFromSettings(settings),
		settings:  settings,
		engine:    engine,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if s.log == nil {
		s.log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	s.log = s.log.Module("api")

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.httpErrorHandler

	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	s.echo.Server.IdleTimeout = s.config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", s.config.Listen),
		logger.Bool("metrics", s.config.MetricsEnabled && s.metrics != nil),
		logger.Bool("admin_auth", s.config.AdminToken != ""))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/healthz" || c.Path() == s.config.MetricsPath
	}))
	s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	if s.config.MetricsEnabled && s.metrics != nil {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/geofence-events", s.reportGeofenceEvent)
	v1.POST("/notifications/:id/actions", s.performAction)
	v1.GET("/notifications/:id", s.getNotification)
	v1.GET("/users/:userId/notifications", s.getHistory)
	v1.PUT("/tasks/:taskId", s.syncTask)
	v1.DELETE("/tasks/:taskId/mute", s.unmuteTask)

	admin := v1.Group("/admin", mw.NewAdminAuth(s.config.AdminToken))
	admin.POST("/processor/run", s.runProcessor)
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	body := map[string]any{
		"status":         "healthy",
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if s.settings != nil {
		body["version"] = s.settings.Version
	}
	if cb := s.engine.Breaker(); cb != nil {
		body["delivery_circuit"] = cb.State().String()
	}
	return c.JSON(http.StatusOK, body)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	s.log.Info("starting HTTP server", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("server shutdown complete")
	return nil
}
