// Package http provides the read-only status API for ralph.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/orchestrator"
	"github.com/fyrsmithlabs/ralph/internal/progress"
	"github.com/fyrsmithlabs/ralph/internal/secrets"
	"github.com/fyrsmithlabs/ralph/internal/telemetry"
)

// StatusSource is the read side of the orchestrator.
type StatusSource interface {
	Status() orchestrator.Status
	Stories(includePassed bool) []ledger.Story
	Progress(since int64) ([]progress.Outcome, error)
}

var _ StatusSource = (*orchestrator.Orchestrator)(nil)

// Server provides HTTP endpoints for a running ralph loop.
type Server struct {
	echo     *echo.Echo
	source   StatusSource
	scrubber secrets.Scrubber
	health   func() telemetry.HealthStatus
	registry *prometheus.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Meter records request metrics. Nil disables them.
	Meter metric.Meter

	// Scrubber redacts agent output in /progress. Nil disables redaction.
	Scrubber secrets.Scrubber

	// Health reports telemetry health in /health when set.
	Health func() telemetry.HealthStatus
}

// NewServer creates a new HTTP server.
func NewServer(source StatusSource, logger *zap.Logger, cfg *Config) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("status source cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}
	scrubber := cfg.Scrubber
	if scrubber == nil {
		scrubber = secrets.NoopScrubber{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.Meter != nil {
		e.Use(NewHTTPMetrics(cfg.Meter, logger).MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		source:   source,
		scrubber: scrubber,
		health:   cfg.Health,
		registry: prometheus.NewRegistry(),
		logger:   logger,
		config:   cfg,
	}
	if err := s.registerGauges(); err != nil {
		return nil, err
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/stories", s.handleStories)
	s.echo.GET("/progress", s.handleProgress)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// registerGauges exposes the loop snapshot as scrape-time gauges.
func (s *Server) registerGauges() error {
	gauge := func(name, help string, value func(orchestrator.Status) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ralph",
			Subsystem: "loop",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(s.source.Status()) })
	}
	collectors := []prometheus.Collector{
		gauge("iteration", "Iterations consumed by the current or last run.", func(st orchestrator.Status) float64 {
			return float64(st.Iteration)
		}),
		gauge("max_iterations", "Iteration budget of the current or last run.", func(st orchestrator.Status) float64 {
			return float64(st.MaxIterations)
		}),
		gauge("stories_total", "Stories in the ledger.", func(st orchestrator.Status) float64 {
			return float64(st.Total)
		}),
		gauge("stories_passed", "Stories whose quality gates passed.", func(st orchestrator.Status) float64 {
			return float64(st.Passed)
		}),
		gauge("stories_blocked", "Stories carrying the blocked marker.", func(st orchestrator.Status) float64 {
			return float64(st.Blocked)
		}),
		gauge("running", "1 while a run is in progress.", func(st orchestrator.Status) float64 {
			if st.Running {
				return 1
			}
			return 0
		}),
	}
	for _, c := range collectors {
		if err := s.registry.Register(c); err != nil {
			return fmt.Errorf("registering gauge: %w", err)
		}
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.health != nil {
		h := s.health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.source.Status())
}

func (s *Server) handleStories(c echo.Context) error {
	include := true
	if v := c.QueryParam("include_passed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "include_passed must be a boolean")
		}
		include = b
	}
	stories := s.source.Stories(include)
	if stories == nil {
		stories = []ledger.Story{}
	}
	return c.JSON(http.StatusOK, StoriesResponse{Stories: stories, Count: len(stories)})
}

func (s *Server) handleProgress(c echo.Context) error {
	var since int64
	if v := c.QueryParam("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be a non-negative integer")
		}
		since = n
	}

	outcomes, err := s.source.Progress(since)
	if err != nil {
		s.logger.Warn("reading progress failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "progress log unavailable")
	}

	resp := ProgressResponse{Outcomes: make([]progress.Outcome, 0, len(outcomes)), LastSeq: since}
	for _, o := range outcomes {
		if s.scrubber.IsEnabled() {
			o = o.Redacted(s.scrub)
		}
		resp.Outcomes = append(resp.Outcomes, o)
		resp.LastSeq = o.Seq
	}
	resp.Count = len(resp.Outcomes)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) scrub(text string) string {
	return s.scrubber.Scrub(text).Scrubbed
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
