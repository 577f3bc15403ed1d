package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/audit"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/orchestrator"
	"github.com/fyrsmithlabs/ralph/internal/progress"
	"github.com/fyrsmithlabs/ralph/internal/secrets"
)

// Controller is the loop surface the server exposes. *orchestrator.Orchestrator
// implements it.
type Controller interface {
	Start(ctx context.Context, maxIterations int) (orchestrator.Status, error)
	Stop(force bool) error
	Status() orchestrator.Status
	Stories(includePassed bool) []ledger.Story
	Ledger() *ledger.Ledger
	Progress(since int64) ([]progress.Outcome, error)
	ResetStory(id string) (ledger.Story, error)
}

var _ Controller = (*orchestrator.Orchestrator)(nil)

// Server is the MCP control server for one loop.
type Server struct {
	mcp          *mcp.Server
	ctrl         Controller
	scrubber     secrets.Scrubber
	toolRegistry *ToolRegistry
	metrics      *Metrics
	logger       *zap.Logger

	auditor     *audit.Manager
	ownsAuditor bool
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ralph")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Meter for tool metrics. Defaults to a no-op meter.
	Meter metric.Meter

	// Scrubber redacts secrets from agent-derived text before it is
	// returned to clients. Defaults to no scrubbing.
	Scrubber secrets.Scrubber

	// Auditor runs start_audit requests. When nil the server creates one
	// rooted at AuditRoot and stops it on Close.
	Auditor *audit.Manager

	// AuditRoot is audited when start_audit names no path.
	AuditRoot string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ralph",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server bound to ctrl.
func NewServer(cfg *Config, ctrl Controller) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if ctrl == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if cfg.Name == "" {
		cfg.Name = "ralph"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Meter == nil {
		cfg.Meter = noop.NewMeterProvider().Meter(instrumentationName)
	}
	if cfg.Scrubber == nil {
		cfg.Scrubber = secrets.NoopScrubber{}
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:          mcpServer,
		ctrl:         ctrl,
		scrubber:     cfg.Scrubber,
		toolRegistry: NewToolRegistry(),
		metrics:      NewMetrics(cfg.Meter, cfg.Logger),
		logger:       cfg.Logger,
		auditor:      cfg.Auditor,
	}
	if s.auditor == nil {
		s.auditor = audit.NewManager(audit.ManagerConfig{
			DefaultRoot: cfg.AuditRoot,
			Logger:      cfg.Logger.Named("audit"),
		})
		s.ownsAuditor = true
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Tools returns metadata for the registered tools.
func (s *Server) Tools() []*ToolMetadata {
	return s.toolRegistry.List()
}

// Close stops audits started by a server-owned auditor.
func (s *Server) Close() {
	if s.ownsAuditor {
		s.auditor.Close()
	}
}

// Run starts the MCP server on the stdio transport. It blocks until ctx is
// cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves a single session on t.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("starting MCP server", zap.Strings("tools", s.toolRegistry.ListNames()))
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
