package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/orchestrator"
	"github.com/fyrsmithlabs/ralph/internal/progress"
)

// toolError is the structured content of a failed tool call.
type toolError struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
}

type startInput struct {
	MaxIterations int `json:"max_iterations,omitempty" jsonschema:"Iteration budget for this run. 0 uses the configured budget."`
}

type startOutput struct {
	Status         orchestrator.Status `json:"status"`
	AlreadyRunning bool                `json:"already_running"`
	Message        string              `json:"message"`
}

type stopInput struct {
	Force bool `json:"force,omitempty" jsonschema:"Kill the in-flight agent instead of letting it finish"`
}

type statusInput struct{}

type listStoriesInput struct {
	IncludePassed *bool `json:"include_passed,omitempty" jsonschema:"Include stories that already pass (default true)"`
}

type listStoriesOutput struct {
	Stories []ledger.Story `json:"stories"`
	Count   int            `json:"count"`
}

type getProgressInput struct {
	SinceIteration int64 `json:"since_iteration,omitempty" jsonschema:"Progress sequence number, the last_seq cursor of a previous call; outcomes with a higher seq are returned. This is not a per-run iteration count"`
}

type getProgressOutput struct {
	Outcomes []progress.Outcome `json:"outcomes"`
	Count    int                `json:"count"`
	LastSeq  int64              `json:"last_seq"`
}

type resetStoryInput struct {
	ID string `json:"id" jsonschema:"Story id to unblock"`
}

type resetStoryOutput struct {
	Story ledger.Story `json:"story"`
}

var toolCatalog = []*ToolMetadata{
	{
		Name:        "start",
		Description: "Start the story loop in the background. If a loop is already running this is a no-op that returns its status. Use status to monitor progress.",
		Category:    CategoryControl,
		Mutating:    true,
		Idempotent:  true,
	},
	{
		Name:        "stop",
		Description: "Stop the running loop. The in-flight agent finishes first unless force is set; the interrupted iteration never changes the ledger.",
		Category:    CategoryControl,
		Mutating:    true,
	},
	{
		Name:        "status",
		Description: "Report loop state, current story, iteration count and pass/blocked totals.",
		Category:    CategoryQuery,
		Idempotent:  true,
	},
	{
		Name:        "list_stories",
		Description: "List ledger stories in selection order.",
		Category:    CategoryQuery,
		Idempotent:  true,
	},
	{
		Name:        "get_progress",
		Description: "Return iteration outcomes recorded after a given sequence number.",
		Category:    CategoryQuery,
		Idempotent:  true,
	},
	{
		Name:        "reset_story",
		Description: "Clear the blocked marker of a story so the loop may select it again.",
		Category:    CategoryControl,
		Mutating:    true,
		Idempotent:  true,
	},
	{
		Name:        "start_audit",
		Description: "Start a background audit of a directory: inventory, languages, dependencies, testing, documentation and tech debt. Returns an audit_id for get_audit_status.",
		Category:    CategoryAudit,
	},
	{
		Name:        "get_audit_status",
		Description: "Report the status of an audit. A completed audit includes its report, and a markdown rendering when that format was requested.",
		Category:    CategoryAudit,
		Idempotent:  true,
	},
}

func (s *Server) registerTools() {
	for _, meta := range toolCatalog {
		s.toolRegistry.Register(meta)
	}

	mcp.AddTool(s.mcp, s.tool("start"), s.handleStart)
	mcp.AddTool(s.mcp, s.tool("stop"), s.handleStop)
	mcp.AddTool(s.mcp, s.tool("status"), s.handleStatus)
	mcp.AddTool(s.mcp, s.tool("list_stories"), s.handleListStories)
	mcp.AddTool(s.mcp, s.tool("get_progress"), s.handleGetProgress)
	mcp.AddTool(s.mcp, s.tool("reset_story"), s.handleResetStory)
	mcp.AddTool(s.mcp, s.tool("start_audit"), s.handleStartAudit)
	mcp.AddTool(s.mcp, s.tool("get_audit_status"), s.handleGetAuditStatus)
}

// tool builds the SDK tool for a registered name. Tools that do not mutate
// the loop are marked read-only so clients may call them without
// confirmation.
func (s *Server) tool(name string) *mcp.Tool {
	meta, _ := s.toolRegistry.Get(name)
	return &mcp.Tool{
		Name:        meta.Name,
		Description: meta.Description,
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint:   !meta.Mutating,
			IdempotentHint: meta.Idempotent,
		},
	}
}

// instrument runs fn with tool metrics and converts its result.
func (s *Server) instrument(ctx context.Context, name string, fn func() (interface{}, error)) (*mcp.CallToolResult, any, error) {
	end := s.metrics.Begin(ctx, name)
	out, err := fn()
	end(err)
	if err != nil {
		s.logger.Debug("tool call failed", zap.String("tool", name), zap.Error(err))
		return errorResult(err), nil, nil
	}
	return jsonResult(out), nil, nil
}

func jsonResult(v interface{}) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(failure.Wrap(failure.KindInternal, "encode", err))
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: v,
	}
}

func errorResult(err error) *mcp.CallToolResult {
	te := toolError{Kind: failure.KindOf(err), Message: err.Error()}
	data, _ := json.Marshal(te)
	return &mcp.CallToolResult{
		IsError:           true,
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: te,
	}
}

func (s *Server) handleStart(ctx context.Context, req *mcp.CallToolRequest, in startInput) (*mcp.CallToolResult, any, error) {
	return s.instrument(ctx, "start", func() (interface{}, error) {
		if in.MaxIterations < 0 {
			return nil, failure.Newf(failure.KindInvalidArgument, "start", "max_iterations must be >= 0, got %d", in.MaxIterations)
		}
		st, err := s.ctrl.Start(ctx, in.MaxIterations)
		switch {
		case errors.Is(err, orchestrator.ErrAlreadyRunning):
			s.metrics.RecordControl(ctx, "start", false)
			return startOutput{Status: st, AlreadyRunning: true, Message: "A loop is already running. Use status to monitor progress."}, nil
		case err != nil:
			return nil, err
		}
		s.metrics.RecordControl(ctx, "start", true)
		s.logger.Info("loop started", zap.Int("max_iterations", st.MaxIterations))
		return startOutput{Status: st, Message: "Loop started. Use status to monitor progress."}, nil
	})
}

func (s *Server) handleStop(ctx context.Context, req *mcp.CallToolRequest, in stopInput) (*mcp.CallToolResult, any, error) {
	return s.instrument(ctx, "stop", func() (interface{}, error) {
		if err := s.ctrl.Stop(in.Force); err != nil {
			return nil, err
		}
		s.metrics.RecordControl(ctx, "stop", true)
		s.logger.Info("loop stop requested", zap.Bool("force", in.Force))
		return s.ctrl.Status(), nil
	})
}

func (s *Server) handleStatus(ctx context.Context, req *mcp.CallToolRequest, in statusInput) (*mcp.CallToolResult, any, error) {
	return s.instrument(ctx, "status", func() (interface{}, error) {
		return s.ctrl.Status(), nil
	})
}

func (s *Server) handleListStories(ctx context.Context, req *mcp.CallToolRequest, in listStoriesInput) (*mcp.CallToolResult, any, error) {
	return s.instrument(ctx, "list_stories", func() (interface{}, error) {
		include := true
		if in.IncludePassed != nil {
			include = *in.IncludePassed
		}
		stories := s.ctrl.Stories(include)
		if stories == nil {
			stories = []ledger.Story{}
		}
		return listStoriesOutput{Stories: stories, Count: len(stories)}, nil
	})
}

func (s *Server) handleGetProgress(ctx context.Context, req *mcp.CallToolRequest, in getProgressInput) (*mcp.CallToolResult, any, error) {
	return s.instrument(ctx, "get_progress", func() (interface{}, error) {
		if in.SinceIteration < 0 {
			return nil, failure.Newf(failure.KindInvalidArgument, "get_progress", "since_iteration must be >= 0, got %d", in.SinceIteration)
		}
		outcomes, err := s.ctrl.Progress(in.SinceIteration)
		if err != nil {
			return nil, err
		}
		if outcomes == nil {
			outcomes = []progress.Outcome{}
		}
		outcomes = s.scrubOutcomes(outcomes)
		out := getProgressOutput{Outcomes: outcomes, Count: len(outcomes), LastSeq: in.SinceIteration}
		if n := len(outcomes); n > 0 {
			out.LastSeq = outcomes[n-1].Seq
		}
		return out, nil
	})
}

func (s *Server) handleResetStory(ctx context.Context, req *mcp.CallToolRequest, in resetStoryInput) (*mcp.CallToolResult, any, error) {
	return s.instrument(ctx, "reset_story", func() (interface{}, error) {
		if in.ID == "" {
			return nil, failure.New(failure.KindInvalidArgument, "reset_story", "id is required")
		}
		st, err := s.ctrl.ResetStory(in.ID)
		if err != nil {
			return nil, err
		}
		s.metrics.RecordControl(ctx, "reset", true)
		s.logger.Info("story reset", zap.String("story_id", in.ID))
		return resetStoryOutput{Story: st}, nil
	})
}

// scrubOutcomes redacts secrets from agent and gate text.
func (s *Server) scrubOutcomes(outcomes []progress.Outcome) []progress.Outcome {
	if !s.scrubber.IsEnabled() {
		return outcomes
	}
	scrub := func(text string) string { return s.scrubber.Scrub(text).Scrubbed }
	out := make([]progress.Outcome, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Redacted(scrub)
	}
	return out
}
