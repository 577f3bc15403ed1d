package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/audit"
	"github.com/fyrsmithlabs/ralph/internal/failure"
)

type startAuditInput struct {
	Path     string   `json:"path,omitempty" jsonschema:"Directory to audit (defaults to the project directory)"`
	Sections []string `json:"sections,omitempty" jsonschema:"Sections to analyze: inventory, languages, dependencies, testing, documentation, tech_debt (default all)"`
	Format   string   `json:"format,omitempty" jsonschema:"Report format: json or markdown (default json)"`
}

type startAuditOutput struct {
	AuditID  string          `json:"audit_id"`
	Path     string          `json:"path"`
	Sections []audit.Section `json:"sections"`
	Format   audit.Format    `json:"format"`
	Status   audit.Status    `json:"status"`
	Message  string          `json:"message"`
}

type getAuditStatusInput struct {
	AuditID string `json:"audit_id" jsonschema:"The audit_id returned by start_audit"`
}

type getAuditStatusOutput struct {
	audit.State
	Message string `json:"message"`
}

func (s *Server) handleStartAudit(ctx context.Context, req *mcp.CallToolRequest, in startAuditInput) (*mcp.CallToolResult, any, error) {
	return s.instrument(ctx, "start_audit", func() (interface{}, error) {
		st, err := s.auditor.Start(audit.Request{Path: in.Path, Sections: in.Sections, Format: in.Format})
		if err != nil {
			return nil, err
		}
		s.logger.Info("audit requested", zap.String("audit_id", st.ID), zap.String("path", st.Root))
		return startAuditOutput{
			AuditID:  st.ID,
			Path:     st.Root,
			Sections: st.Sections,
			Format:   st.Format,
			Status:   st.Status,
			Message:  fmt.Sprintf("Audit started. Use get_audit_status with audit_id %q to check progress.", st.ID),
		}, nil
	})
}

func (s *Server) handleGetAuditStatus(ctx context.Context, req *mcp.CallToolRequest, in getAuditStatusInput) (*mcp.CallToolResult, any, error) {
	return s.instrument(ctx, "get_audit_status", func() (interface{}, error) {
		if in.AuditID == "" {
			return nil, failure.New(failure.KindInvalidArgument, "get_audit_status", "audit_id is required")
		}
		st, err := s.auditor.Get(in.AuditID)
		if err != nil {
			return nil, err
		}
		return getAuditStatusOutput{State: s.scrubAudit(st), Message: auditMessage(st)}, nil
	})
}

// scrubAudit redacts marker text and the rendering, which quote workspace
// files. The stored report is left untouched.
func (s *Server) scrubAudit(st audit.State) audit.State {
	if !s.scrubber.IsEnabled() || st.Report == nil {
		return st
	}
	scrub := func(text string) string { return s.scrubber.Scrub(text).Scrubbed }
	st.Rendered = scrub(st.Rendered)
	if td := st.Report.TechDebt; td != nil {
		report := *st.Report
		debt := *td
		debt.Markers = make([]audit.Marker, len(td.Markers))
		for i, m := range td.Markers {
			m.Text = scrub(m.Text)
			debt.Markers[i] = m
		}
		report.TechDebt = &debt
		st.Report = &report
	}
	return st
}

func auditMessage(st audit.State) string {
	switch st.Status {
	case audit.StatusRunning:
		return fmt.Sprintf("Audit %s is running (%d%% complete).", st.ID, st.Progress)
	case audit.StatusCompleted:
		return fmt.Sprintf("Audit %s completed.", st.ID)
	case audit.StatusFailed:
		return fmt.Sprintf("Audit %s failed: %s", st.ID, st.Error)
	}
	return fmt.Sprintf("Audit %s is pending.", st.ID)
}
