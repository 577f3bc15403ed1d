package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/progress"
)

// CompletionMarker is what the agent is asked to print when it believes the
// backlog is done. The loop never acts on it.
const CompletionMarker = "<promise>COMPLETE</promise>"

const retryDiagnosticLimit = 2048

// PromptInput is everything a prompt is built from.
type PromptInput struct {
	Project  string
	Story    ledger.Story
	Recent   []progress.Outcome
	Attempt  int
	Previous string // diagnostics of the previous failed attempt at this story
	MaxBytes int    // bound for the recent-progress summary
}

// BuildPrompt renders the agent prompt. The agent receives nothing else: all
// continuity between iterations lives in this text.
func BuildPrompt(in PromptInput) string {
	var b strings.Builder
	s := in.Story

	if in.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n\n", in.Project)
	}
	fmt.Fprintf(&b, "## Story %s: %s", s.ID, s.Title)
	if in.Attempt > 1 {
		fmt.Fprintf(&b, " (attempt %d)", in.Attempt)
	}
	b.WriteString("\n\n")
	if d := strings.TrimSpace(s.Description); d != "" {
		b.WriteString(d)
		b.WriteString("\n\n")
	}

	if len(s.AcceptanceCriteria) > 0 {
		b.WriteString("### Acceptance criteria\n\n")
		for _, c := range s.AcceptanceCriteria {
			fmt.Fprintf(&b, "- [ ] %s\n", c)
		}
		b.WriteString("\n")
	}

	if notes := strings.TrimSpace(s.Notes); notes != "" {
		b.WriteString("### Notes\n\n")
		b.WriteString(notes)
		b.WriteString("\n\n")
	}

	if summary := progress.Summarize(in.Recent, in.MaxBytes); summary != "" {
		b.WriteString("### Recent progress\n\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}

	if in.Previous != "" {
		b.WriteString("### Previous attempt failed\n\n")
		b.WriteString(tail(in.Previous, retryDiagnosticLimit))
		b.WriteString("\n\n")
	}

	b.WriteString("### Instructions\n\n")
	b.WriteString("Implement this story in the current workspace so that every acceptance criterion holds.\n")
	b.WriteString("Work on this story only. The quality gates (build, tests, lint) decide whether it passes.\n")
	fmt.Fprintf(&b, "When you believe all work is complete, print %s on its own line.\n", CompletionMarker)

	return b.String()
}

// tail keeps the last n bytes of s, cut at a line boundary when possible.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	return "..." + "\n" + s
}
