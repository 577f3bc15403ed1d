// Package progress is the append-only record of every loop iteration.
//
// Each agent attempt produces exactly one Outcome. Outcomes are never
// rewritten; their sequence numbers keep increasing across runs so a log
// can be tailed with Since.
package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ralph/internal/quality"
)

// Verdict classifies an iteration.
type Verdict string

const (
	VerdictPassed      Verdict = "passed"
	VerdictFailed      Verdict = "failed"
	VerdictAgentFailed Verdict = "agent-failed"
	VerdictTimedOut    Verdict = "timed-out"
)

// Outcome is one appended record.
type Outcome struct {
	Seq          int64                `json:"seq"`
	RunID        string               `json:"runId"`
	Iteration    int                  `json:"iteration"`
	Timestamp    time.Time            `json:"timestamp"`
	StoryID      string               `json:"storyId"`
	Attempt      int                  `json:"attempt"`
	Gates        []quality.GateResult `json:"gates,omitempty"`
	Verdict      Verdict              `json:"verdict"`
	AgentExit    int                  `json:"agentExit"`
	DurationMs   int64                `json:"durationMs"`
	ChangedFiles []string             `json:"changedFiles,omitempty"`
	Summary      string               `json:"summary"`
}

// Line renders o as a single prompt-friendly line.
func (o Outcome) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s attempt %d: %s", o.Seq, o.StoryID, o.Attempt, o.Verdict)
	if o.Summary != "" {
		b.WriteString(" - ")
		b.WriteString(strings.ReplaceAll(o.Summary, "\n", " "))
	}
	return b.String()
}

// Redacted returns a copy of o with redact applied to the agent summary and
// every gate diagnostic. o itself and its Gates slice are not modified.
func (o Outcome) Redacted(redact func(string) string) Outcome {
	o.Summary = redact(o.Summary)
	if len(o.Gates) > 0 {
		gates := make([]quality.GateResult, len(o.Gates))
		copy(gates, o.Gates)
		for i := range gates {
			gates[i].Diagnostic = redact(gates[i].Diagnostic)
		}
		o.Gates = gates
	}
	return o
}

// Summarize renders outcomes oldest first, dropping the oldest lines until
// the text fits in maxBytes. A non-positive maxBytes means no limit.
func Summarize(outcomes []Outcome, maxBytes int) string {
	lines := make([]string, len(outcomes))
	total := 0
	for i, o := range outcomes {
		lines[i] = o.Line()
		total += len(lines[i]) + 1
	}
	start := 0
	for maxBytes > 0 && total > maxBytes && start < len(lines) {
		total -= len(lines[start]) + 1
		start++
	}
	if start == len(lines) {
		return ""
	}
	return strings.Join(lines[start:], "\n")
}
