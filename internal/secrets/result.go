package secrets

import (
	"fmt"
	"sort"
	"strings"
)

// Result is the outcome of one Scrub call. The matched values themselves
// are never retained.
type Result struct {
	Scrubbed string         `json:"scrubbed"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"byRule,omitempty"`
}

// Finding locates one detected secret in the original content.
type Finding struct {
	RuleID string `json:"ruleId"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Line   int    `json:"line"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

// Summary is a short human-readable description such as
// "2 secrets redacted (github-token, private-key)".
func (r *Result) Summary() string {
	if !r.HasFindings() {
		return "no secrets detected"
	}
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	noun := "secrets"
	if len(r.Findings) == 1 {
		noun = "secret"
	}
	return fmt.Sprintf("%d %s redacted (%s)", len(r.Findings), noun, strings.Join(ids, ", "))
}
