package ledger

import (
	"strings"
)

// BlockedMarker prefixes a notes line that keeps a story out of selection
// until it is reset.
const BlockedMarker = "[blocked]"

// Story is one backlog unit of work.
type Story struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	Priority           int      `json:"priority"`
	Passes             bool     `json:"passes"`
	Notes              string   `json:"notes"`

	// ExternalRef is the tracker handle for stories imported from or
	// mirrored to a project tracker.
	ExternalRef string `json:"externalRef,omitempty"`
}

// Blocked reports whether the notes carry a blocked marker.
func (s Story) Blocked() bool {
	for _, line := range strings.Split(s.Notes, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), BlockedMarker) {
			return true
		}
	}
	return false
}

// BlockReason returns the text after the most recent blocked marker.
func (s Story) BlockReason() string {
	reason := ""
	for _, line := range strings.Split(s.Notes, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, BlockedMarker) {
			reason = strings.TrimSpace(strings.TrimPrefix(line, BlockedMarker))
		}
	}
	return reason
}

// Selectable reports whether the loop may pick this story.
func (s Story) Selectable() bool {
	return !s.Passes && !s.Blocked()
}

func (s Story) clone() Story {
	c := s
	if s.AcceptanceCriteria != nil {
		c.AcceptanceCriteria = append([]string(nil), s.AcceptanceCriteria...)
	}
	return c
}

func appendNote(notes, line string) string {
	notes = strings.TrimRight(notes, "\n")
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func stripBlocked(notes string) string {
	lines := strings.Split(notes, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), BlockedMarker) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n")
}
