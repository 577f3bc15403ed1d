// Package ledger holds the persisted story backlog.
//
// The ledger is plain data. Selection policy and the rules for when a story
// may pass live in the orchestrator; this package only guarantees that what
// it loads and saves is well formed.
package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

// SchemaVersion is the ledger format version written by Save.
const SchemaVersion = 1

// Ledger is the ordered story backlog plus its schema marker.
type Ledger struct {
	Version     int     `json:"version"`
	Project     string  `json:"project,omitempty"`
	BranchName  string  `json:"branchName,omitempty"`
	Description string  `json:"description,omitempty"`
	Stories     []Story `json:"userStories"`
}

// Counts summarizes ledger state.
type Counts struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Blocked int `json:"blocked"`
}

// Validate checks schema version and story identity. Violations are
// config errors.
func (l *Ledger) Validate() error {
	if l.Version != SchemaVersion {
		return failure.Newf(failure.KindConfig, "ledger", "unsupported schema version %d (want %d)", l.Version, SchemaVersion)
	}

	seen := make(map[string]int, len(l.Stories))
	for i, s := range l.Stories {
		if strings.TrimSpace(s.ID) == "" {
			return failure.Newf(failure.KindConfig, "ledger", "story at index %d has empty id", i)
		}
		if prev, ok := seen[s.ID]; ok {
			return failure.Newf(failure.KindConfig, "ledger", "duplicate story id %q at indexes %d and %d", s.ID, prev, i)
		}
		seen[s.ID] = i
		if strings.TrimSpace(s.Title) == "" {
			return failure.Newf(failure.KindConfig, "ledger", "story %q has empty title", s.ID)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	c := *l
	c.Stories = make([]Story, len(l.Stories))
	for i, s := range l.Stories {
		c.Stories[i] = s.clone()
	}
	return &c
}

// Find returns a copy of the story with the given id.
func (l *Ledger) Find(id string) (Story, bool) {
	if i := l.index(id); i >= 0 {
		return l.Stories[i].clone(), true
	}
	return Story{}, false
}

func (l *Ledger) index(id string) int {
	for i := range l.Stories {
		if l.Stories[i].ID == id {
			return i
		}
	}
	return -1
}

// Remaining returns the number of stories with passes=false.
func (l *Ledger) Remaining() int {
	n := 0
	for _, s := range l.Stories {
		if !s.Passes {
			n++
		}
	}
	return n
}

// Counts returns total, passed and blocked counts.
func (l *Ledger) Counts() Counts {
	c := Counts{Total: len(l.Stories)}
	for _, s := range l.Stories {
		switch {
		case s.Passes:
			c.Passed++
		case s.Blocked():
			c.Blocked++
		}
	}
	return c
}

// Next returns the selectable story with the lowest priority number,
// breaking ties by lowest id.
func (l *Ledger) Next() (Story, bool) {
	var best *Story
	for i := range l.Stories {
		s := &l.Stories[i]
		if !s.Selectable() {
			continue
		}
		if best == nil || s.Priority < best.Priority || (s.Priority == best.Priority && s.ID < best.ID) {
			best = s
		}
	}
	if best == nil {
		return Story{}, false
	}
	return best.clone(), true
}

// Sorted returns copies of all stories in selection order.
func (l *Ledger) Sorted() []Story {
	out := make([]Story, len(l.Stories))
	for i, s := range l.Stories {
		out[i] = s.clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarkPassed sets passes=true and clears any blocked marker.
func (l *Ledger) MarkPassed(id string) error {
	i := l.index(id)
	if i < 0 {
		return fmt.Errorf("story %q not found", id)
	}
	l.Stories[i].Passes = true
	l.Stories[i].Notes = stripBlocked(l.Stories[i].Notes)
	return nil
}

// Block annotates the story as blocked. passes is left untouched.
func (l *Ledger) Block(id, reason string) error {
	i := l.index(id)
	if i < 0 {
		return fmt.Errorf("story %q not found", id)
	}
	line := BlockedMarker
	if reason = strings.TrimSpace(strings.ReplaceAll(reason, "\n", " ")); reason != "" {
		line += " " + reason
	}
	l.Stories[i].Notes = appendNote(l.Stories[i].Notes, line)
	return nil
}

// Reset removes every blocked marker from the story.
func (l *Ledger) Reset(id string) error {
	i := l.index(id)
	if i < 0 {
		return fmt.Errorf("story %q not found", id)
	}
	l.Stories[i].Notes = stripBlocked(l.Stories[i].Notes)
	return nil
}

// AddNote appends a free-text line to the story's notes.
func (l *Ledger) AddNote(id, note string) error {
	i := l.index(id)
	if i < 0 {
		return fmt.Errorf("story %q not found", id)
	}
	l.Stories[i].Notes = appendNote(l.Stories[i].Notes, note)
	return nil
}

// Merge appends stories whose ids are not yet present and returns how many
// were added. Existing stories are never modified.
func (l *Ledger) Merge(stories []Story) int {
	added := 0
	for _, s := range stories {
		if s.ID == "" || l.index(s.ID) >= 0 {
			continue
		}
		l.Stories = append(l.Stories, s.clone())
		added++
	}
	return added
}
