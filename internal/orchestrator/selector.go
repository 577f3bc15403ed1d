package orchestrator

import "github.com/fyrsmithlabs/ralph/internal/ledger"

// Selector picks the story for the next iteration. Returning false means
// no story is selectable.
type Selector interface {
	Select(l *ledger.Ledger) (ledger.Story, bool)
}

// PrioritySelector picks the non-passing, non-blocked story with the lowest
// priority number, breaking ties by lowest id.
type PrioritySelector struct{}

// Select implements Selector.
func (PrioritySelector) Select(l *ledger.Ledger) (ledger.Story, bool) {
	return l.Next()
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(l *ledger.Ledger) (ledger.Story, bool)

// Select implements Selector.
func (f SelectorFunc) Select(l *ledger.Ledger) (ledger.Story, bool) {
	return f(l)
}
