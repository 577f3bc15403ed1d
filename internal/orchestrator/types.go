package orchestrator

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/ralph/internal/ledger"
)

// State is a loop state machine state.
type State string

const (
	StateIdle      State = "idle"
	StateSelecting State = "selecting"
	StateInvoking  State = "invoking"
	StateVerifying State = "verifying"
	StateUpdating  State = "updating"
	StateCompleted State = "completed"
	StateHalted    State = "halted"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateHalted
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateIdle:      {StateSelecting, StateHalted},
	StateSelecting: {StateInvoking, StateCompleted, StateHalted},
	StateInvoking:  {StateVerifying, StateUpdating, StateHalted},
	StateVerifying: {StateUpdating, StateHalted},
	StateUpdating:  {StateSelecting, StateInvoking, StateHalted},
	StateCompleted: {StateIdle},
	StateHalted:    {StateIdle},
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// HaltReason says why a run stopped.
type HaltReason string

const (
	ReasonNone      HaltReason = ""
	ReasonCompleted HaltReason = "completed"
	ReasonBudget    HaltReason = "budget"
	ReasonBlocked   HaltReason = "blocked"
	ReasonError     HaltReason = "error"
	ReasonCancelled HaltReason = "cancelled"
)

// ErrAlreadyRunning is returned by Run and Start while a loop is active.
var ErrAlreadyRunning = errors.New("a loop is already running")

// RunResult is what a finished run reports.
type RunResult struct {
	RunID      string         `json:"runId"`
	State      State          `json:"state"`
	Reason     HaltReason     `json:"reason"`
	Iterations int            `json:"iterations"`
	Err        error          `json:"-"`
	Ledger     *ledger.Ledger `json:"ledger"`
	Duration   time.Duration  `json:"durationNs"`
}

// Snapshot is the last committed view of the orchestrator. Readers must
// treat it, including the ledger, as immutable.
type Snapshot struct {
	RunID          string
	State          State
	CurrentStory   string
	Iteration      int
	MaxIterations  int
	Running        bool
	LastHaltReason HaltReason
	LastError      string
	Ledger         *ledger.Ledger
	UpdatedAt      time.Time
}

// Status is the wire form of a snapshot.
type Status struct {
	RunID          string     `json:"run_id,omitempty"`
	State          State      `json:"state"`
	CurrentStory   string     `json:"current_story,omitempty"`
	Iteration      int        `json:"iteration"`
	MaxIterations  int        `json:"max_iterations"`
	Running        bool       `json:"running"`
	LastHaltReason HaltReason `json:"last_halt_reason,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	Passed         int        `json:"passed"`
	Total          int        `json:"total"`
	Blocked        int        `json:"blocked"`
}

// Status converts s to its wire form.
func (s *Snapshot) Status() Status {
	st := Status{
		RunID:          s.RunID,
		State:          s.State,
		CurrentStory:   s.CurrentStory,
		Iteration:      s.Iteration,
		MaxIterations:  s.MaxIterations,
		Running:        s.Running,
		LastHaltReason: s.LastHaltReason,
		LastError:      s.LastError,
	}
	if s.Ledger != nil {
		c := s.Ledger.Counts()
		st.Passed, st.Total, st.Blocked = c.Passed, c.Total, c.Blocked
	}
	return st
}

// ProgressCallback receives every committed snapshot. It runs on the loop
// goroutine and must not block.
type ProgressCallback func(s Snapshot)
