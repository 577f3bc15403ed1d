package main

import (
	"errors"
	"strconv"

	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/orchestrator"
)

// Process exit codes.
const (
	exitOK        = 0
	exitBudget    = 2
	exitHalted    = 3
	exitConfig    = 4
	exitCancelled = 130
)

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "exit status " + strconv.Itoa(e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch failure.KindOf(err) {
	case failure.KindConfig, failure.KindInvalidArgument:
		return exitConfig
	case failure.KindCancelled:
		return exitCancelled
	default:
		return exitHalted
	}
}

// runExit converts a finished run into an error whose exit code reflects
// how the loop ended. A completed run returns nil.
func runExit(res orchestrator.RunResult, err error) error {
	switch {
	case res.State == orchestrator.StateCompleted:
		return nil
	case res.Reason == orchestrator.ReasonBudget:
		return &exitError{code: exitBudget, err: errors.New("iteration budget exhausted")}
	case res.Reason == orchestrator.ReasonCancelled:
		return &exitError{code: exitCancelled, err: failure.New(failure.KindCancelled, "run", "interrupted")}
	case res.Reason == orchestrator.ReasonBlocked:
		return &exitError{code: exitHalted, err: errors.New("every remaining story is blocked")}
	case err != nil:
		if failure.IsKind(err, failure.KindConfig) {
			return &exitError{code: exitConfig, err: err}
		}
		return &exitError{code: exitHalted, err: err}
	default:
		return &exitError{code: exitHalted, err: errors.New("loop halted: " + string(res.Reason))}
	}
}
