// Package failure defines the error kinds the loop distinguishes.
//
// Each kind carries a propagation rule:
//
//	KindConfig          fatal at startup, the loop never starts
//	KindInvocation      retried, then the story is blocked
//	KindGateExecution   counted as a gate failure
//	KindIntegration     logged, the loop continues
//	KindCancelled       normal halt path
//	KindIO              ledger or progress log unwritable, fatal
package failure

import (
	"errors"
	"fmt"
)

// Kind is a stable error kind name. The string form is part of the control
// server's wire format.
type Kind string

const (
	KindConfig          Kind = "config"
	KindInvocation      Kind = "invocation"
	KindGateExecution   Kind = "gate_execution"
	KindIntegration     Kind = "integration"
	KindCancelled       Kind = "cancelled"
	KindIO              Kind = "io"
	KindInvalidArgument Kind = "invalid_argument"
	KindNotRunning      Kind = "not_running"
	KindInternal        Kind = "internal"
)

// Error is the standard error type for classified failures.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error returns "op: message: cause" with empty parts omitted.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, failure.Cancelled)
// works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks by kind.
var (
	Config        = &Error{Kind: KindConfig}
	Invocation    = &Error{Kind: KindInvocation}
	GateExecution = &Error{Kind: KindGateExecution}
	Integration   = &Error{Kind: KindIntegration}
	Cancelled     = &Error{Kind: KindCancelled}
	IO            = &Error{Kind: KindIO}
)

// New creates an error of the given kind.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or KindInternal when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}

// Fatal reports whether err must halt the loop.
func Fatal(err error) bool {
	return IsKind(err, KindConfig) || IsKind(err, KindIO)
}
