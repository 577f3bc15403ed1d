// Package exec runs external commands behind a stub-friendly interface.
package exec

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"time"
)

// Exit codes reported when the process did not exit on its own.
const (
	ExitTimeout   = -1
	ExitCanceled  = -2
	ExitStartFail = -3
)

// DefaultOutputLimit bounds captured stdout and stderr when RunOpts leaves
// OutputLimit unset.
const DefaultOutputLimit = 256 * 1024

// ErrTimeout is returned when RunOpts.Timeout elapses before the process exits.
var ErrTimeout = errors.New("command timed out")

// CmdResult holds the result of a command execution.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
	TimedOut bool
	// Truncated reports whether either stream exceeded the output limit;
	// the tail is kept.
	Truncated bool
}

// Combined returns stdout followed by stderr.
func (r CmdResult) Combined() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// RunOpts holds optional parameters for command execution.
type RunOpts struct {
	Dir         string            // working directory (optional)
	Env         map[string]string // extra environment variables (overlay)
	Stdin       io.Reader
	Timeout     time.Duration // zero means no timeout beyond ctx
	OutputLimit int           // bytes kept per stream, tail wins
}

// CommandRunner is the interface for running external commands.
type CommandRunner interface {
	// Run executes a command and returns the result.
	// A process that exits, even non-zero, yields a nil error with ExitCode set.
	// Errors are returned for start failures (ExitStartFail), timeouts
	// (ErrTimeout, ExitTimeout) and ctx cancellation (ctx.Err(), ExitCanceled).
	Run(ctx context.Context, name string, args []string, opts RunOpts) (CmdResult, error)
}

// RealRunner is the production implementation of CommandRunner using os/exec.
//
// Each command runs in its own process group so a timeout or cancellation
// kills the children it spawned too.
type RealRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after the
	// process is killed.
	WaitDelay time.Duration
}

// NewRealRunner creates a new RealRunner.
func NewRealRunner() *RealRunner {
	return &RealRunner{WaitDelay: 5 * time.Second}
}

// Run executes the command and captures bounded stdout/stderr.
func (r *RealRunner) Run(ctx context.Context, name string, args []string, opts RunOpts) (CmdResult, error) {
	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	limit := opts.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	stdout := NewTailBuffer(limit)
	stderr := NewTailBuffer(limit)

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = opts.Stdin
	cmd.Dir = opts.Dir
	cmd.WaitDelay = r.WaitDelay
	setProcessGroup(cmd)

	if len(opts.Env) > 0 {
		cmd.Env = cmd.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	start := time.Now()
	err := cmd.Run()

	result := CmdResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Elapsed:   time.Since(start),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	// The parent ctx wins over our own timeout when both fired.
	if err != nil && ctx.Err() != nil {
		result.ExitCode = ExitCanceled
		return result, ctx.Err()
	}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = ExitTimeout
		result.TimedOut = true
		return result, ErrTimeout
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if cmd.ProcessState == nil {
			result.ExitCode = ExitStartFail
		}
		return result, err
	}

	result.ExitCode = 0
	return result, nil
}
