// Package agent launches the external coding agent.
//
// Every call starts a fresh process: nothing survives between invocations
// except what the caller puts into the prompt. The agent's own output is
// captured for operators but never treated as evidence of success; only the
// workspace and the quality gates decide that.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	rexec "github.com/fyrsmithlabs/ralph/internal/exec"
	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/secrets"
)

// ExitNone is the exit status reported when the agent did not exit on its
// own (timeout, kill, start failure).
const ExitNone = -1

// Request describes one invocation.
type Request struct {
	Prompt  string
	Dir     string
	Timeout time.Duration
}

// Result is the observable outcome of one invocation.
type Result struct {
	ExitStatus int           `json:"exitStatus"`
	Output     string        `json:"output"`
	Elapsed    time.Duration `json:"elapsedNs"`
	TimedOut   bool          `json:"timedOut"`
}

// Invoker runs the agent once per call.
//
// A non-nil error is always a failure.KindInvocation error (or
// failure.KindCancelled when ctx was cancelled). The Result is populated
// as far as the process got, even on error.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// Config configures a ProcessInvoker.
type Config struct {
	Command     string
	Args        []string
	Env         map[string]string
	OutputLimit int
	Runner      rexec.CommandRunner
	Scrubber    secrets.Scrubber
	Logger      *zap.Logger
}

// ProcessInvoker runs the agent as an OS process with the prompt on stdin.
type ProcessInvoker struct {
	command     string
	args        []string
	env         map[string]string
	outputLimit int
	runner      rexec.CommandRunner
	scrubber    secrets.Scrubber
	logger      *zap.Logger
}

// NewProcessInvoker creates an invoker. An empty Command triggers agent
// detection on PATH.
func NewProcessInvoker(cfg Config) (*ProcessInvoker, error) {
	command, args := cfg.Command, cfg.Args
	if command == "" {
		d, err := Detect()
		if err != nil {
			return nil, failure.Wrap(failure.KindConfig, "agent", err)
		}
		command = d.Command
		if args == nil {
			args = d.Args
		}
	}

	p := &ProcessInvoker{
		command:     command,
		args:        args,
		env:         cfg.Env,
		outputLimit: cfg.OutputLimit,
		runner:      cfg.Runner,
		scrubber:    cfg.Scrubber,
		logger:      cfg.Logger,
	}
	if p.runner == nil {
		p.runner = rexec.NewRealRunner()
	}
	if p.scrubber == nil {
		p.scrubber = secrets.MustNew(nil)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.outputLimit <= 0 {
		p.outputLimit = 64 * 1024
	}
	return p, nil
}

// Command returns the resolved agent command line.
func (p *ProcessInvoker) Command() string {
	return strings.TrimSpace(p.command + " " + strings.Join(p.args, " "))
}

// Invoke runs the agent once. The process is killed when req.Timeout
// elapses or ctx is cancelled.
func (p *ProcessInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	if req.Prompt == "" {
		return Result{ExitStatus: ExitNone}, failure.New(failure.KindInvocation, "agent", "empty prompt")
	}

	p.logger.Debug("invoking agent",
		zap.String("command", p.command),
		zap.String("dir", req.Dir),
		zap.Duration("timeout", req.Timeout),
		zap.Int("prompt_bytes", len(req.Prompt)),
	)

	res, err := p.runner.Run(ctx, p.command, p.args, rexec.RunOpts{
		Dir:         req.Dir,
		Env:         p.env,
		Stdin:       strings.NewReader(req.Prompt),
		Timeout:     req.Timeout,
		OutputLimit: p.outputLimit,
	})

	result := Result{
		ExitStatus: res.ExitCode,
		Output:     p.scrubber.Scrub(res.Combined()).Scrubbed,
		Elapsed:    res.Elapsed,
		TimedOut:   res.TimedOut,
	}

	switch {
	case err == nil && res.ExitCode == 0:
		return result, nil
	case err == nil:
		return result, failure.Newf(failure.KindInvocation, "agent", "exited with status %d", res.ExitCode)
	case errors.Is(err, rexec.ErrTimeout):
		result.ExitStatus = ExitNone
		result.TimedOut = true
		return result, failure.Wrap(failure.KindInvocation, "agent", fmt.Errorf("timed out after %s: %w", req.Timeout, err))
	case ctx.Err() != nil:
		result.ExitStatus = ExitNone
		return result, failure.Wrap(failure.KindCancelled, "agent", ctx.Err())
	default:
		result.ExitStatus = ExitNone
		return result, failure.Wrap(failure.KindInvocation, "agent", fmt.Errorf("failed to start %s: %w", p.command, err))
	}
}
