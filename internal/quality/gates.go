package quality

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	rexec "github.com/fyrsmithlabs/ralph/internal/exec"
	"github.com/fyrsmithlabs/ralph/internal/failure"
)

// runGate executes one gate and classifies its outcome. It never returns an
// error: anything that prevents the gate from producing a judgement is
// reported as StatusError with a GateExecutionError diagnostic.
func runGate(ctx context.Context, runner rexec.CommandRunner, def GateDefinition, workspace string) GateResult {
	start := time.Now()
	res, err := runner.Run(ctx, def.Command, def.Args, rexec.RunOpts{
		Dir:     workspace,
		Env:     def.Env,
		Timeout: def.Timeout.Duration(),
	})
	result := GateResult{Name: def.Name, Duration: time.Since(start)}
	output := strings.TrimSpace(res.Combined())

	if err != nil {
		var reason string
		switch {
		case errors.Is(err, rexec.ErrTimeout):
			reason = fmt.Sprintf("timed out after %s", def.Timeout.Duration())
		case ctx.Err() != nil:
			reason = "cancelled"
		default:
			reason = "could not run"
		}
		gerr := failure.Wrap(failure.KindGateExecution, def.Name, fmt.Errorf("%s: %w", reason, err))
		result.Status = StatusError
		result.Diagnostic = diagnostic(gerr.Error(), output)
		return result
	}

	switch def.Criterion {
	case CriterionEmptyOutput:
		if res.ExitCode == 0 && strings.TrimSpace(res.Stdout) == "" {
			result.Status = StatusPass
		} else {
			result.Status = StatusFail
			result.Diagnostic = diagnostic(fmt.Sprintf("exit %d with output", res.ExitCode), output)
		}

	case CriterionCoverage:
		if res.ExitCode != 0 {
			result.Status = StatusFail
			result.Diagnostic = diagnostic(fmt.Sprintf("coverage command exited %d", res.ExitCode), output)
			break
		}
		pct, ok := ParseCoverage(res.Stdout)
		if !ok {
			pct, ok = ParseCoverage(output)
		}
		if !ok {
			gerr := failure.New(failure.KindGateExecution, def.Name, "no coverage percentage in output")
			result.Status = StatusError
			result.Diagnostic = diagnostic(gerr.Error(), output)
			break
		}
		result.Score = &pct
		if pct >= def.MinCoverage {
			result.Status = StatusPass
			result.Diagnostic = fmt.Sprintf("Coverage %.2f%% meets threshold of %.0f%%", pct, def.MinCoverage)
		} else {
			result.Status = StatusFail
			result.Diagnostic = fmt.Sprintf("Coverage %.2f%% is below threshold of %.0f%%", pct, def.MinCoverage)
		}

	default:
		if res.ExitCode == 0 {
			result.Status = StatusPass
		} else {
			result.Status = StatusFail
			result.Diagnostic = diagnostic(fmt.Sprintf("exit %d", res.ExitCode), output)
		}
	}
	return result
}

// diagnostic joins a headline with the tail of the command output.
func diagnostic(headline, output string) string {
	if output == "" {
		return headline
	}
	return headline + "\n" + rexec.Tail(output, diagnosticLimit)
}
