package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/orchestrator"
)

func newRunCmd(g *globalOptions) *cobra.Command {
	var (
		maxIterations int
		profile       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Work the backlog until done or out of budget",
		Long: `Run the story loop in the foreground.

Each iteration picks the highest-priority pending story, invokes the agent
with a prompt built from the story and recent progress, then runs the
quality gates. Exit status: 0 all stories passed, 2 budget exhausted,
3 halted on an error or with every remaining story blocked, 4 invalid
configuration, 130 interrupted.

Examples:
  # Use the configured budget
  ralph run

  # Ten agent invocations at most, comprehensive gates
  ralph run --max-iterations 10 --profile comprehensive`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxIterations < 0 {
				return failure.Newf(failure.KindInvalidArgument, "run", "--max-iterations must be >= 0, got %d", maxIterations)
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, g, appOptions{profile: profile, loop: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			res, err := a.orch.Run(ctx, maxIterations)
			printRunSummary(cmd, res)
			return runExit(res, err)
		},
	}

	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", 0, "iteration budget (0 uses loop.max_iterations)")
	cmd.Flags().StringVar(&profile, "profile", "", "quality preset name or TOML file (overrides quality.profile)")
	return cmd
}

func printRunSummary(cmd *cobra.Command, res orchestrator.RunResult) {
	if res.RunID == "" {
		return
	}
	line := string(res.State)
	if res.Reason != orchestrator.ReasonNone && res.Reason != orchestrator.ReasonCompleted {
		line += " (" + string(res.Reason) + ")"
	}
	outf(cmd, "run %s %s after %d iterations in %s\n", res.RunID, line, res.Iterations, res.Duration.Round(time.Millisecond))
	if res.Ledger != nil {
		c := res.Ledger.Counts()
		outf(cmd, "stories: %d/%d passed, %d blocked\n", c.Passed, c.Total, c.Blocked)
	}
	if res.State == orchestrator.StateCompleted {
		outln(cmd, orchestrator.CompletionMarker)
	}
}
