package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ralph/internal/quality"
)

// exitGatesFailed is returned by quality when the verdict fails.
const exitGatesFailed = 1

func newQualityCmd(g *globalOptions) *cobra.Command {
	var (
		profile string
		show    bool
	)

	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Run the quality gates once against the workspace",
		Long: `Evaluate the quality profile the loop would use, without invoking the
agent or touching the ledger. Exits 1 when the verdict fails.

Examples:
  ralph quality
  ralph quality --profile comprehensive
  ralph quality --profile .ralph/quality.toml --show`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{profile: profile})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if show {
				return quality.WriteProfile(cmd.OutOrStdout(), a.profile)
			}

			outf(cmd, "profile %s (%s, %d gates)\n", a.profile.Name, a.profile.Policy, len(a.profile.Gates))
			verdict, err := a.engine.Evaluate(ctx, a.profile, a.dir)
			if err != nil {
				return err
			}

			tw := newTable(cmd, table.Row{"Gate", "Status", "Score", "Duration"})
			for _, r := range verdict.Results {
				score := ""
				if r.Score != nil {
					score = fmt.Sprintf("%.1f", *r.Score)
				}
				tw.AppendRow(table.Row{r.Name, r.Status, score, r.Duration.Round(time.Millisecond)})
			}
			tw.Render()
			for _, r := range verdict.Failed() {
				if r.Diagnostic != "" {
					outf(cmd, "\n--- %s ---\n%s\n", r.Name, a.scrubber.Scrub(r.Diagnostic).Scrubbed)
				}
			}

			outln(cmd, verdict.Summary)
			if !verdict.Passed {
				return &exitError{code: exitGatesFailed, err: fmt.Errorf("quality gates failed: %s", verdict.Summary)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "", "quality preset name or TOML file (overrides quality.profile)")
	cmd.Flags().BoolVar(&show, "show", false, "print the resolved profile as TOML and exit")
	return cmd
}
