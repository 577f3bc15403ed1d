package main

import (
	"encoding/json"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/progress"
)

// statusReport is the --json form of ralph status.
type statusReport struct {
	Counts   ledger.Counts      `json:"counts"`
	Stories  []ledger.Story     `json:"stories"`
	Outcomes []progress.Outcome `json:"outcomes"`
}

func newStatusCmd(g *globalOptions) *cobra.Command {
	var (
		last   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stories and recent iteration outcomes",
		Long: `Print the ledger in selection order followed by the newest entries
of the progress log. Safe to run while a loop is active.

Examples:
  ralph status
  ralph status --last 20
  ralph status --json | jq '.counts'`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if last < 0 {
				return failure.Newf(failure.KindInvalidArgument, "status", "--last must be >= 0, got %d", last)
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			l, err := a.loadLedger()
			if err != nil {
				return err
			}
			outcomes, err := recentOutcomes(a.cfg.Progress.Backend, inDir(a.dir, a.cfg.Progress.Path), last)
			if err != nil {
				return err
			}
			scrub := func(text string) string { return a.scrubber.Scrub(text).Scrubbed }
			for i := range outcomes {
				outcomes[i] = outcomes[i].Redacted(scrub)
			}

			report := statusReport{Counts: l.Counts(), Stories: l.Sorted(), Outcomes: outcomes}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printStatus(cmd, report)
		},
	}

	cmd.Flags().IntVar(&last, "last", 5, "number of progress entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// recentOutcomes reads the progress log without creating it.
func recentOutcomes(backend, path string, n int) ([]progress.Outcome, error) {
	if n == 0 {
		return []progress.Outcome{}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []progress.Outcome{}, nil
	}
	log, err := progress.Open(backend, path)
	if err != nil {
		return nil, err
	}
	defer log.Close()
	out, err := log.Recent(n)
	if err != nil {
		return nil, failure.Wrap(failure.KindIO, "status", err)
	}
	if out == nil {
		out = []progress.Outcome{}
	}
	return out, nil
}

func printStatus(cmd *cobra.Command, r statusReport) error {
	tw := newTable(cmd, table.Row{"ID", "Pri", "State", "Title"})
	for _, s := range r.Stories {
		tw.AppendRow(table.Row{s.ID, s.Priority, storyState(s), s.Title})
	}
	tw.Render()
	outf(cmd, "\n%d/%d passed, %d blocked\n", r.Counts.Passed, r.Counts.Total, r.Counts.Blocked)

	if len(r.Outcomes) > 0 {
		outln(cmd)
		for _, o := range r.Outcomes {
			outln(cmd, o.Line())
		}
	}
	return nil
}

func storyState(s ledger.Story) string {
	switch {
	case s.Passes:
		return "passed"
	case s.Blocked():
		return "blocked"
	default:
		return "pending"
	}
}
