package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
)

func newResetCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <story-id>",
		Short: "Clear the blocked marker of a story",
		Long: `Remove every [blocked] line from a story's notes so the loop selects it
again. The story stays pending; use this after fixing whatever blocked it.
Do not run it against a ledger a loop is currently writing; use the
reset_story tool of ralph serve instead.

Examples:
  ralph reset US-004`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			id := args[0]
			before, _ := l.Find(id)
			if err := l.Reset(id); err != nil {
				return failure.Wrap(failure.KindInvalidArgument, "reset", err)
			}
			if err := ledger.Save(a.ledgerPath, l); err != nil {
				return err
			}

			if before.Blocked() {
				outf(cmd, "%s unblocked\n", id)
			} else {
				outf(cmd, "%s was not blocked\n", id)
			}
			return nil
		},
	}
}
