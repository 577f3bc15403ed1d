// Ralph drives a coding agent through a backlog of user stories until every
// story passes its quality gates or the iteration budget runs out.
//
// Usage:
//
//	# Scaffold prd.json and .ralph/ in the current directory
//	ralph init
//
//	# Work the backlog with at most 20 agent invocations
//	ralph run --max-iterations 20
//
//	# Expose the loop to an MCP client over stdio
//	ralph serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	dir        string
	configPath string
	prdPath    string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	code := exitCode(err)
	if err != nil && code != exitCancelled {
		fmt.Fprintf(os.Stderr, "ralph: %v\n", err)
	}
	os.Exit(code)
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "ralph",
		Short: "Autonomous story loop for coding agents",
		Long: `ralph repeatedly invokes a coding agent against the stories in prd.json.
After each invocation it runs the configured quality gates and marks the
story as passed only when they succeed. The loop stops when every story
passes, the iteration budget is spent, or every remaining story is blocked.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.dir, "dir", "d", ".", "project directory")
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default <dir>/.ralph/config.yaml)")
	root.PersistentFlags().StringVar(&g.prdPath, "prd", "", "story ledger (default <dir>/prd.json)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return failure.Wrap(failure.KindInvalidArgument, cmd.Name(), err)
	})

	root.AddCommand(
		newRunCmd(g),
		newInitCmd(g),
		newServeCmd(g),
		newQualityCmd(g),
		newStatusCmd(g),
		newResetCmd(g),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, args []string) {
			outf(cmd, "ralph by Fyrsmith Labs\n")
			outf(cmd, "Version:    %s\n", version)
			outf(cmd, "Commit:     %s\n", gitCommit)
			outf(cmd, "Build Date: %s\n", buildDate)
		},
	}
}

// usageArgs marks positional argument errors as invalid arguments so they
// exit with the config status.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return failure.Wrap(failure.KindInvalidArgument, cmd.Name(), err)
		}
		return nil
	}
}

// outf writes to the command's stdout. cobra's Printf goes to stderr.
func outf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

func outln(cmd *cobra.Command, args ...interface{}) {
	fmt.Fprintln(cmd.OutOrStdout(), args...)
}

// newTable returns a light-bordered table writing to the command's stdout
// when rendered.
func newTable(cmd *cobra.Command, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}
