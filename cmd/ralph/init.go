package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ralph/internal/config"
	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/quality"
)

// configTemplate is written by init. Every key is optional.
const configTemplate = `# ralph configuration. Environment variables override any key,
# e.g. RALPH_LOOP_MAX_ITERATIONS=20 or RALPH_AGENT_TIMEOUT=45m.

loop:
  max_iterations: 10
  retries: 1
  max_attempts_per_story: 10

agent:
  # Empty command picks the first known agent CLI on PATH.
  command: ""
  timeout: 30m

quality:
  profile: .ralph/quality.toml

progress:
  backend: jsonl
  path: progress.jsonl

tracker:
  provider: none

logging:
  level: info
  format: console
`

func newInitCmd(g *globalOptions) *cobra.Command {
	var project string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold an empty ledger and config",
		Long: `Create prd.json, .ralph/config.yaml and .ralph/quality.toml in the
project directory. An existing ledger is never overwritten; existing
config files are left alone.

Examples:
  ralph init
  ralph init --dir ./service --project billing`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(g.dir)
			if err != nil {
				return failure.Wrap(failure.KindInvalidArgument, "init", err)
			}

			path, err := ledger.Init(dir, project)
			if errors.Is(err, ledger.ErrExists) {
				return failure.Wrap(failure.KindInvalidArgument, "init", err)
			}
			if err != nil {
				return err
			}
			outf(cmd, "created %s\n", path)

			cfgPath := config.DefaultPath(dir)
			created, err := writeIfMissing(cfgPath, func(f *os.File) error {
				_, err := f.WriteString(configTemplate)
				return err
			})
			if err != nil {
				return err
			}
			if created {
				outf(cmd, "created %s\n", cfgPath)
			}

			profilePath := filepath.Join(dir, config.DefaultDir, "quality.toml")
			created, err = writeIfMissing(profilePath, func(f *os.File) error {
				p, _ := quality.Preset(quality.PresetStandard)
				return quality.WriteProfile(f, p)
			})
			if err != nil {
				return err
			}
			if created {
				outf(cmd, "created %s\n", profilePath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project name (default: directory name)")
	return cmd
}

// writeIfMissing creates path with write. It reports false when the file
// already exists.
func writeIfMissing(path string, write func(f *os.File) error) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, failure.Wrap(failure.KindIO, "init", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, failure.Wrap(failure.KindIO, "init", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return false, failure.Wrap(failure.KindIO, "init", fmt.Errorf("writing %s: %w", path, err))
	}
	if err := f.Close(); err != nil {
		return false, failure.Wrap(failure.KindIO, "init", err)
	}
	return true, nil
}
