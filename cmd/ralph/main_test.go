package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/orchestrator"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// project writes a ledger, a config pointing the agent at a shell that
// swallows the prompt, and a one-gate profile running gate.
func project(t *testing.T, gate string, stories ...ledger.Story) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, ledger.Save(filepath.Join(dir, "prd.json"), &ledger.Ledger{
		Version: ledger.SchemaVersion,
		Project: "demo",
		Stories: stories,
	}))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".ralph"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ralph", "config.yaml"), []byte(`
loop:
  max_iterations: 5
agent:
  command: sh
  args: ["-c", "cat >/dev/null"]
  timeout: 1m
quality:
  profile: gates.toml
logging:
  level: error
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gates.toml"), []byte(`
name = "test"
policy = "all-must-pass"

[[gate]]
name = "check"
command = "`+gate+`"
`), 0644))
	return dir
}

func loadLedger(t *testing.T, dir string) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Load(filepath.Join(dir, "prd.json"))
	require.NoError(t, err)
	return l
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"config", failure.New(failure.KindConfig, "config", "bad"), exitConfig},
		{"invalid argument", failure.New(failure.KindInvalidArgument, "run", "bad"), exitConfig},
		{"cancelled", failure.New(failure.KindCancelled, "run", "stop"), exitCancelled},
		{"io", failure.New(failure.KindIO, "ledger", "disk"), exitHalted},
		{"plain", errors.New("boom"), exitHalted},
		{"explicit", &exitError{code: exitBudget}, exitBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestRunExit(t *testing.T) {
	tests := []struct {
		name string
		res  orchestrator.RunResult
		err  error
		want int
	}{
		{"completed", orchestrator.RunResult{State: orchestrator.StateCompleted, Reason: orchestrator.ReasonCompleted}, nil, exitOK},
		{"budget", orchestrator.RunResult{State: orchestrator.StateHalted, Reason: orchestrator.ReasonBudget}, nil, exitBudget},
		{"blocked", orchestrator.RunResult{State: orchestrator.StateHalted, Reason: orchestrator.ReasonBlocked}, nil, exitHalted},
		{"cancelled", orchestrator.RunResult{State: orchestrator.StateHalted, Reason: orchestrator.ReasonCancelled}, nil, exitCancelled},
		{"io", orchestrator.RunResult{State: orchestrator.StateHalted, Reason: orchestrator.ReasonError}, failure.New(failure.KindIO, "progress", "disk full"), exitHalted},
		{"config", orchestrator.RunResult{State: orchestrator.StateHalted, Reason: orchestrator.ReasonError}, failure.New(failure.KindConfig, "quality", "bad profile"), exitConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(runExit(tt.res, tt.err)))
		})
	}
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
		assert.NotEmpty(t, c.Short, c.Name())
	}
	for _, want := range []string{"init", "quality", "reset", "run", "serve", "status", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestUsageErrorsExitWithConfigStatus(t *testing.T) {
	_, err := execute(t, "reset")
	assert.Equal(t, exitConfig, exitCode(err))

	_, err = execute(t, "run", "--max-iterations", "abc")
	assert.Equal(t, exitConfig, exitCode(err))

	_, err = execute(t, "run", "--max-iterations", "-1", "--dir", t.TempDir())
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestInitCmd(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "init", "--dir", dir, "--project", "billing")
	require.NoError(t, err)
	assert.Contains(t, out, "prd.json")

	l := loadLedger(t, dir)
	assert.Equal(t, "billing", l.Project)
	assert.Empty(t, l.Stories)
	assert.FileExists(t, filepath.Join(dir, ".ralph", "config.yaml"))
	assert.FileExists(t, filepath.Join(dir, ".ralph", "quality.toml"))

	// The scaffolded config and profile load cleanly.
	out, err = execute(t, "quality", "--dir", dir, "--show")
	require.NoError(t, err)
	assert.Contains(t, out, `name = "standard"`)

	_, err = execute(t, "init", "--dir", dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrExists)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestInitCmd_KeepsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, ".ralph", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(cfgPath), 0755))
	require.NoError(t, os.WriteFile(cfgPath, []byte("loop:\n  retries: 3\n"), 0644))

	_, err := execute(t, "init", "--dir", dir)
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "loop:\n  retries: 3\n", string(data))
}

func TestRunCmd_Completes(t *testing.T) {
	dir := project(t, "true",
		ledger.Story{ID: "US-001", Title: "First", Priority: 1},
		ledger.Story{ID: "US-002", Title: "Second", Priority: 2},
	)

	out, err := execute(t, "run", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, orchestrator.CompletionMarker)
	assert.Contains(t, out, "stories: 2/2 passed, 0 blocked")

	l := loadLedger(t, dir)
	assert.Zero(t, l.Remaining())
	assert.FileExists(t, filepath.Join(dir, "progress.jsonl"))
}

func TestRunCmd_BudgetExhausted(t *testing.T) {
	dir := project(t, "false", ledger.Story{ID: "US-001", Title: "Never passes", Priority: 1})

	out, err := execute(t, "run", "--dir", dir, "--max-iterations", "2")
	require.Error(t, err)
	assert.Equal(t, exitBudget, exitCode(err))
	assert.Contains(t, out, "after 2 iterations")
	assert.NotContains(t, out, orchestrator.CompletionMarker)
	assert.Equal(t, 1, loadLedger(t, dir).Remaining())
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	dir := project(t, "true", ledger.Story{ID: "US-001", Title: "One", Priority: 1})
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ralph", "config.yaml"), []byte("progress:\n  backend: csv\n"), 0644))

	_, err := execute(t, "run", "--dir", dir)
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestRunCmd_MissingLedger(t *testing.T) {
	dir := project(t, "true")
	require.NoError(t, os.Remove(filepath.Join(dir, "prd.json")))

	_, err := execute(t, "run", "--dir", dir)
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
	assert.Contains(t, err.Error(), "ralph init")
}

func TestQualityCmd(t *testing.T) {
	out, err := execute(t, "quality", "--dir", project(t, "true"))
	require.NoError(t, err)
	assert.Contains(t, out, "check")
	assert.Contains(t, out, "All 1 gates passed")

	out, err = execute(t, "quality", "--dir", project(t, "false"))
	require.Error(t, err)
	assert.Equal(t, exitGatesFailed, exitCode(err))
	assert.Contains(t, out, "fail")
}

func TestResetCmd(t *testing.T) {
	dir := project(t, "true",
		ledger.Story{ID: "US-001", Title: "Stuck", Priority: 1, Notes: "[blocked] quality gates failed 3 times: test"},
	)

	out, err := execute(t, "reset", "--dir", dir, "US-001")
	require.NoError(t, err)
	assert.Contains(t, out, "US-001 unblocked")

	s, ok := loadLedger(t, dir).Find("US-001")
	require.True(t, ok)
	assert.False(t, s.Blocked())
	assert.False(t, s.Passes)

	_, err = execute(t, "reset", "--dir", dir, "US-404")
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestStatusCmd(t *testing.T) {
	dir := project(t, "true",
		ledger.Story{ID: "US-002", Title: "Later", Priority: 2, Notes: "[blocked] agent failed"},
		ledger.Story{ID: "US-001", Title: "Done", Priority: 1, Passes: true},
	)

	out, err := execute(t, "status", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "US-001")
	assert.Contains(t, out, "blocked")
	assert.Contains(t, out, "1/2 passed, 1 blocked")
	assert.NoFileExists(t, filepath.Join(dir, "progress.jsonl"), "status must not create the log")

	out, err = execute(t, "status", "--dir", dir, "--json")
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Counts.Total)
	require.Len(t, report.Stories, 2)
	assert.Equal(t, "US-001", report.Stories[0].ID)
	assert.Empty(t, report.Outcomes)
}

func TestStatusCmd_AfterRun(t *testing.T) {
	dir := project(t, "true", ledger.Story{ID: "US-001", Title: "One", Priority: 1})
	_, err := execute(t, "run", "--dir", dir)
	require.NoError(t, err)

	out, err := execute(t, "status", "--dir", dir, "--json")
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "US-001", report.Outcomes[0].StoryID)
}
