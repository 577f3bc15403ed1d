package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Loop.MaxIterations)
	assert.Equal(t, 10, cfg.Loop.MaxAttemptsPerStory)
	assert.Equal(t, "prd.json", cfg.Loop.LedgerFile)
	assert.Equal(t, 30*time.Minute, cfg.Agent.Timeout.Duration())
	assert.Equal(t, "standard", cfg.Quality.Profile)
	assert.Equal(t, "jsonl", cfg.Progress.Backend)
	assert.Equal(t, "progress.jsonl", cfg.Progress.Path)
	assert.Equal(t, "none", cfg.Tracker.Provider)
	assert.False(t, cfg.Loop.Unlimited())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `loop:
  max_iterations: 25
  retries: 3
agent:
  command: claude
  args: ["--print"]
  timeout: 90s
progress:
  backend: sqlite
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Loop.MaxIterations)
	assert.Equal(t, 3, cfg.Loop.Retries)
	assert.Equal(t, "claude", cfg.Agent.Command)
	assert.Equal(t, []string{"--print"}, cfg.Agent.Args)
	assert.Equal(t, 90*time.Second, cfg.Agent.Timeout.Duration())
	assert.Equal(t, "progress.db", cfg.Progress.Path)
}

func TestLoad_ExplicitZeroBudgetIsUnlimited(t *testing.T) {
	path := writeConfig(t, "loop:\n  max_iterations: 0\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Loop.MaxIterations)
	assert.True(t, cfg.Loop.Unlimited())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "loop:\n  max_iterations: 25\n")
	t.Setenv("RALPH_LOOP_MAX_ITERATIONS", "7")
	t.Setenv("RALPH_TRACKER_PROVIDER", "github")
	t.Setenv("RALPH_TRACKER_GITHUB_OWNER", "acme")
	t.Setenv("RALPH_TRACKER_GITHUB_REPO", "widgets")
	t.Setenv("GITHUB_TOKEN", "ghp_example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Loop.MaxIterations)
	assert.Equal(t, "acme", cfg.Tracker.GitHub.Owner)
	assert.Equal(t, "widgets", cfg.Tracker.GitHub.Repo)
	assert.Equal(t, "ghp_example", cfg.Tracker.GitHub.Token.Value())
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"negative budget", "loop:\n  max_iterations: -1\n", "loop.max_iterations"},
		{"unknown backend", "progress:\n  backend: csv\n", "progress.backend"},
		{"unknown tracker", "tracker:\n  provider: jira\n", "tracker.provider"},
		{"github without repo", "tracker:\n  provider: github\n", "tracker.github.owner"},
		{"events without url", "events:\n  enabled: true\n", "events.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GITHUB_TOKEN", "")
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "loop: [unterminated"))
	require.Error(t, err)
}

func TestConfig_Section(t *testing.T) {
	path := writeConfig(t, "logging:\n  format: console\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	out := struct {
		Format string `koanf:"format"`
		Level  string `koanf:"level"`
	}{Level: "info"}
	require.NoError(t, cfg.Section("logging", &out))
	assert.Equal(t, "console", out.Format)
	assert.Equal(t, "info", out.Level)

	// Missing sections leave the target untouched.
	require.NoError(t, cfg.Section("telemetry", &out))
	assert.Equal(t, "console", out.Format)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "loop.max_iterations", envKey("RALPH_LOOP_MAX_ITERATIONS"))
	assert.Equal(t, "tracker.linear.team_id", envKey("RALPH_TRACKER_LINEAR_TEAM_ID"))
	assert.Equal(t, "tracker.provider", envKey("RALPH_TRACKER_PROVIDER"))
}

func TestSecret_Redacted(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
	assert.Equal(t, "hunter2", s.Value())
	assert.Equal(t, "", Secret("").String())
}

func TestSecret_Resolve(t *testing.T) {
	t.Setenv("RALPH_TEST_TOKEN", "from-env")
	file := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(file, []byte("from-file\n"), 0600))

	got, err := Secret("env:RALPH_TEST_TOKEN").Resolve()
	require.NoError(t, err)
	assert.Equal(t, "from-env", got.Value())

	got, err = Secret("file:" + file).Resolve()
	require.NoError(t, err)
	assert.Equal(t, "from-file", got.Value())

	got, err = Secret("literal").Resolve()
	require.NoError(t, err)
	assert.Equal(t, "literal", got.Value())
	assert.False(t, got.IsReference())

	_, err = Secret("env:RALPH_TEST_UNSET_TOKEN").Resolve()
	assert.ErrorContains(t, err, "RALPH_TEST_UNSET_TOKEN")

	_, err = Secret("file:" + filepath.Join(t.TempDir(), "missing")).Resolve()
	assert.Error(t, err)
}

func TestLoad_ResolvesActiveTrackerSecret(t *testing.T) {
	t.Setenv("RALPH_TEST_GH", "ghs_resolved")
	path := writeConfig(t, `
tracker:
  provider: github
  github:
    token: env:RALPH_TEST_GH
    owner: acme
    repo: widgets
  linear:
    api_key: env:RALPH_TEST_NOT_SET
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ghs_resolved", cfg.Tracker.GitHub.Token.Value())
	assert.True(t, cfg.Tracker.Linear.APIKey.IsReference(), "inactive provider is left unresolved")

	t.Setenv("RALPH_TEST_GH", "")
	_, err = Load(path)
	assert.ErrorContains(t, err, "tracker.github")
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalText(nil))
	assert.Zero(t, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
