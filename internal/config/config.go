// Package config provides configuration loading for ralph.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"
)

// Config holds the loop, agent, and integration settings.
//
// Logging and telemetry settings are decoded by their own packages via
// Section so those packages keep their defaults next to their code.
type Config struct {
	Loop     LoopConfig     `koanf:"loop"`
	Agent    AgentConfig    `koanf:"agent"`
	Quality  QualityConfig  `koanf:"quality"`
	Progress ProgressConfig `koanf:"progress"`
	Tracker  TrackerConfig  `koanf:"tracker"`
	Events   EventsConfig   `koanf:"events"`
	HTTP     HTTPConfig     `koanf:"http"`

	k *koanf.Koanf
}

// LoopConfig controls the iteration loop.
type LoopConfig struct {
	// MaxIterations is the default budget. Zero means unlimited.
	MaxIterations int `koanf:"max_iterations"`
	// Retries is the number of immediate re-invocations after an agent failure.
	Retries int `koanf:"retries"`
	// MaxAttemptsPerStory blocks a story after this many gate-failing
	// attempts within one run. Zero means unlimited.
	MaxAttemptsPerStory    int    `koanf:"max_attempts_per_story"`
	ProgressSummaryEntries int    `koanf:"progress_summary_entries"`
	ProgressSummaryBytes   int    `koanf:"progress_summary_bytes"`
	LedgerFile             string `koanf:"ledger_file"`

	// unlimited records an explicit max_iterations: 0 in the source config.
	unlimited bool
}

// Unlimited reports whether the budget was explicitly disabled.
func (l LoopConfig) Unlimited() bool {
	return l.unlimited
}

// AgentConfig describes the external coding agent.
type AgentConfig struct {
	Command     string            `koanf:"command"`
	Args        []string          `koanf:"args"`
	Timeout     Duration          `koanf:"timeout"`
	OutputLimit int               `koanf:"output_limit"`
	Env         map[string]string `koanf:"env"`
}

// QualityConfig selects the quality profile.
type QualityConfig struct {
	// Profile is a built-in preset name or a path to a TOML profile.
	Profile     string `koanf:"profile"`
	Parallelism int    `koanf:"parallelism"`
}

// ProgressConfig selects the progress log backend.
type ProgressConfig struct {
	Backend string `koanf:"backend"` // jsonl or sqlite
	Path    string `koanf:"path"`
}

// TrackerConfig configures the optional project tracker.
type TrackerConfig struct {
	Provider string       `koanf:"provider"` // none, github, linear
	Import   bool         `koanf:"import"`
	Timeout  Duration     `koanf:"timeout"`
	GitHub   GitHubConfig `koanf:"github"`
	Linear   LinearConfig `koanf:"linear"`
}

// GitHubConfig configures the GitHub issues provider.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	Label string `koanf:"label"`
}

// LinearConfig configures the Linear provider.
type LinearConfig struct {
	APIKey      Secret  `koanf:"api_key"`
	TeamID      string  `koanf:"team_id"`
	DoneStateID string  `koanf:"done_state_id"`
	Endpoint    string  `koanf:"endpoint"`
	RateLimit   float64 `koanf:"rate_limit"` // requests per second
}

// EventsConfig configures loop event publishing to NATS.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// HTTPConfig configures the read-only status server.
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{k: koanf.New(".")}
	applyDefaults(cfg)
	return cfg
}

// Section decodes the config subtree at path into out. Values already in
// out are kept when the subtree does not set them.
func (c *Config) Section(path string, out interface{}) error {
	if c.k == nil || !c.k.Exists(path) {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s config: %w", path, err)
	}
	return nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Loop.MaxIterations < 0 {
		return fmt.Errorf("loop.max_iterations must be >= 0, got %d", c.Loop.MaxIterations)
	}
	if c.Loop.Retries < 0 {
		return fmt.Errorf("loop.retries must be >= 0, got %d", c.Loop.Retries)
	}
	if c.Loop.MaxAttemptsPerStory < 0 {
		return fmt.Errorf("loop.max_attempts_per_story must be >= 0, got %d", c.Loop.MaxAttemptsPerStory)
	}
	if c.Agent.Timeout.Duration() <= 0 {
		return fmt.Errorf("agent.timeout must be positive")
	}
	if c.Agent.OutputLimit <= 0 {
		return fmt.Errorf("agent.output_limit must be positive")
	}

	switch c.Progress.Backend {
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("progress.backend must be 'jsonl' or 'sqlite', got %q", c.Progress.Backend)
	}

	switch c.Tracker.Provider {
	case "none":
	case "github":
		if c.Tracker.GitHub.Owner == "" || c.Tracker.GitHub.Repo == "" {
			return fmt.Errorf("tracker.github.owner and tracker.github.repo are required")
		}
		if !c.Tracker.GitHub.Token.IsSet() {
			return fmt.Errorf("tracker.github.token is required (or set GITHUB_TOKEN)")
		}
	case "linear":
		if !c.Tracker.Linear.APIKey.IsSet() {
			return fmt.Errorf("tracker.linear.api_key is required (or set LINEAR_API_KEY)")
		}
		if c.Tracker.Linear.TeamID == "" {
			return fmt.Errorf("tracker.linear.team_id is required (or set LINEAR_TEAM_ID)")
		}
	default:
		return fmt.Errorf("tracker.provider must be one of none, github, linear; got %q", c.Tracker.Provider)
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events.url is required when events are enabled")
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Loop defaults
	if cfg.Loop.MaxIterations == 0 && !cfg.Loop.unlimited {
		cfg.Loop.MaxIterations = 10
	}
	if cfg.Loop.MaxAttemptsPerStory == 0 && (cfg.k == nil || !cfg.k.Exists("loop.max_attempts_per_story")) {
		cfg.Loop.MaxAttemptsPerStory = 10
	}
	if cfg.Loop.ProgressSummaryEntries == 0 {
		cfg.Loop.ProgressSummaryEntries = 5
	}
	if cfg.Loop.ProgressSummaryBytes == 0 {
		cfg.Loop.ProgressSummaryBytes = 4096
	}
	if cfg.Loop.LedgerFile == "" {
		cfg.Loop.LedgerFile = "prd.json"
	}

	// Agent defaults
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = Duration(30 * time.Minute)
	}
	if cfg.Agent.OutputLimit == 0 {
		cfg.Agent.OutputLimit = 64 * 1024
	}

	if cfg.Quality.Profile == "" {
		cfg.Quality.Profile = "standard"
	}

	if cfg.Progress.Backend == "" {
		cfg.Progress.Backend = "jsonl"
	}
	if cfg.Progress.Path == "" {
		if cfg.Progress.Backend == "sqlite" {
			cfg.Progress.Path = "progress.db"
		} else {
			cfg.Progress.Path = "progress.jsonl"
		}
	}

	// Tracker defaults
	if cfg.Tracker.Provider == "" {
		cfg.Tracker.Provider = "none"
	}
	if cfg.Tracker.Timeout == 0 {
		cfg.Tracker.Timeout = Duration(30 * time.Second)
	}
	if cfg.Tracker.GitHub.Label == "" {
		cfg.Tracker.GitHub.Label = "ralph"
	}
	if cfg.Tracker.Linear.Endpoint == "" {
		cfg.Tracker.Linear.Endpoint = "https://api.linear.app/graphql"
	}
	if cfg.Tracker.Linear.RateLimit == 0 {
		cfg.Tracker.Linear.RateLimit = 1
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "ralph"
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "127.0.0.1"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9191
	}
}
