package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is the prefix of environment overrides.
	EnvPrefix = "RALPH_"

	// DefaultDir is the per-project config directory.
	DefaultDir = ".ralph"
)

// nestedSections lists sections whose env keys carry a second level,
// e.g. RALPH_TRACKER_GITHUB_OWNER -> tracker.github.owner.
var nestedSections = map[string][]string{
	"tracker": {"github", "linear"},
}

// DefaultPath returns the config path for a project directory.
func DefaultPath(dir string) string {
	return filepath.Join(dir, DefaultDir, "config.yaml")
}

// Load reads configuration from a YAML file, then overrides it with
// RALPH_* environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (RALPH_LOOP_MAX_ITERATIONS, RALPH_AGENT_TIMEOUT, ...)
//  2. YAML config file (<dir>/.ralph/config.yaml)
//  3. Hardcoded defaults
//
// A missing file is not an error. Tracker credentials also fall back to the
// conventional GITHUB_TOKEN, LINEAR_API_KEY and LINEAR_TEAM_ID variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Config{k: k}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Loop.unlimited = k.Exists("loop.max_iterations") && cfg.Loop.MaxIterations == 0

	applyDefaults(&cfg)
	applyEnvFallbacks(&cfg)
	if err := resolveTrackerSecrets(&cfg.Tracker); err != nil {
		return nil, fmt.Errorf("tracker.%s: %w", cfg.Tracker.Provider, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// envKey maps RALPH_SECTION_FIELD_NAME to section.field_name. The split
// happens on the first underscore only, except for sections listed in
// nestedSections which take one more level.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}

	section, field := parts[0], parts[1]
	for _, sub := range nestedSections[section] {
		if strings.HasPrefix(field, sub+"_") {
			return section + "." + sub + "." + strings.TrimPrefix(field, sub+"_")
		}
	}
	return section + "." + field
}

func applyEnvFallbacks(cfg *Config) {
	if !cfg.Tracker.GitHub.Token.IsSet() {
		cfg.Tracker.GitHub.Token = Secret(os.Getenv("GITHUB_TOKEN"))
	}
	if !cfg.Tracker.Linear.APIKey.IsSet() {
		cfg.Tracker.Linear.APIKey = Secret(os.Getenv("LINEAR_API_KEY"))
	}
	if cfg.Tracker.Linear.TeamID == "" {
		cfg.Tracker.Linear.TeamID = os.Getenv("LINEAR_TEAM_ID")
	}
}

// resolveTrackerSecrets resolves env: and file: references for the selected
// provider only; credentials of unused providers are left as written.
func resolveTrackerSecrets(t *TrackerConfig) error {
	var target *Secret
	switch t.Provider {
	case "github":
		target = &t.GitHub.Token
	case "linear":
		target = &t.Linear.APIKey
	default:
		return nil
	}
	resolved, err := target.Resolve()
	if err != nil {
		return err
	}
	*target = resolved
	return nil
}
