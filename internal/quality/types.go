package quality

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/ralph/internal/config"
)

// Policy aggregates per-gate results into a verdict.
type Policy string

const (
	// PolicyAllMustPass fails if any gate fails or errors.
	PolicyAllMustPass Policy = "all-must-pass"
	// PolicyWeightedThreshold passes when the weight of passing gates divided
	// by the total weight reaches the profile threshold.
	PolicyWeightedThreshold Policy = "weighted-threshold"
)

// Criterion decides whether a gate command's outcome is a pass.
type Criterion string

const (
	CriterionExitZero    Criterion = "exit-zero"
	CriterionEmptyOutput Criterion = "empty-output"
	CriterionCoverage    Criterion = "coverage"
)

// Status is the tagged outcome of one gate.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	// StatusError means the gate could not run at all: missing tool,
	// timeout, or output that could not be interpreted.
	StatusError Status = "error"
)

const (
	defaultGateTimeout = 10 * time.Minute
	diagnosticLimit    = 4096
)

// GateDefinition is one configured verification check.
type GateDefinition struct {
	Name        string            `toml:"name" json:"name"`
	Command     string            `toml:"command" json:"command"`
	Args        []string          `toml:"args,omitempty" json:"args,omitempty"`
	Criterion   Criterion         `toml:"criterion" json:"criterion"`
	MinCoverage float64           `toml:"min_coverage,omitempty" json:"minCoverage,omitempty"`
	Weight      float64           `toml:"weight" json:"weight"`
	Timeout     config.Duration   `toml:"timeout" json:"timeout"`
	Env         map[string]string `toml:"env,omitempty" json:"env,omitempty"`
}

// Profile is a named set of gates plus an aggregation policy.
type Profile struct {
	Name        string           `toml:"name" json:"name"`
	Description string           `toml:"description,omitempty" json:"description,omitempty"`
	Policy      Policy           `toml:"policy" json:"policy"`
	Threshold   float64          `toml:"threshold,omitempty" json:"threshold,omitempty"`
	Gates       []GateDefinition `toml:"gate" json:"gates"`
}

// GateResult is the outcome of running one gate.
type GateResult struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Score      *float64      `json:"score,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Duration   time.Duration `json:"durationNs"`
}

// Passed reports whether the gate passed.
func (r GateResult) Passed() bool {
	return r.Status == StatusPass
}

// Verdict is the aggregate outcome of a profile evaluation.
type Verdict struct {
	Passed  bool         `json:"passed"`
	Policy  Policy       `json:"policy"`
	Score   float64      `json:"score"`
	Results []GateResult `json:"results"`
	Summary string       `json:"summary"`
}

// Failed returns the results that did not pass.
func (v Verdict) Failed() []GateResult {
	var out []GateResult
	for _, r := range v.Results {
		if !r.Passed() {
			out = append(out, r)
		}
	}
	return out
}

// withDefaults returns a copy with defaults applied.
func (p *Profile) withDefaults() *Profile {
	c := *p
	c.Gates = append([]GateDefinition(nil), p.Gates...)
	c.applyDefaults()
	return &c
}

// applyDefaults fills zero-valued fields in place.
func (p *Profile) applyDefaults() {
	if p.Policy == "" {
		p.Policy = PolicyAllMustPass
	}
	for i := range p.Gates {
		g := &p.Gates[i]
		if g.Criterion == "" {
			g.Criterion = CriterionExitZero
		}
		if g.Weight == 0 {
			g.Weight = 1
		}
		if g.Timeout == 0 {
			g.Timeout = config.Duration(defaultGateTimeout)
		}
	}
}

// Validate checks the profile for errors.
func (p *Profile) Validate() error {
	switch p.Policy {
	case PolicyAllMustPass:
	case PolicyWeightedThreshold:
		if p.Threshold <= 0 || p.Threshold > 1 {
			return fmt.Errorf("profile %q: threshold must be in (0, 1], got %v", p.Name, p.Threshold)
		}
	default:
		return fmt.Errorf("profile %q: unknown policy %q", p.Name, p.Policy)
	}

	seen := make(map[string]bool, len(p.Gates))
	for i, g := range p.Gates {
		if g.Name == "" {
			return fmt.Errorf("profile %q: gate %d has no name", p.Name, i)
		}
		if seen[g.Name] {
			return fmt.Errorf("profile %q: duplicate gate %q", p.Name, g.Name)
		}
		seen[g.Name] = true
		if g.Command == "" {
			return fmt.Errorf("profile %q: gate %q has no command", p.Name, g.Name)
		}
		if g.Weight < 0 {
			return fmt.Errorf("profile %q: gate %q weight must be >= 0", p.Name, g.Name)
		}
		switch g.Criterion {
		case CriterionExitZero, CriterionEmptyOutput:
		case CriterionCoverage:
			if g.MinCoverage < 0 || g.MinCoverage > 100 {
				return fmt.Errorf("profile %q: gate %q min_coverage must be in [0, 100]", p.Name, g.Name)
			}
		default:
			return fmt.Errorf("profile %q: gate %q has unknown criterion %q", p.Name, g.Name, g.Criterion)
		}
	}
	return nil
}
