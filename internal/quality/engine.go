// Package quality runs verification gates against a workspace and folds
// their results into a verdict.
package quality

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	rexec "github.com/fyrsmithlabs/ralph/internal/exec"
	"github.com/fyrsmithlabs/ralph/internal/failure"
)

// Evaluator is the contract the orchestrator depends on.
type Evaluator interface {
	Evaluate(ctx context.Context, profile *Profile, workspace string) (Verdict, error)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Parallelism bounds concurrent gates. Zero runs every gate at once.
	Parallelism int
	Runner      rexec.CommandRunner
	Logger      *zap.Logger
}

// Engine evaluates quality profiles.
type Engine struct {
	runner      rexec.CommandRunner
	parallelism int
	logger      *zap.Logger
}

// NewEngine creates an engine. A nil runner uses the real os/exec runner.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		runner:      cfg.Runner,
		parallelism: cfg.Parallelism,
		logger:      cfg.Logger,
	}
	if e.runner == nil {
		e.runner = rexec.NewRealRunner()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Evaluate runs every gate in the profile concurrently and aggregates the
// results under the profile's policy.
//
// All gates always run; one gate failing or erroring never cancels the
// others. Results keep profile order. The returned error is non-nil only
// when ctx is cancelled, in which case the verdict must be discarded.
func (e *Engine) Evaluate(ctx context.Context, profile *Profile, workspace string) (Verdict, error) {
	if profile == nil {
		return Verdict{}, failure.New(failure.KindConfig, "quality", "profile is required")
	}
	profile = profile.withDefaults()
	if err := profile.Validate(); err != nil {
		return Verdict{}, failure.Wrap(failure.KindConfig, "quality", err)
	}

	start := time.Now()
	results := make([]GateResult, len(profile.Gates))

	// Plain Group, not WithContext: a gate outcome is data, never a reason to
	// cancel its siblings.
	var g errgroup.Group
	if e.parallelism > 0 {
		g.SetLimit(e.parallelism)
	}
	for i, def := range profile.Gates {
		g.Go(func() error {
			results[i] = runGate(ctx, e.runner, def, workspace)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Verdict{}, failure.Wrap(failure.KindCancelled, "quality", err)
	}

	verdict := Aggregate(profile, results)
	e.logger.Debug("quality profile evaluated",
		zap.String("profile", profile.Name),
		zap.Bool("passed", verdict.Passed),
		zap.Float64("score", verdict.Score),
		zap.String("summary", verdict.Summary),
		zap.Duration("duration", time.Since(start)),
	)
	return verdict, nil
}

// Aggregate folds gate results into a verdict under the profile's policy.
// Results are matched to gate definitions by name; a result with no
// definition weighs 1. An empty result set passes.
func Aggregate(profile *Profile, results []GateResult) Verdict {
	weights := make(map[string]float64, len(profile.Gates))
	for _, g := range profile.Gates {
		weights[g.Name] = g.Weight
	}

	var total, passing float64
	allPassed := true
	for _, r := range results {
		w, ok := weights[r.Name]
		if !ok {
			w = 1
		}
		total += w
		if r.Passed() {
			passing += w
		} else {
			allPassed = false
		}
	}

	score := 1.0
	if total > 0 {
		score = passing / total
	}

	v := Verdict{
		Policy:  profile.Policy,
		Score:   score,
		Results: results,
		Summary: Summary(results),
	}
	switch profile.Policy {
	case PolicyWeightedThreshold:
		v.Passed = score >= profile.Threshold
	default:
		v.Passed = allPassed
	}
	return v
}

// Summary renders "All N gates passed" or "P/T gates passed. Failed: a, b".
func Summary(results []GateResult) string {
	var failed []string
	for _, r := range results {
		if !r.Passed() {
			name := r.Name
			if r.Status == StatusError {
				name += " (error)"
			}
			failed = append(failed, name)
		}
	}
	total := len(results)
	if len(failed) == 0 {
		return fmt.Sprintf("All %d gates passed", total)
	}
	return fmt.Sprintf("%d/%d gates passed. Failed: %s", total-len(failed), total, strings.Join(failed, ", "))
}
