package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/progress"
)

const instrumentationName = "github.com/fyrsmithlabs/ralph/internal/orchestrator"

// Metrics holds loop instruments.
type Metrics struct {
	iterations metric.Int64Counter
	duration   metric.Float64Histogram
	passed     metric.Int64Counter
	blocked    metric.Int64Counter
	runs       metric.Int64Counter
}

// NewMetrics creates the loop instruments on meter. Instruments that fail
// to register are left nil and skipped.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	m := &Metrics{}
	var err error

	m.iterations, err = meter.Int64Counter(
		"ralph.loop.iterations_total",
		metric.WithDescription("Agent attempts by verdict"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		logger.Warn("failed to create iterations counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"ralph.loop.iteration.duration_seconds",
		metric.WithDescription("Wall time of one iteration, agent plus gates"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.passed, err = meter.Int64Counter(
		"ralph.loop.stories.passed_total",
		metric.WithDescription("Stories that passed their quality gates"),
		metric.WithUnit("{story}"),
	)
	if err != nil {
		logger.Warn("failed to create passed counter", zap.Error(err))
	}

	m.blocked, err = meter.Int64Counter(
		"ralph.loop.stories.blocked_total",
		metric.WithDescription("Stories marked blocked"),
		metric.WithUnit("{story}"),
	)
	if err != nil {
		logger.Warn("failed to create blocked counter", zap.Error(err))
	}

	m.runs, err = meter.Int64Counter(
		"ralph.loop.runs_total",
		metric.WithDescription("Finished runs by halt reason"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create runs counter", zap.Error(err))
	}

	return m
}

func (m *Metrics) recordIteration(ctx context.Context, verdict progress.Verdict, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("verdict", string(verdict)))
	if m.iterations != nil {
		m.iterations.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
}

func (m *Metrics) recordPassed(ctx context.Context) {
	if m.passed != nil {
		m.passed.Add(ctx, 1)
	}
}

func (m *Metrics) recordBlocked(ctx context.Context, cause string) {
	if m.blocked != nil {
		m.blocked.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
	}
}

func (m *Metrics) recordRun(ctx context.Context, reason HaltReason) {
	if m.runs != nil {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	}
}
