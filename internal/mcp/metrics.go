package mcp

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

const instrumentationName = "github.com/fyrsmithlabs/ralph/internal/mcp"

// Metrics records tool calls and the loop control actions they cause.
// Instruments that fail to register are left nil and skipped.
type Metrics struct {
	calls    metric.Int64Counter
	latency  metric.Float64Histogram
	failures metric.Int64Counter
	inflight metric.Int64UpDownCounter
	controls metric.Int64Counter
}

// NewMetrics creates tool metrics on meter.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &Metrics{}
	var err error

	m.calls, err = meter.Int64Counter("ralph.mcp.tool.calls_total",
		metric.WithDescription("Control server tool calls"),
		metric.WithUnit("{call}"))
	warn("calls_total", err)

	// Status polling is fast; start and stop may wait on the loop lock.
	m.latency, err = meter.Float64Histogram("ralph.mcp.tool.duration_seconds",
		metric.WithDescription("Tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5))
	warn("duration_seconds", err)

	m.failures, err = meter.Int64Counter("ralph.mcp.tool.failures_total",
		metric.WithDescription("Tool calls that returned an error result, by failure kind"),
		metric.WithUnit("{call}"))
	warn("failures_total", err)

	m.inflight, err = meter.Int64UpDownCounter("ralph.mcp.tool.inflight",
		metric.WithDescription("Tool calls currently being handled"),
		metric.WithUnit("{call}"))
	warn("inflight", err)

	m.controls, err = meter.Int64Counter("ralph.mcp.loop.controls_total",
		metric.WithDescription("Loop control requests, by action and whether they changed loop state"),
		metric.WithUnit("{request}"))
	warn("controls_total", err)

	return m
}

// Begin marks a tool call in flight. The returned func ends it and records
// the outcome; err is the handler error, if any.
func (m *Metrics) Begin(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.inflight != nil {
		m.inflight.Add(ctx, 1, attrs)
	}
	return func(err error) {
		if m.inflight != nil {
			m.inflight.Add(ctx, -1, attrs)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, attrs)
		}
		if m.latency != nil {
			m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("kind", string(failure.KindOf(err))),
			))
		}
	}
}

// RecordControl counts a start, stop or reset request. applied is false when
// the request left the loop as it was, such as start on a running loop.
func (m *Metrics) RecordControl(ctx context.Context, action string, applied bool) {
	if m.controls == nil {
		return
	}
	m.controls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("applied", applied),
	))
}
