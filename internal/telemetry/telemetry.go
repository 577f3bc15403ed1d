package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// signal is one started provider, identified by what it exports.
type signal struct {
	name     string
	flush    func(context.Context) error
	shutdown func(context.Context) error
}

// Telemetry owns the tracer and meter providers of a ralph process.
//
// A provider that fails to start is recorded as a degraded reason and its
// signal falls back to the global no-op provider; the loop keeps running.
type Telemetry struct {
	config *Config

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	logProvider    log.LoggerProvider

	mu      sync.Mutex
	signals []signal
	reasons []string
	closed  bool
}

// New validates cfg and starts the enabled providers. A disabled config
// yields an instance that hands out no-op tracers and meters.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	if tp, err := newTracerProvider(ctx, cfg, res, o); err != nil {
		t.setDegraded("traces: %v", err)
	} else {
		t.tracerProvider = tp
		t.signals = append(t.signals, signal{"traces", tp.ForceFlush, tp.Shutdown})
		otel.SetTracerProvider(tp)
	}

	// A nil provider means metrics are switched off in config.
	if mp, err := newMeterProvider(ctx, cfg, res, o); err != nil {
		t.setDegraded("metrics: %v", err)
	} else if mp != nil {
		t.meterProvider = mp
		t.signals = append(t.signals, signal{"metrics", mp.ForceFlush, mp.Shutdown})
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider returns the provider for the zap OTEL bridge, or nil.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil {
		return nil
	}
	return t.logProvider
}

// SetLoggerProvider sets the provider for the zap OTEL bridge.
func (t *Telemetry) SetLoggerProvider(lp log.LoggerProvider) {
	if t != nil {
		t.logProvider = lp
	}
}

// Shutdown flushes and stops every started signal. Without a ctx deadline
// the configured shutdown timeout applies. It is safe to call twice.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	signals := t.signals
	t.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}
	return each(ctx, signals, "shutdown", func(s signal) func(context.Context) error { return s.shutdown })
}

// ForceFlush exports everything pending.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	signals := t.signals
	t.mu.Unlock()
	return each(ctx, signals, "flush", func(s signal) func(context.Context) error { return s.flush })
}

func each(ctx context.Context, signals []signal, op string, fn func(signal) func(context.Context) error) error {
	var errs []error
	for _, s := range signals {
		if err := fn(s)(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", s.name, op, err))
		}
	}
	return errors.Join(errs...)
}

// HealthStatus reports provider health. It is served on the status
// endpoint's /health route.
type HealthStatus struct {
	Healthy  bool     `json:"healthy"`
	Degraded bool     `json:"degraded"`
	Signals  []string `json:"signals,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`
}

// Health returns the current telemetry health.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Degraded: true}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	h := HealthStatus{
		Healthy:  !t.closed,
		Degraded: len(t.reasons) > 0,
		Reasons:  append([]string(nil), t.reasons...),
	}
	for _, s := range t.signals {
		h.Signals = append(h.Signals, s.name)
	}
	if len(h.Reasons) == 0 {
		h.Reasons = nil
	}
	return h
}

// IsEnabled reports whether telemetry is enabled and not shut down.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config.Enabled && !t.closed
}

func (t *Telemetry) setDegraded(format string, args ...interface{}) {
	t.mu.Lock()
	t.reasons = append(t.reasons, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}
