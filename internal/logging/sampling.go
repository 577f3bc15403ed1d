package logging

import (
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// sampledCore rate-limits repeated entries below error level. A long run
// repeats the same gate and invocation messages every iteration; errors
// always reach the output.
type sampledCore struct {
	zapcore.Core
	sampled zapcore.Core
}

// newSampledCore wraps core with sampling and counts dropped entries in
// dropped. A disabled config returns core unchanged.
func newSampledCore(core zapcore.Core, cfg SamplingConfig, dropped *atomic.Int64) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	hook := zapcore.SamplerHook(func(_ zapcore.Entry, dec zapcore.SamplingDecision) {
		if dec&zapcore.LogDropped != 0 {
			dropped.Add(1)
		}
	})
	return &sampledCore{
		Core:    core,
		sampled: zapcore.NewSamplerWithOptions(core, cfg.Tick.Duration(), cfg.Initial, cfg.Thereafter, hook),
	}
}

func (c *sampledCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if e.Level >= zapcore.ErrorLevel {
		return c.Core.Check(e, ce)
	}
	return c.sampled.Check(e, ce)
}

func (c *sampledCore) With(fields []zapcore.Field) zapcore.Core {
	return &sampledCore{
		Core:    c.Core.With(fields),
		sampled: c.sampled.With(fields),
	}
}
