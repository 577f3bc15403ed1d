package logging

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newCore tees the configured outputs and applies sampling.
func newCore(cfg *Config, otelProvider log.LoggerProvider, o options, dropped *atomic.Int64) (zapcore.Core, error) {
	writer := o.writer
	cores := make([]zapcore.Core, 0, 3)
	level := cfg.level()

	addStream := func(w io.Writer) error {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction, o.scrub)
		if err != nil {
			return fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(w), level))
		return nil
	}

	switch {
	case writer != nil && (cfg.Output.Stdout || cfg.Output.Stderr):
		if err := addStream(writer); err != nil {
			return nil, err
		}
	default:
		if cfg.Output.Stdout {
			if err := addStream(os.Stdout); err != nil {
				return nil, err
			}
		}
		if cfg.Output.Stderr {
			if err := addStream(os.Stderr); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore("github.com/fyrsmithlabs/ralph",
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}
	return newSampledCore(core, cfg.Sampling, dropped), nil
}
