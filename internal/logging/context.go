package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type storyCtxKey struct{}
type loggerCtxKey struct{}

type storyScope struct {
	id        string
	iteration int
}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if s, ok := ctx.Value(storyCtxKey{}).(storyScope); ok {
		fields = append(fields,
			zap.String("story.id", s.id),
			zap.Int("iteration", s.iteration),
		)
	}
	return fields
}

// WithRunID tags ctx with the loop run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the run id, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runCtxKey{}).(string)
	return id
}

// WithStory tags ctx with the story under work and the iteration number.
func WithStory(ctx context.Context, storyID string, iteration int) context.Context {
	return context.WithValue(ctx, storyCtxKey{}, storyScope{id: storyID, iteration: iteration})
}

// StoryFromContext returns the story id and iteration, if set.
func StoryFromContext(ctx context.Context) (string, int, bool) {
	s, ok := ctx.Value(storyCtxKey{}).(storyScope)
	return s.id, s.iteration, ok
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
