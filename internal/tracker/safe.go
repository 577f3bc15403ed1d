package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
)

const defaultCallTimeout = 30 * time.Second

// Safe bounds every call with a timeout, recovers panics and converts all
// errors to failure.KindIntegration.
type Safe struct {
	inner   Tracker
	timeout time.Duration
	logger  *zap.Logger
}

var _ Tracker = (*Safe)(nil)

// NewSafe wraps t. A non-positive timeout uses 30s.
func NewSafe(t Tracker, timeout time.Duration, logger *zap.Logger) *Safe {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Safe{inner: t, timeout: timeout, logger: logger}
}

func (s *Safe) Name() string { return s.inner.Name() }

func (s *Safe) FetchStories(ctx context.Context) (stories []ledger.Story, err error) {
	err = s.call(ctx, "fetch_stories", func(ctx context.Context) error {
		var e error
		stories, e = s.inner.FetchStories(ctx)
		return e
	})
	return stories, err
}

func (s *Safe) UpdateStoryStatus(ctx context.Context, update StatusUpdate) error {
	return s.call(ctx, "update_story_status", func(ctx context.Context) error {
		return s.inner.UpdateStoryStatus(ctx, update)
	})
}

func (s *Safe) CreateIssue(ctx context.Context, req IssueRequest) (ref IssueRef, err error) {
	err = s.call(ctx, "create_issue", func(ctx context.Context) error {
		var e error
		ref, e = s.inner.CreateIssue(ctx, req)
		return e
	})
	return ref, err
}

func (s *Safe) call(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tracker panic recovered",
				zap.String("provider", s.inner.Name()),
				zap.String("op", op),
				zap.Any("panic", r),
			)
			err = failure.New(failure.KindIntegration, "tracker."+op, fmt.Sprintf("%s panicked: %v", s.inner.Name(), r))
		}
	}()

	if err := fn(ctx); err != nil {
		return failure.Wrap(failure.KindIntegration, "tracker."+op, err)
	}
	return nil
}
