// Package tracker mirrors ledger progress into an external project tracker.
//
// Trackers are strictly best-effort: the loop never fails because a tracker
// call failed. Wrap providers with Safe at the boundary so every error comes
// back as a failure.KindIntegration error and panics are contained.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/config"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
)

// Tracker is implemented by each provider.
type Tracker interface {
	Name() string
	// FetchStories returns the stories the tracker holds for this project.
	FetchStories(ctx context.Context) ([]ledger.Story, error)
	// UpdateStoryStatus reports a story transition.
	UpdateStoryStatus(ctx context.Context, update StatusUpdate) error
	// CreateIssue opens a new item, typically for a blocked story.
	CreateIssue(ctx context.Context, req IssueRequest) (IssueRef, error)
}

// StoryStatus is what happened to a story.
type StoryStatus string

const (
	StatusInProgress StoryStatus = "in_progress"
	StatusPassed     StoryStatus = "passed"
	StatusBlocked    StoryStatus = "blocked"
)

// StatusUpdate reports one story transition.
type StatusUpdate struct {
	StoryID     string
	ExternalRef string
	Status      StoryStatus
	Iteration   int
	Summary     string
}

// IssueRequest describes an item to open.
type IssueRequest struct {
	StoryID string
	Title   string
	Body    string
	Labels  []string
}

// IssueRef points at a created item.
type IssueRef struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// Options are passed to provider factories.
type Options struct {
	Config config.TrackerConfig
	// Dir is the workspace, used to infer repository coordinates.
	Dir    string
	Logger *zap.Logger
}

// Factory builds a provider.
type Factory func(opts Options) (Tracker, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register(ProviderNone, func(Options) (Tracker, error) { return Nop{}, nil })
	r.Register(ProviderGitHub, NewGitHub)
	r.Register(ProviderLinear, NewLinear)
	return r
}

// Provider names.
const (
	ProviderNone   = "none"
	ProviderGitHub = "github"
	ProviderLinear = "linear"
)

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names lists registered providers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build constructs the provider named in opts.Config.Provider. An empty
// provider selects none.
func (r *Registry) Build(opts Options) (Tracker, error) {
	name := opts.Config.Provider
	if name == "" {
		name = ProviderNone
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &Error{Kind: ErrConfig, Provider: name, Message: fmt.Sprintf("unknown provider (have %v)", r.Names())}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return f(opts)
}

// Nop accepts every call and does nothing.
type Nop struct{}

func (Nop) Name() string { return ProviderNone }
func (Nop) FetchStories(context.Context) ([]ledger.Story, error) { return nil, nil }
func (Nop) UpdateStoryStatus(context.Context, StatusUpdate) error { return nil }
func (Nop) CreateIssue(context.Context, IssueRequest) (IssueRef, error) { return IssueRef{}, nil }

var _ Tracker = Nop{}
