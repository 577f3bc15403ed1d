package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/ralph/internal/agent"
	"github.com/fyrsmithlabs/ralph/internal/config"
	"github.com/fyrsmithlabs/ralph/internal/events"
	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/logging"
	"github.com/fyrsmithlabs/ralph/internal/progress"
	"github.com/fyrsmithlabs/ralph/internal/quality"
	"github.com/fyrsmithlabs/ralph/internal/telemetry"
	"github.com/fyrsmithlabs/ralph/internal/tracker"
	"github.com/fyrsmithlabs/ralph/internal/workspace"
)

// Options wires an Orchestrator. Invoker, Evaluator, Progress and
// LedgerPath are required; everything else has a default.
type Options struct {
	Dir        string
	LedgerPath string
	Profile    *quality.Profile
	Evaluator  quality.Evaluator
	Invoker    agent.Invoker
	Progress   progress.Log

	Tracker        tracker.Tracker
	TrackerTimeout time.Duration
	ImportStories  bool
	Events         events.Publisher
	Selector       Selector
	Telemetry      *telemetry.Telemetry
	Logger         *logging.Logger

	// Loop carries the budget, retry count, per-story attempt cap and the
	// prompt summary bounds.
	Loop         config.LoopConfig
	AgentTimeout time.Duration

	// ChangedFiles lists dirty workspace paths. Defaults to git status.
	ChangedFiles func(dir string) []string
}

// Orchestrator drives the story loop. At most one run is active at a time;
// every other method is safe to call concurrently with it.
type Orchestrator struct {
	dir        string
	ledgerPath string
	profile    *quality.Profile
	evaluator  quality.Evaluator
	invoker    agent.Invoker
	progress   progress.Log
	tracker    tracker.Tracker
	importing  bool
	events     events.Publisher
	selector   Selector
	loop       config.LoopConfig
	timeout    time.Duration
	changed    func(dir string) []string
	logger     *logging.Logger
	tracer     trace.Tracer
	metrics    *Metrics
	now        func() time.Time

	mu            sync.Mutex
	running       bool
	forceCancel   context.CancelFunc
	done          chan struct{}
	last          RunResult
	pendingResets []string
	onProgress    ProgressCallback

	// ledger is the committed backlog. While a run is active only the loop
	// goroutine touches it; otherwise it is guarded by mu.
	ledger *ledger.Ledger

	stopRequested atomic.Bool
	snap          atomic.Pointer[Snapshot]
}

// New validates opts and loads the ledger for the initial snapshot.
func New(opts Options) (*Orchestrator, error) {
	if opts.LedgerPath == "" {
		return nil, failure.New(failure.KindConfig, "orchestrator", "ledger path is required")
	}
	if opts.Invoker == nil || opts.Evaluator == nil || opts.Progress == nil {
		return nil, failure.New(failure.KindConfig, "orchestrator", "invoker, evaluator and progress log are required")
	}

	l, err := ledger.Load(opts.LedgerPath)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		dir:        opts.Dir,
		ledgerPath: opts.LedgerPath,
		profile:    opts.Profile,
		evaluator:  opts.Evaluator,
		invoker:    opts.Invoker,
		progress:   opts.Progress,
		importing:  opts.ImportStories,
		events:     opts.Events,
		selector:   opts.Selector,
		loop:       opts.Loop,
		timeout:    opts.AgentTimeout,
		changed:    opts.ChangedFiles,
		logger:     logger.Named("orchestrator"),
		tracer:     opts.Telemetry.Tracer(instrumentationName),
		metrics:    NewMetrics(opts.Telemetry.Meter(instrumentationName), logger.Underlying()),
		now:        time.Now,
		ledger:     l,
	}

	t := opts.Tracker
	if t == nil {
		t = tracker.Nop{}
	}
	if _, ok := t.(*tracker.Safe); !ok {
		t = tracker.NewSafe(t, opts.TrackerTimeout, logger.Underlying().Named("tracker"))
	}
	o.tracker = t

	if o.profile == nil {
		o.profile = &quality.Profile{Name: "empty"}
	}
	if o.events == nil {
		o.events = events.Nop{}
	}
	if o.selector == nil {
		o.selector = PrioritySelector{}
	}
	if o.changed == nil {
		o.changed = workspace.ChangedFiles
	}
	if o.timeout <= 0 {
		o.timeout = 30 * time.Minute
	}

	o.publish(Snapshot{State: StateIdle, Ledger: l, MaxIterations: o.loop.MaxIterations})
	return o, nil
}

// OnProgress registers a callback for committed snapshots.
func (o *Orchestrator) OnProgress(cb ProgressCallback) {
	o.mu.Lock()
	o.onProgress = cb
	o.mu.Unlock()
}

// Run executes a loop on the calling goroutine. maxIterations <= 0 uses the
// configured budget. The returned error is the RunResult's Err, set only
// when the run halted on an error.
func (o *Orchestrator) Run(ctx context.Context, maxIterations int) (RunResult, error) {
	runCtx, budget, err := o.begin(ctx, maxIterations)
	if err != nil {
		return RunResult{}, err
	}
	res := o.run(runCtx, budget)
	return res, res.Err
}

// Start launches a loop in the background and returns immediately. The
// loop's context is detached from ctx so it outlives the request that
// started it. While a loop runs, Start returns the current status and
// ErrAlreadyRunning.
func (o *Orchestrator) Start(ctx context.Context, maxIterations int) (Status, error) {
	runCtx, budget, err := o.begin(context.WithoutCancel(ctx), maxIterations)
	if err != nil {
		return o.Status(), err
	}
	go o.run(runCtx, budget)
	return o.Status(), nil
}

// Stop requests cancellation. Without force, the in-flight agent
// invocation finishes or times out first; with force it is killed. Either
// way the interrupted iteration leaves the ledger untouched.
func (o *Orchestrator) Stop(force bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return failure.New(failure.KindNotRunning, "stop", "no loop is running")
	}
	o.stopRequested.Store(true)
	if force && o.forceCancel != nil {
		o.forceCancel()
	}
	return nil
}

// Wait blocks until the active run finishes and returns its result. With
// no active run it returns the last result immediately.
func (o *Orchestrator) Wait(ctx context.Context) (RunResult, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return o.Last(), nil
	}
	select {
	case <-done:
		return o.Last(), nil
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}

// Last returns the result of the most recent finished run.
func (o *Orchestrator) Last() RunResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// Running reports whether a loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Snapshot returns the last committed snapshot without blocking the loop.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.snap.Load()
}

// Status returns the wire form of the last committed snapshot.
func (o *Orchestrator) Status() Status {
	return o.snap.Load().Status()
}

// Stories returns the committed stories in selection order.
func (o *Orchestrator) Stories(includePassed bool) []ledger.Story {
	l := o.snap.Load().Ledger
	if l == nil {
		return nil
	}
	all := l.Sorted()
	if includePassed {
		return all
	}
	out := all[:0]
	for _, s := range all {
		if !s.Passes {
			out = append(out, s)
		}
	}
	return out
}

// Ledger returns a copy of the committed ledger.
func (o *Orchestrator) Ledger() *ledger.Ledger {
	return o.snap.Load().Ledger.Clone()
}

// Progress returns outcomes with a sequence number above since.
func (o *Orchestrator) Progress(since int64) ([]progress.Outcome, error) {
	out, err := o.progress.Since(since)
	if err != nil {
		return nil, failure.Wrap(failure.KindIO, "progress", err)
	}
	return out, nil
}

// ResetStory clears the blocked marker of a story. While a loop runs the
// reset is queued and applied before the next selection; the returned
// story shows the state it will have.
func (o *Orchestrator) ResetStory(id string) (ledger.Story, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		preview := o.snap.Load().Ledger.Clone()
		if err := preview.Reset(id); err != nil {
			return ledger.Story{}, failure.Wrap(failure.KindInvalidArgument, "reset_story", err)
		}
		o.pendingResets = append(o.pendingResets, id)
		s, _ := preview.Find(id)
		return s, nil
	}

	// Idle: the file may have been edited since the last run.
	next, err := ledger.Load(o.ledgerPath)
	if err != nil {
		return ledger.Story{}, err
	}
	if err := next.Reset(id); err != nil {
		return ledger.Story{}, failure.Wrap(failure.KindInvalidArgument, "reset_story", err)
	}
	if err := ledger.Save(o.ledgerPath, next); err != nil {
		return ledger.Story{}, err
	}
	o.ledger = next
	o.publishIdle()
	s, _ := next.Find(id)
	return s, nil
}

// Reload re-reads the ledger file into the idle snapshot. It does nothing
// while a loop is running, since the loop owns the file then.
func (o *Orchestrator) Reload() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}
	l, err := ledger.Load(o.ledgerPath)
	if err != nil {
		return err
	}
	o.ledger = l
	o.publishIdle()
	return nil
}

// begin claims the single run slot.
func (o *Orchestrator) begin(ctx context.Context, maxIterations int) (context.Context, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil, 0, ErrAlreadyRunning
	}

	budget := maxIterations
	if budget <= 0 {
		budget = o.loop.MaxIterations
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.forceCancel = cancel
	o.done = make(chan struct{})
	o.stopRequested.Store(false)

	o.publishLocked(Snapshot{
		State:         StateIdle,
		Running:       true,
		MaxIterations: budget,
		Ledger:        o.ledger,
	})
	return runCtx, budget, nil
}

// finish releases the run slot.
func (o *Orchestrator) finish(res RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	if o.forceCancel != nil {
		o.forceCancel()
		o.forceCancel = nil
	}
	o.last = res

	var lastErr string
	if res.Err != nil {
		lastErr = res.Err.Error()
	}
	o.publishLocked(Snapshot{
		RunID:          res.RunID,
		State:          res.State,
		Iteration:      res.Iterations,
		MaxIterations:  o.snap.Load().MaxIterations,
		LastHaltReason: res.Reason,
		LastError:      lastErr,
		Ledger:         o.ledger,
	})
	close(o.done)
	o.done = nil
	o.pendingResets = nil
}

// takeResets drains queued resets.
func (o *Orchestrator) takeResets() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := o.pendingResets
	o.pendingResets = nil
	return ids
}

func (o *Orchestrator) publishIdle() {
	prev := o.snap.Load()
	o.publishLocked(Snapshot{
		RunID:          prev.RunID,
		State:          prev.State,
		Iteration:      prev.Iteration,
		MaxIterations:  prev.MaxIterations,
		LastHaltReason: prev.LastHaltReason,
		LastError:      prev.LastError,
		Ledger:         o.ledger,
	})
}

func (o *Orchestrator) publish(s Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.publishLocked(s)
}

func (o *Orchestrator) publishLocked(s Snapshot) {
	s.UpdatedAt = o.now()
	o.snap.Store(&s)
	if o.onProgress != nil {
		o.onProgress(s)
	}
}

func (o *Orchestrator) cancelRequested(ctx context.Context) bool {
	return o.stopRequested.Load() || ctx.Err() != nil
}
