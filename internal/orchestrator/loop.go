package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/agent"
	"github.com/fyrsmithlabs/ralph/internal/events"
	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/logging"
	"github.com/fyrsmithlabs/ralph/internal/progress"
	"github.com/fyrsmithlabs/ralph/internal/quality"
	"github.com/fyrsmithlabs/ralph/internal/tracker"
	"github.com/fyrsmithlabs/ralph/internal/workspace"
)

// runState is loop-goroutine-local bookkeeping for one run.
type runState struct {
	id         string
	budget     int
	iterations int
	state      State
	current    string

	// per story, within this run
	gateFailures map[string]int
	diagnostics  map[string]string
	announced    map[string]bool
}

func (r *runState) exhausted() bool {
	return r.budget > 0 && r.iterations >= r.budget
}

// errInterrupted marks an iteration discarded by a stop request.
var errInterrupted = failure.New(failure.KindCancelled, "loop", "stop requested")

func (o *Orchestrator) run(ctx context.Context, budget int) (res RunResult) {
	r := &runState{
		id:           uuid.NewString(),
		budget:       budget,
		state:        StateIdle,
		gateFailures: make(map[string]int),
		diagnostics:  make(map[string]string),
		announced:    make(map[string]bool),
	}
	started := o.now()

	ctx = logging.WithRunID(ctx, r.id)
	ctx, span := o.tracer.Start(ctx, "ralph.run", trace.WithAttributes(
		attribute.String("ralph.run_id", r.id),
		attribute.Int("ralph.budget", budget),
	))

	defer func() {
		res.Duration = o.now().Sub(started)
		span.SetAttributes(
			attribute.String("ralph.halt_reason", string(res.Reason)),
			attribute.Int("ralph.iterations", res.Iterations),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
		o.metrics.recordRun(context.WithoutCancel(ctx), res.Reason)
		o.finish(res)
	}()

	if err := o.prepare(ctx, r); err != nil {
		return o.halt(ctx, r, ReasonError, err)
	}

	counts := o.ledger.Counts()
	o.logger.Info(ctx, "loop started",
		zap.Int("budget", budget),
		zap.Int("stories", counts.Total),
		zap.Int("passed", counts.Passed),
		zap.Int("blocked", counts.Blocked),
	)
	o.emit(ctx, r, events.Event{Type: events.RunStarted, Data: map[string]interface{}{
		"budget":    budget,
		"remaining": o.ledger.Remaining(),
	}})

	for {
		if o.cancelRequested(ctx) {
			return o.halt(ctx, r, ReasonCancelled, nil)
		}
		if err := o.applyResets(ctx, r); err != nil {
			return o.halt(ctx, r, ReasonError, err)
		}

		r.current = ""
		o.setState(ctx, r, StateSelecting)

		if o.ledger.Remaining() == 0 {
			return o.halt(ctx, r, ReasonCompleted, nil)
		}
		if r.exhausted() {
			return o.halt(ctx, r, ReasonBudget, nil)
		}
		story, ok := o.selector.Select(o.ledger)
		if !ok {
			return o.halt(ctx, r, ReasonBlocked, nil)
		}

		if err := o.work(ctx, r, story); err != nil {
			if failure.IsKind(err, failure.KindCancelled) {
				return o.halt(ctx, r, ReasonCancelled, nil)
			}
			return o.halt(ctx, r, ReasonError, err)
		}
	}
}

// prepare loads the ledger from disk and merges tracker stories into it.
func (o *Orchestrator) prepare(ctx context.Context, r *runState) error {
	l, err := ledger.Load(o.ledgerPath)
	if err != nil {
		return err
	}
	o.ledger = l
	o.publishRun(r)

	if !o.importing {
		return nil
	}
	stories, err := o.tracker.FetchStories(ctx)
	if err != nil {
		o.logger.Warn(ctx, "story import failed",
			zap.String("tracker", o.tracker.Name()),
			zap.Error(err),
		)
		return nil
	}
	next := l.Clone()
	added := next.Merge(stories)
	if added == 0 {
		return nil
	}
	if err := ledger.Save(o.ledgerPath, next); err != nil {
		return err
	}
	o.ledger = next
	o.publishRun(r)
	o.logger.Info(ctx, "imported stories",
		zap.String("tracker", o.tracker.Name()),
		zap.Int("fetched", len(stories)),
		zap.Int("added", added),
	)
	return nil
}

// applyResets commits resets queued by ResetStory since the last selection.
func (o *Orchestrator) applyResets(ctx context.Context, r *runState) error {
	ids := o.takeResets()
	if len(ids) == 0 {
		return nil
	}
	next := o.ledger.Clone()
	for _, id := range ids {
		if err := next.Reset(id); err != nil {
			o.logger.Warn(ctx, "queued reset skipped", zap.String("story_id", id), zap.Error(err))
			continue
		}
		delete(r.gateFailures, id)
		delete(r.diagnostics, id)
		o.logger.Info(ctx, "story reset", zap.String("story_id", id))
	}
	if err := ledger.Save(o.ledgerPath, next); err != nil {
		return err
	}
	o.ledger = next
	o.publishRun(r)
	return nil
}

// work runs the retry slot for one selected story. Invocation failures
// re-invoke the same story without reselection.
func (o *Orchestrator) work(ctx context.Context, r *runState, story ledger.Story) error {
	r.current = story.ID

	if !r.announced[story.ID] {
		r.announced[story.ID] = true
		o.pushStatus(ctx, r, story, tracker.StatusInProgress, "")
	}

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			if o.cancelRequested(ctx) {
				return errInterrupted
			}
			if r.exhausted() {
				o.logger.Info(ctx, "budget exhausted inside retry slot",
					zap.String("story_id", story.ID),
					zap.Int("attempt", attempt),
				)
				return nil
			}
		}

		retry, err := o.iterate(ctx, r, story, attempt)
		if err != nil || !retry {
			return err
		}
	}
}

// iterate runs one attempt: prompt, invoke, verify, update. It reports
// whether the slot should retry.
func (o *Orchestrator) iterate(ctx context.Context, r *runState, story ledger.Story, attempt int) (bool, error) {
	iteration := r.iterations + 1
	ctx = logging.WithStory(ctx, story.ID, iteration)
	ctx, span := o.tracer.Start(ctx, "ralph.iteration", trace.WithAttributes(
		attribute.String("ralph.story_id", story.ID),
		attribute.Int("ralph.iteration", iteration),
		attribute.Int("ralph.attempt", attempt),
	))
	defer span.End()

	started := o.now()

	recent, err := o.progress.Recent(o.loop.ProgressSummaryEntries)
	if err != nil {
		return false, failure.Wrap(failure.KindIO, "progress", err)
	}
	prompt := BuildPrompt(PromptInput{
		Project:  o.ledger.Project,
		Story:    story,
		Recent:   recent,
		Attempt:  attempt,
		Previous: r.diagnostics[story.ID],
		MaxBytes: o.loop.ProgressSummaryBytes,
	})

	o.setState(ctx, r, StateInvoking)
	before := o.changed(o.dir)
	result, invokeErr := o.invoke(ctx, prompt)
	if o.cancelRequested(ctx) || failure.IsKind(invokeErr, failure.KindCancelled) {
		o.logger.Info(ctx, "iteration interrupted, ledger unchanged", zap.Int("attempt", attempt))
		return false, errInterrupted
	}
	after := o.changed(o.dir)

	out := progress.Outcome{
		RunID:        r.id,
		Iteration:    iteration,
		Timestamp:    started,
		StoryID:      story.ID,
		Attempt:      attempt,
		AgentExit:    result.ExitStatus,
		ChangedFiles: after,
	}

	var (
		retry       bool
		blockReason string
	)
	if invokeErr != nil {
		out.Verdict = progress.VerdictAgentFailed
		if result.TimedOut {
			out.Verdict = progress.VerdictTimedOut
		}
		out.Summary = invokeErr.Error()
		r.diagnostics[story.ID] = invocationDiagnostics(result, invokeErr)
		span.RecordError(invokeErr)

		if attempt > o.loop.Retries {
			blockReason = fmt.Sprintf("agent failed on %d consecutive attempts: %s", attempt, out.Summary)
		} else {
			retry = true
		}
	} else {
		o.setState(ctx, r, StateVerifying)
		verdict, err := o.evaluate(ctx)
		if o.cancelRequested(ctx) || failure.IsKind(err, failure.KindCancelled) {
			o.logger.Info(ctx, "iteration interrupted during verification, ledger unchanged")
			return false, errInterrupted
		}
		if err != nil {
			return false, err
		}

		out.Gates = verdict.Results
		out.Summary = verdict.Summary
		if verdict.Passed {
			out.Verdict = progress.VerdictPassed
			delete(r.diagnostics, story.ID)
		} else {
			out.Verdict = progress.VerdictFailed
			r.gateFailures[story.ID]++
			r.diagnostics[story.ID] = gateDiagnostics(verdict)
			if limit := o.loop.MaxAttemptsPerStory; limit > 0 && r.gateFailures[story.ID] >= limit {
				blockReason = fmt.Sprintf("quality gates failed %d times: %s", r.gateFailures[story.ID], verdict.Summary)
			}
		}
	}
	out.DurationMs = o.now().Sub(started).Milliseconds()

	o.logger.Debug(ctx, "workspace inspected",
		zap.Int("dirty", len(after)),
		zap.Strings("new", workspace.Diff(before, after)),
	)
	span.SetAttributes(attribute.String("ralph.verdict", string(out.Verdict)))

	if err := o.update(ctx, r, story, out, blockReason); err != nil {
		return false, err
	}
	return retry, nil
}

func (o *Orchestrator) invoke(ctx context.Context, prompt string) (agent.Result, error) {
	ctx, span := o.tracer.Start(ctx, "agent.invoke")
	defer span.End()

	result, err := o.invoker.Invoke(ctx, agent.Request{
		Prompt:  prompt,
		Dir:     o.dir,
		Timeout: o.timeout,
	})
	span.SetAttributes(
		attribute.Int("agent.exit_status", result.ExitStatus),
		attribute.Bool("agent.timed_out", result.TimedOut),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (o *Orchestrator) evaluate(ctx context.Context) (quality.Verdict, error) {
	ctx, span := o.tracer.Start(ctx, "quality.evaluate", trace.WithAttributes(
		attribute.String("quality.profile", o.profile.Name),
	))
	defer span.End()

	v, err := o.evaluator.Evaluate(ctx, o.profile, o.dir)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return v, err
	}
	span.SetAttributes(
		attribute.Bool("quality.passed", v.Passed),
		attribute.Float64("quality.score", v.Score),
	)
	return v, nil
}

// update commits one iteration: ledger first, then the progress record,
// then the best-effort tracker push and event. If the progress record
// cannot be written the ledger is rolled back, so a pass never reaches disk
// without the outcome that earned it.
func (o *Orchestrator) update(ctx context.Context, r *runState, story ledger.Story, out progress.Outcome, blockReason string) error {
	o.setState(ctx, r, StateUpdating)

	prev := o.ledger
	passed := out.Verdict == progress.VerdictPassed
	if passed || blockReason != "" {
		next := o.ledger.Clone()
		var err error
		if passed {
			err = next.MarkPassed(story.ID)
		} else {
			err = next.Block(story.ID, blockReason)
		}
		if err != nil {
			return failure.Wrap(failure.KindInternal, "update", err)
		}
		if err := ledger.Save(o.ledgerPath, next); err != nil {
			return err
		}
		o.ledger = next
	}

	stored, err := o.progress.Append(out)
	if err != nil {
		if o.ledger != prev {
			if rerr := ledger.Save(o.ledgerPath, prev); rerr != nil {
				o.logger.Error(ctx, "ledger rollback failed", zap.Error(rerr))
			}
			o.ledger = prev
		}
		return failure.Wrap(failure.KindIO, "progress", err)
	}
	r.iterations++
	o.publishRun(r)

	o.metrics.recordIteration(ctx, out.Verdict, o.now().Sub(out.Timestamp))
	o.logger.Info(ctx, "iteration complete",
		zap.Int64("seq", stored.Seq),
		zap.Int("attempt", out.Attempt),
		zap.String("verdict", string(out.Verdict)),
		zap.Int("agent_exit", out.AgentExit),
		zap.Int("changed_files", len(out.ChangedFiles)),
		zap.String("summary", out.Summary),
	)
	o.emit(ctx, r, events.Event{Type: events.IterationCompleted, StoryID: story.ID, Data: map[string]interface{}{
		"seq":     stored.Seq,
		"attempt": out.Attempt,
		"verdict": string(out.Verdict),
		"summary": out.Summary,
	}})

	switch {
	case passed:
		o.metrics.recordPassed(ctx)
		o.logger.Info(ctx, "story passed", zap.String("title", story.Title))
		o.pushStatus(ctx, r, story, tracker.StatusPassed, out.Summary)
		o.emit(ctx, r, events.Event{Type: events.StoryPassed, StoryID: story.ID})
	case blockReason != "":
		cause := "gates"
		if out.Verdict != progress.VerdictFailed {
			cause = "agent"
		}
		o.metrics.recordBlocked(ctx, cause)
		o.logger.Warn(ctx, "story blocked", zap.String("reason", blockReason))
		o.pushStatus(ctx, r, story, tracker.StatusBlocked, blockReason)
		o.openIssue(ctx, story, blockReason, out)
		o.emit(ctx, r, events.Event{Type: events.StoryBlocked, StoryID: story.ID, Data: map[string]interface{}{
			"reason": blockReason,
		}})
	}
	return nil
}

func (o *Orchestrator) pushStatus(ctx context.Context, r *runState, story ledger.Story, status tracker.StoryStatus, summary string) {
	err := o.tracker.UpdateStoryStatus(ctx, tracker.StatusUpdate{
		StoryID:     story.ID,
		ExternalRef: story.ExternalRef,
		Status:      status,
		Iteration:   r.iterations,
		Summary:     summary,
	})
	if err != nil {
		o.logger.Warn(ctx, "tracker status push failed",
			zap.String("tracker", o.tracker.Name()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// openIssue files a tracker item for a blocked story that has none.
func (o *Orchestrator) openIssue(ctx context.Context, story ledger.Story, reason string, out progress.Outcome) {
	if story.ExternalRef != "" {
		return
	}
	var body strings.Builder
	fmt.Fprintf(&body, "Story %s was blocked by the loop.\n\nReason: %s\n", story.ID, reason)
	for _, g := range out.Gates {
		if g.Passed() {
			continue
		}
		fmt.Fprintf(&body, "\n### %s (%s)\n\n```\n%s\n```\n", g.Name, g.Status, tail(g.Diagnostic, 1024))
	}

	ref, err := o.tracker.CreateIssue(ctx, tracker.IssueRequest{
		StoryID: story.ID,
		Title:   fmt.Sprintf("[%s] %s blocked", story.ID, story.Title),
		Body:    body.String(),
		Labels:  []string{"ralph", "blocked"},
	})
	if err != nil {
		o.logger.Warn(ctx, "tracker issue creation failed",
			zap.String("tracker", o.tracker.Name()),
			zap.Error(err),
		)
		return
	}
	if ref.ID != "" {
		o.logger.Info(ctx, "opened tracker issue", zap.String("issue", ref.ID), zap.String("url", ref.URL))
	}
}

func (o *Orchestrator) emit(ctx context.Context, r *runState, ev events.Event) {
	ev.RunID = r.id
	ev.Timestamp = o.now()
	if ev.Iteration == 0 {
		ev.Iteration = r.iterations
	}
	if err := o.events.Publish(ctx, ev); err != nil {
		o.logger.Warn(ctx, "event publish failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// halt ends the run and logs the final ledger state.
func (o *Orchestrator) halt(ctx context.Context, r *runState, reason HaltReason, err error) RunResult {
	ctx = context.WithoutCancel(ctx)
	state := StateHalted
	if reason == ReasonCompleted {
		state = StateCompleted
	}
	r.current = ""
	o.setState(ctx, r, state)

	var counts ledger.Counts
	if o.ledger != nil {
		counts = o.ledger.Counts()
	}
	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.Int("iterations", r.iterations),
		zap.Int("passed", counts.Passed),
		zap.Int("blocked", counts.Blocked),
		zap.Int("total", counts.Total),
	}
	switch {
	case err != nil:
		o.logger.Error(ctx, "loop halted", append(fields, zap.String("kind", string(failure.KindOf(err))), zap.Error(err))...)
	case reason == ReasonCompleted:
		o.logger.Info(ctx, "all stories passed "+CompletionMarker, fields...)
	default:
		o.logger.Info(ctx, "loop halted", fields...)
	}

	data := map[string]interface{}{
		"reason":     string(reason),
		"iterations": r.iterations,
		"passed":     counts.Passed,
		"blocked":    counts.Blocked,
		"total":      counts.Total,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	o.emit(ctx, r, events.Event{Type: events.RunHalted, Data: data})

	return RunResult{
		RunID:      r.id,
		State:      state,
		Reason:     reason,
		Iterations: r.iterations,
		Err:        err,
		Ledger:     o.ledger,
	}
}

// setState moves the run to a new state and publishes a snapshot.
func (o *Orchestrator) setState(ctx context.Context, r *runState, to State) {
	if !CanTransition(r.state, to) {
		o.logger.Error(ctx, "illegal state transition",
			zap.String("from", string(r.state)),
			zap.String("to", string(to)),
		)
	}
	r.state = to
	o.publishRun(r)
}

func (o *Orchestrator) publishRun(r *runState) {
	o.publish(Snapshot{
		RunID:         r.id,
		State:         r.state,
		CurrentStory:  r.current,
		Iteration:     r.iterations,
		MaxIterations: r.budget,
		Running:       true,
		Ledger:        o.ledger,
	})
}

func invocationDiagnostics(res agent.Result, err error) string {
	var b strings.Builder
	b.WriteString(err.Error())
	if out := strings.TrimSpace(res.Output); out != "" {
		b.WriteString("\n\nAgent output:\n")
		b.WriteString(tail(out, retryDiagnosticLimit))
	}
	return b.String()
}

func gateDiagnostics(v quality.Verdict) string {
	var b strings.Builder
	b.WriteString(v.Summary)
	for _, g := range v.Failed() {
		fmt.Fprintf(&b, "\n\n%s (%s):\n", g.Name, g.Status)
		b.WriteString(tail(strings.TrimSpace(g.Diagnostic), retryDiagnosticLimit/2))
	}
	return b.String()
}
