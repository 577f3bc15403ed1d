package main

import (
	"context"
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/agent"
	"github.com/fyrsmithlabs/ralph/internal/config"
	"github.com/fyrsmithlabs/ralph/internal/events"
	"github.com/fyrsmithlabs/ralph/internal/failure"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/logging"
	"github.com/fyrsmithlabs/ralph/internal/orchestrator"
	"github.com/fyrsmithlabs/ralph/internal/progress"
	"github.com/fyrsmithlabs/ralph/internal/quality"
	"github.com/fyrsmithlabs/ralph/internal/secrets"
	"github.com/fyrsmithlabs/ralph/internal/telemetry"
	"github.com/fyrsmithlabs/ralph/internal/tracker"
)

// app holds everything a command needs, built from flags and config.
type app struct {
	dir        string
	ledgerPath string
	cfg        *config.Config
	logger     *logging.Logger
	telemetry  *telemetry.Telemetry
	scrubber   secrets.Scrubber
	profile    *quality.Profile
	engine     *quality.Engine
	progress   progress.Log
	events     events.Publisher
	orch       *orchestrator.Orchestrator
}

// appOptions selects which parts of the app a command builds.
type appOptions struct {
	// profile overrides quality.profile.
	profile string
	// stderrOnly keeps stdout free for a protocol stream.
	stderrOnly bool
	// loop builds the agent, tracker, events and orchestrator.
	loop bool
}

// loadConfig resolves the project directory and loads its config.
func loadConfig(g *globalOptions) (string, *config.Config, error) {
	dir, err := filepath.Abs(g.dir)
	if err != nil {
		return "", nil, failure.Wrap(failure.KindConfig, "config", err)
	}
	path := g.configPath
	if path == "" {
		path = config.DefaultPath(dir)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", nil, failure.Wrap(failure.KindConfig, "config", err)
	}
	return dir, cfg, nil
}

// newApp wires config, logging, telemetry and the loop components. The
// caller must Close the app.
func newApp(ctx context.Context, g *globalOptions, opts appOptions) (_ *app, err error) {
	dir, cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	a := &app{dir: dir, cfg: cfg, events: events.Nop{}}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	tcfg := telemetry.NewDefaultConfig()
	tcfg.ServiceVersion = version
	if err := cfg.Section("telemetry", tcfg); err != nil {
		return nil, failure.Wrap(failure.KindConfig, "telemetry", err)
	}
	a.telemetry, err = telemetry.New(ctx, tcfg)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "telemetry", err)
	}

	scfg := secrets.DefaultConfig()
	if err := cfg.Section("secrets", scfg); err != nil {
		return nil, failure.Wrap(failure.KindConfig, "secrets", err)
	}
	a.scrubber, err = secrets.New(scfg)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "secrets", err)
	}

	lcfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", lcfg); err != nil {
		return nil, failure.Wrap(failure.KindConfig, "logging", err)
	}
	if g.verbose {
		lcfg.Level = "debug"
	}
	if opts.stderrOnly {
		lcfg.Output.Stdout = false
		lcfg.Output.Stderr = true
	}
	var logOpts []logging.Option
	if a.scrubber.IsEnabled() {
		logOpts = append(logOpts, logging.WithScrubber(func(text string) string {
			return a.scrubber.Scrub(text).Scrubbed
		}))
	}
	a.logger, err = logging.NewLogger(lcfg, a.telemetry.LoggerProvider(), logOpts...)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "logging", err)
	}

	a.profile, err = quality.LoadProfile(resolveProfile(dir, firstNonEmpty(opts.profile, cfg.Quality.Profile)))
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "quality", err)
	}
	a.engine = quality.NewEngine(quality.EngineConfig{
		Parallelism: cfg.Quality.Parallelism,
		Logger:      a.logger.Underlying().Named("quality"),
	})

	a.ledgerPath = g.prdPath
	if a.ledgerPath == "" {
		a.ledgerPath = cfg.Loop.LedgerFile
	}
	a.ledgerPath = inDir(dir, a.ledgerPath)

	if !opts.loop {
		return a, nil
	}

	a.progress, err = progress.Open(cfg.Progress.Backend, inDir(dir, cfg.Progress.Path))
	if err != nil {
		return nil, err
	}

	invoker, err := agent.NewProcessInvoker(agent.Config{
		Command:     cfg.Agent.Command,
		Args:        cfg.Agent.Args,
		Env:         cfg.Agent.Env,
		OutputLimit: cfg.Agent.OutputLimit,
		Scrubber:    a.scrubber,
		Logger:      a.logger.Underlying().Named("agent"),
	})
	if err != nil {
		return nil, err
	}

	trk, err := tracker.NewRegistry().Build(tracker.Options{
		Config: cfg.Tracker,
		Dir:    dir,
		Logger: a.logger.Underlying().Named("tracker"),
	})
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, "tracker", err)
	}

	if cfg.Events.Enabled {
		pub, err := events.Connect(cfg.Events.URL, cfg.Events.SubjectPrefix, a.logger.Underlying().Named("events"))
		if err != nil {
			// Events are an integration; the loop runs without them.
			a.logger.Warn(ctx, "event publishing disabled", zap.String("url", cfg.Events.URL), zap.Error(err))
		} else {
			a.events = pub
		}
	}

	a.orch, err = orchestrator.New(orchestrator.Options{
		Dir:            dir,
		LedgerPath:     a.ledgerPath,
		Profile:        a.profile,
		Evaluator:      a.engine,
		Invoker:        invoker,
		Progress:       a.progress,
		Tracker:        trk,
		TrackerTimeout: cfg.Tracker.Timeout.Duration(),
		ImportStories:  cfg.Tracker.Import,
		Events:         a.events,
		Telemetry:      a.telemetry,
		Logger:         a.logger,
		Loop:           cfg.Loop,
		AgentTimeout:   cfg.Agent.Timeout.Duration(),
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug(ctx, "app initialized",
		zap.String("dir", dir),
		zap.String("ledger", a.ledgerPath),
		zap.String("profile", a.profile.Name),
		zap.String("agent", invoker.Command()),
		zap.String("tracker", trk.Name()),
	)
	return a, nil
}

// loadLedger reads the ledger without building the loop.
func (a *app) loadLedger() (*ledger.Ledger, error) {
	return ledger.Load(a.ledgerPath)
}

// Close releases resources in reverse order of creation.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.events != nil {
		errs = append(errs, a.events.Close())
	}
	if a.progress != nil {
		errs = append(errs, a.progress.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(context.WithoutCancel(ctx)))
	}
	if a.logger != nil {
		if err := errors.Join(errs...); err != nil {
			a.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
		}
		if n := a.logger.Dropped(); n > 0 {
			a.logger.Warn(ctx, "log entries dropped by sampling", zap.Int64("dropped", n))
		}
		_ = a.logger.Sync() // Best-effort sync on shutdown
	}
}

// resolveProfile makes a relative profile path relative to dir. Preset
// names pass through.
func resolveProfile(dir, ref string) string {
	if _, ok := quality.Preset(ref); ok || ref == "" || filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(dir, ref)
}

func inDir(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
