package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/ralph/internal/http"
	"github.com/fyrsmithlabs/ralph/internal/ledger"
	"github.com/fyrsmithlabs/ralph/internal/mcp"
)

// stopGrace bounds how long serve waits for a running loop on shutdown.
const stopGrace = 10 * time.Second

func newServeCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP control server over stdio",
		Long: `Serve the loop to an MCP client on stdin/stdout. Logs go to stderr.

Tools: start, stop, status, list_stories, get_progress, reset_story,
start_audit, get_audit_status.
Resources: ralph://stories, ralph://progress.

Edits to the ledger file are picked up while no loop is running. When
http.enabled is set, a read-only status API and /metrics are served too.

Examples:
  # Register with an MCP client
  ralph serve --dir /path/to/project

  # Preload a ledger outside the project directory
  ralph serve --prd ./backlog/prd.json`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), g)
		},
	}
	return cmd
}

func runServe(ctx context.Context, g *globalOptions) error {
	a, err := newApp(ctx, g, appOptions{stderrOnly: true, loop: true})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	log := a.logger.Underlying()
	log.Info("starting ralph in MCP stdio mode",
		zap.String("dir", a.dir),
		zap.String("ledger", a.ledgerPath),
		zap.String("profile", a.profile.Name))

	watcher, err := ledger.NewWatcher(a.ledgerPath, func(_ *ledger.Ledger, err error) {
		if err != nil {
			log.Warn("ledger changed but could not be loaded", zap.Error(err))
			return
		}
		if err := a.orch.Reload(); err != nil {
			log.Warn("ledger reload failed", zap.Error(err))
			return
		}
		log.Debug("ledger reloaded")
	})
	if err != nil {
		// Reload on edit is a convenience; serve works without it.
		log.Warn("ledger watcher disabled", zap.Error(err))
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	if a.cfg.HTTP.Enabled {
		hs, err := httpserver.NewServer(a.orch, log.Named("http"), &httpserver.Config{
			Host:     a.cfg.HTTP.Host,
			Port:     a.cfg.HTTP.Port,
			Meter:    a.telemetry.Meter("github.com/fyrsmithlabs/ralph/internal/http"),
			Scrubber: a.scrubber,
			Health:   a.telemetry.Health,
		})
		if err != nil {
			return fmt.Errorf("failed to create http server: %w", err)
		}
		go func() {
			if err := hs.Start(); err != nil {
				log.Error("http server error", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := hs.Shutdown(sctx); err != nil {
				log.Warn("http shutdown error", zap.Error(err))
			}
		}()
	}

	srv, err := mcp.NewServer(&mcp.Config{
		Name:      "ralph",
		Version:   version,
		Logger:    log.Named("mcp"),
		Meter:     a.telemetry.Meter("github.com/fyrsmithlabs/ralph/internal/mcp"),
		Scrubber:  a.scrubber,
		AuditRoot: a.dir,
	}, a.orch)
	if err != nil {
		return fmt.Errorf("failed to create mcp server: %w", err)
	}
	defer srv.Close()

	// stdout carries the protocol.
	fmt.Fprintf(os.Stderr, "ralph stdio mode started (%d tools)\n", len(srv.Tools()))

	serveErr := srv.Run(ctx)

	if a.orch.Running() {
		log.Info("stopping running loop")
		_ = a.orch.Stop(true)
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopGrace)
		if _, err := a.orch.Wait(wctx); err != nil {
			log.Warn("loop did not stop in time", zap.Error(err))
		}
		cancel()
	}

	if serveErr != nil && ctx.Err() == nil {
		return fmt.Errorf("stdio server error: %w", serveErr)
	}
	log.Info("stdio MCP server shutdown complete")
	return nil
}
