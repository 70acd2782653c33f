// Package cli wires configuration, logging, the run ledger and the stage
// registry into the faceprep command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"faceprep/internal/config"
	"faceprep/internal/logging"
	"faceprep/internal/stages"
	"faceprep/internal/storage"
)

// Root carries the shared collaborators for every subcommand.
type Root struct {
	cfg    *config.Config
	log    *slog.Logger
	store  *storage.Store
	events stages.EventSink
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := NewRootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch {
		case errors.Is(err, stages.ErrSanity):
			return 3
		case errors.Is(err, stages.ErrStructural):
			return 2
		default:
			return 1
		}
	}
	return 0
}

// init loads configuration and opens the shared collaborators. Called from
// the root command's PersistentPreRunE once flags are parsed.
func (r *Root) init(configPath string) error {
	cfg, err := config.LoadPath(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}

	r.cfg = cfg
	r.log = log

	if cfg.Paths.DatabasePath != "" {
		store, err := storage.New(cfg.Paths.DatabasePath)
		if err != nil {
			// The ledger is advisory; run without it rather than failing.
			log.Warn("run ledger unavailable", "path", cfg.Paths.DatabasePath, "error", err)
		} else {
			r.store = store
		}
	}
	return nil
}

func (r *Root) close() {
	if r.store != nil {
		r.store.Close()
	}
}

// runStages executes the named stages in order, stopping at the first
// structural or sanity failure.
func (r *Root) runStages(ctx context.Context, ids []string) error {
	for _, id := range ids {
		handler, err := stages.New(id)
		if err != nil {
			return err
		}
		runID := uuid.NewString()
		env := &stages.Env{
			Cfg:    r.cfg,
			Log:    r.log.With("stage", id),
			Store:  r.store,
			Events: r.events,
			RunID:  runID,
		}

		_ = r.store.RecordRunStart(runID, id)
		logging.LogStageStart(r.log, id, runID)
		start := time.Now()

		if err := handler.Execute(ctx, env); err != nil {
			_ = r.store.RecordRunResult(runID, "failed", err.Error(), 0, 0, 0)
			logging.LogStageError(r.log, id, runID, time.Since(start), err)
			return fmt.Errorf("stage %s: %w", id, err)
		}
		logging.LogStageComplete(r.log, id, runID, time.Since(start), nil)
	}
	return nil
}
