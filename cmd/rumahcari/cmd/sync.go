package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/internal/httpapi"
	"github.com/hunianlab/rumahcari/internal/ingest"
	"github.com/hunianlab/rumahcari/internal/ui"
	"github.com/hunianlab/rumahcari/pkg/ingestion"
)

// syncOptions holds CLI flags for sync.
type syncOptions struct {
	daemon bool
	full   bool
	reset  bool
	plain  bool
}

func newSyncCmd() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull pending listings and update the vector index",
		Long: `Run one sync cycle against the Property Backend: fetch pending
records, normalize, embed, upsert into the vector index, acknowledge.

--full drains the whole backlog (a fresh deployment leaves far more
than one batch pending). --reset deletes the local index and sync state
first and then drains; use it after changing the embedding model.
--daemon keeps running on the configured interval until interrupted.`,
		Example: `  # One incremental cycle
  rumahcari sync

  # Initial backfill
  rumahcari sync --full

  # Rebuild from scratch
  rumahcari sync --reset

  # Background mode for a server deployment
  rumahcari sync --daemon`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.daemon, "daemon", false, "Keep syncing on the configured interval")
	cmd.Flags().BoolVar(&opts.full, "full", false, "Drain the whole backlog instead of one batch")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "Delete local index and sync state, then drain")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain line output instead of the progress TUI")

	return cmd
}

func runSync(cmd *cobra.Command, opts syncOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogging(cfg, opts.daemon)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.reset {
		if err := os.RemoveAll(cfg.IndexDir()); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
		if err := os.Remove(cfg.SyncStatePath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reset sync state: %w", err)
		}
		logger.Info("local index and sync state cleared")
		opts.full = true
	}

	renderer := ui.NewRenderer(ui.Config{
		Output:     cmd.OutOrStdout(),
		ForcePlain: opts.plain || opts.daemon,
		NoColor:    ui.DetectNoColor(),
		Title:      cfg.Backend.BaseURL,
	})

	stack, err := ingestion.Open(ctx, cfg, logger,
		ingestion.WithProgress(func(stage string, done, total int) {
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:   ui.ParseStage(stage),
				Current: done,
				Total:   total,
			})
		}),
	)
	if err != nil {
		return err
	}
	defer stack.Close()

	if opts.daemon {
		return runSyncDaemon(ctx, cmd, cfg.PidFilePath(), stack)
	}

	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer renderer.Stop()

	var res *ingest.CycleResult
	if opts.full {
		res, err = stack.Pipeline.Drain(ctx, "cli")
	} else {
		res, err = stack.Pipeline.RunCycle(ctx, "cli")
	}
	if err != nil {
		renderer.AddError(ui.ErrorEvent{Err: err})
		return err
	}

	renderer.Complete(ui.CompletionStats{
		Attempted: res.Attempted,
		Embedded:  res.Embedded,
		Upserted:  res.Upserted,
		Deleted:   res.Deleted,
		Failed:    res.Failed,
		Duration:  res.Duration,
		Embedder: ui.EmbedderInfo{
			Provider:   cfg.Embedding.Provider,
			Model:      stack.Embedder.ModelID(),
			Dimensions: stack.Embedder.Dimensions(),
		},
	})
	return nil
}

// runSyncDaemon runs the scheduler until the context ends. The pid
// file lives next to the server's, so operators can signal either.
func runSyncDaemon(ctx context.Context, cmd *cobra.Command, servePidPath string, stack *ingestion.Stack) error {
	pidPath := filepath.Join(filepath.Dir(servePidPath), "rumahcari-sync.pid")
	pid := httpapi.NewPIDFile(pidPath)
	if pid.IsRunning() {
		return fmt.Errorf("sync daemon already running (pid file %s)", pidPath)
	}
	if err := pid.Write(); err != nil {
		return err
	}
	defer func() { _ = pid.Remove() }()

	cmd.Printf("Sync daemon started (pid file %s)\n", pidPath)
	stack.Scheduler.Start(ctx)
	<-ctx.Done()
	stack.Scheduler.Stop()
	cmd.Println("Sync daemon stopped")
	return nil
}
