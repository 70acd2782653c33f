package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"faceprep/internal/dataset"
	"faceprep/internal/fsutil"
	"faceprep/internal/server"
	"faceprep/internal/stages"
	"faceprep/internal/watch"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd() *cobra.Command {
	root := &Root{}
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "faceprep",
		Short: "Faceprep builds aligned, degraded and restored face datasets",
		Long: `Faceprep prepares face image datasets for restoration experiments.
It verifies the source dataset, aligns faces to a canonical frame using
five-point landmarks, synthesizes degraded variants, and drives an external
restoration model over the results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.init(configPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			root.close()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newStatusCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newCleanCmd(root))

	return rootCmd
}

func newRunCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [stage]",
		Short: "Run one pipeline stage, or the full pipeline",
		Long: fmt.Sprintf(`Run a single stage or the full pipeline in order.

Stages: %s

With no argument, or with "all", every stage runs in order and the pipeline
stops at the first failing stage. Each stage is incremental: items whose
outputs already exist and pass validity checks are skipped.`,
			strings.Join(stages.IDs(), ", ")),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := stages.IDs()
			if len(args) == 1 && args[0] != "all" {
				if _, err := stages.New(args[0]); err != nil {
					return err
				}
				ids = []string{args[0]}
			}
			return root.runStages(cmd.Context(), ids)
		},
	}
	return cmd
}

func newStatusCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent stage runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return fmt.Errorf("run ledger unavailable (database_path not configured)")
			}
			runs, err := root.store.RecentRuns(limit)
			if err != nil {
				return fmt.Errorf("reading run ledger: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded yet.")
				return nil
			}

			fmt.Printf("%-36s  %-8s  %-9s  %7s  %7s  %6s  %s\n",
				"RUN", "STAGE", "STATUS", "PLANNED", "BUILT", "FAILED", "STARTED")
			for _, r := range runs {
				fmt.Printf("%-36s  %-8s  %-9s  %7d  %7d  %6d  %s\n",
					r.ID, r.Stage, r.Status, r.ItemsPlanned, r.ItemsBuilt, r.ItemsFailed,
					r.StartedAt.Format(time.RFC3339))
				if r.Error != "" {
					fmt.Printf("    error: %s\n", r.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		port     int
		watchRaw bool
		quiet    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the status API and websocket event feed",
		Long: `Start an HTTP server exposing recent runs and per-item build events
over a websocket feed.

With --watch the raw image directory is monitored and the align and degrade
stages rerun incrementally after each quiet period, streaming per-item
events to connected clients.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == 0 {
				port = root.cfg.Server.Port
			}
			srv := server.New(port, root.store, root.log)
			root.events = srv.Hub()

			if watchRaw {
				dir := filepath.Join(root.cfg.Paths.DatasetRoot, dataset.RawImagesDir)
				w := &watch.Watcher{
					Dir:   dir,
					Quiet: quiet,
					Log:   root.log,
					OnChange: func(ctx context.Context, events int) {
						root.log.Info("rebuilding after changes", "events", events)
						if err := root.runStages(ctx, []string{"align", "degrade"}); err != nil {
							root.log.Error("incremental rebuild failed", "error", err)
						}
					},
				}
				go func() {
					if err := w.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
						root.log.Error("watcher stopped", "error", err)
					}
				}()
			}

			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().BoolVar(&watchRaw, "watch", false, "monitor the raw image directory and rebuild incrementally")
	cmd.Flags().DurationVar(&quiet, "quiet", watch.DefaultQuiet, "quiet period before rebuilding")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var quiet time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the raw image directory and rebuild on changes",
		Long: `Watch the dataset's raw image directory for new or modified images.
After each quiet period the align and degrade stages run incrementally,
so only the new items are built.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := filepath.Join(root.cfg.Paths.DatasetRoot, dataset.RawImagesDir)
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return fmt.Errorf("raw image directory does not exist: %s", dir)
			}

			w := &watch.Watcher{
				Dir:   dir,
				Quiet: quiet,
				Log:   root.log,
				OnChange: func(ctx context.Context, events int) {
					root.log.Info("rebuilding after changes", "events", events)
					if err := root.runStages(ctx, []string{"align", "degrade"}); err != nil {
						root.log.Error("incremental rebuild failed", "error", err)
					}
				},
			}
			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().DurationVar(&quiet, "quiet", watch.DefaultQuiet, "quiet period before rebuilding")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			fmt.Printf("Configuration:\n\n")
			fmt.Printf("Dataset Root: %s\n", cfg.Paths.DatasetRoot)
			fmt.Printf("Output Root: %s\n", cfg.Paths.OutputRoot)
			fmt.Printf("Logs Directory: %s\n", cfg.Paths.LogsDir)
			fmt.Printf("Database Path: %s\n", cfg.Paths.DatabasePath)
			fmt.Printf("Parallel Jobs: %d\n", cfg.Processing.ParallelJobs)
			fmt.Printf("Canonical Size: %d\n", cfg.Alignment.ImageSize)
			fmt.Printf("Degradation Processor: %s\n", cfg.Degradations.Processor)
			fmt.Printf("Degradation Seed: %d\n", cfg.Degradations.Seed)
			for _, p := range cfg.Degradations.Presets {
				fmt.Printf("  Preset %s: type=%s sigma=%g quality=%d\n",
					p.Name, p.Type, p.Sigma, p.Quality)
			}
			fmt.Printf("Restoration Tool: %s\n", cfg.Restoration.Tool)
			fmt.Printf("Restoration Checkpoint: %s\n", cfg.Restoration.Checkpoint)
			fmt.Printf("Fidelity Values: %v\n", cfg.Restoration.FidelityValues)
			fmt.Printf("Log Level: %s\n", cfg.Logging.Level)
			fmt.Printf("Log Format: %s\n", cfg.Logging.Format)
			fmt.Printf("Server Port: %d\n", cfg.Server.Port)
			return nil
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}

func newCleanCmd(root *Root) *cobra.Command {
	var keepLogs bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove derived outputs and start fresh",
		Long: `Remove the aligned, degraded and restored output trees and recreate
them empty. The source dataset is never touched. Logs and manifests are
preserved unless --keep-logs=false.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.cfg.Paths.OutputRoot == "" {
				return fmt.Errorf("paths.output_root is not configured")
			}
			targets := []string{
				root.cfg.AlignedRoot(),
				root.cfg.DegradedRoot(),
				root.cfg.RestoredRoot(),
			}
			if !keepLogs {
				targets = append(targets, root.cfg.Paths.LogsDir)
			}
			for _, dir := range targets {
				if dir == "" {
					continue
				}
				root.log.Info("clearing directory", "path", dir)
				if err := os.RemoveAll(dir); err != nil {
					return fmt.Errorf("removing %s: %w", dir, err)
				}
				if err := fsutil.EnsureDir(dir); err != nil {
					return err
				}
			}
			fmt.Println("Workspace cleared.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepLogs, "keep-logs", true, "preserve the logs directory and manifests")
	return cmd
}
