package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"parley/internal/app"
	"parley/internal/config"
	"parley/internal/domain/models"
	"parley/internal/domain/repositories"
	"parley/internal/observability"
)

var (
	cfg    *config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "worker",
		Short: "Background task worker for deferred generations and message maintenance",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg = config.Load()

			var logOut io.Writer
			if cfg.LogDir != "" {
				logFile, err := config.SetupLogFile(cfg.LogDir, "worker", cfg.LogMaxFiles)
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: file logging disabled: %v\n", err)
				} else {
					logOut = logFile
				}
			}
			logger = config.NewLogger(cfg.Environment, logOut)
			slog.SetDefault(logger)
			return nil
		},
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Sweep and purge on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sweep, _ := cmd.Flags().GetDuration("sweep-interval")
				retention, _ := cmd.Flags().GetDuration("retention-interval")
				if sweep <= 0 {
					sweep = cfg.SweepInterval
				}
				if retention <= 0 {
					retention = cfg.RetentionInterval
				}
				a.Queue.Run(ctx, sweep, retention)
				return nil
			})
		},
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Process one batch of due tasks and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Queue.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d task(s)\n", n)
				return nil
			})
		},
	}

	purgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Delete terminal tasks past the retention window and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Queue.Purge(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d task(s)\n", n)
				return nil
			})
		},
	}

	enqueueCmd = &cobra.Command{
		Use:   "enqueue <type> <json-payload>",
		Short: "Queue a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage(args[1])
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}
			priority, _ := cmd.Flags().GetInt("priority")
			delay, _ := cmd.Flags().GetDuration("delay")

			opts := repositories.EnqueueOptions{Priority: priority}
			if delay > 0 {
				at := time.Now().Add(delay)
				opts.ScheduledFor = &at
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				id, err := a.Queue.Enqueue(ctx, models.TaskType(args[0]), payload, opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
)

func init() {
	runCmd.Flags().Duration("sweep-interval", 0, "override SWEEP_INTERVAL")
	runCmd.Flags().Duration("retention-interval", 0, "override RETENTION_INTERVAL")
	enqueueCmd.Flags().Int("priority", 0, "task priority")
	enqueueCmd.Flags().Duration("delay", 0, "schedule the task this far in the future")

	rootCmd.AddCommand(runCmd, sweepCmd, purgeCmd, enqueueCmd)
}

// withApp builds the application, runs fn and tears everything down.
func withApp(parent context.Context, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.InitTracing(ctx, cfg, "parley-worker", logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
