package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/viral-agents/internal/intake"
	"github.com/jonathan/viral-agents/internal/server"
)

var (
	servePort      int
	serveNoWorkers bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server, the stage workers and the scheduler",
	Long: `Start an HTTP server that accepts jobs and approval decisions, together with the dispatcher
that runs the pipeline stages and, when configured, the job scheduler.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().BoolVar(&serveNoWorkers, "no-workers", false, "Serve the API only; stages run in a separate worker process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.Migrate(ctx); err != nil {
		return err
	}
	if err := a.withIntake(ctx); err != nil {
		return err
	}
	if !serveNoWorkers {
		if err := a.withWorkers(ctx); err != nil {
			return fmt.Errorf("failed to start workers: %w", err)
		}
	}

	port := a.cfg.Port
	if servePort > 0 {
		port = servePort
	}
	srv := server.New(server.Config{
		Port:       port,
		CORSOrigin: a.cfg.CORSOrigin,
		Metrics:    a.recorder.Handler(),
		Logger:     a.logger.Named("http"),
	}, a.db, a.intake)

	scheduler := intake.NewScheduler(a.intake, intake.SchedulerConfig{
		Interval: a.cfg.ScheduleInterval.Std(),
		Goals:    a.cfg.ScheduleGoals,
		Accounts: a.cfg.ScheduleAccounts,
	}, a.logger.Named("scheduler"))
	scheduler.Start(ctx)
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if a.dispatcher != nil {
		g.Go(func() error {
			return a.dispatcher.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// runUntilSignal is shared by the long-running commands that have no HTTP surface
func runUntilSignal(cmd *cobra.Command, run func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
