package main

import (
	"context"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the stage dispatcher without the HTTP API",
	Long: `Consume the stage queues and run the pipeline stages. Any number of worker processes
may share one database; the queue leases each message to a single consumer.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	return runUntilSignal(cmd, func(ctx context.Context) error {
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.db.Migrate(ctx); err != nil {
			return err
		}
		if err := a.withWorkers(ctx); err != nil {
			return err
		}
		return a.dispatcher.Run(ctx)
	})
}
