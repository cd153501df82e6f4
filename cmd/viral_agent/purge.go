package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete acknowledged queue messages",
	Long: `Delete queue messages that were acknowledged longer ago than --older-than. A redelivery of a
purged message is still recognized through the stage run history and is not run twice.`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 7*24*time.Hour, "Minimum age of the acknowledgement")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, _ []string) error {
	if purgeOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.db.PurgeAcked(ctx, purgeOlderThan)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "Purged %d acknowledged messages\n", n)
	return nil
}
