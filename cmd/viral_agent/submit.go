package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/viral-agents/internal/types"
)

var (
	submitGoal     string
	submitKeywords []string
	submitAccounts []string
	submitJSON     bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a new content job",
	Long: `Create a pending job for a goal and queue its planning stage. Keywords given here are used
as is; without them the planner chooses keywords from the goal and the trending searches.`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitGoal, "goal", "g", "", "What the post should achieve (required)")
	submitCmd.Flags().StringSliceVarP(&submitKeywords, "keyword", "k", nil, "Search keyword (repeatable or comma-separated)")
	submitCmd.Flags().StringSliceVarP(&submitAccounts, "account", "a", nil, "Social account to collect from (repeatable or comma-separated)")
	submitCmd.Flags().BoolVar(&submitJSON, "json", false, "Print the created job as JSON")

	if err := submitCmd.MarkFlagRequired("goal"); err != nil {
		panic(fmt.Sprintf("failed to mark goal flag as required: %v", err))
	}

	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.withIntake(ctx); err != nil {
		return err
	}

	job, err := a.intake.Create(ctx, &types.CreateJobRequest{
		Goal:     submitGoal,
		Keywords: submitKeywords,
		Accounts: submitAccounts,
	})
	if err != nil {
		return err
	}

	if submitJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	}
	_, _ = fmt.Fprintf(os.Stdout, "Queued job %s (%s)\n", job.ID, job.Status)
	return nil
}
