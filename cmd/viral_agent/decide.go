package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve <job-id> <content-id>",
	Short: "Approve the selected content of a job awaiting approval",
	Args:  cobra.ExactArgs(2),
	RunE:  runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <job-id>",
	Short: "Reject a job awaiting approval",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	// Close drains the preference refresh queued by the decision
	defer a.Close()

	if err := a.withIntake(ctx); err != nil {
		return err
	}
	if err := a.intake.Approve(ctx, ids[0], ids[1]); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "Approved job %s. Ready to publish.\n", ids[0])
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.withIntake(ctx); err != nil {
		return err
	}
	if err := a.intake.Reject(ctx, ids[0]); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "Rejected job %s.\n", ids[0])
	return nil
}
