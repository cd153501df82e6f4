package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/viral-agents/internal/db"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

var statusDead int

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show pipeline or job status",
	Long: `Without arguments, show job counts by status and the depth of every stage queue.
With a job ID, show the job, its stage runs and its drafted content.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusDead, "dead", 0, "Also list up to this many dead-lettered messages")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var jobID uuid.UUID
	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}
		jobID = id
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := os.Stdout
	if jobID != uuid.Nil {
		job, err := a.db.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %s not found", jobID)
		}
		runs, err := a.db.ListAgentRuns(ctx, jobID)
		if err != nil {
			return err
		}
		contents, err := a.db.ListContents(ctx, jobID)
		if err != nil {
			return err
		}
		printJob(out, job, runs, contents)
		return nil
	}

	counts, err := a.db.CountJobsByStatus(ctx)
	if err != nil {
		return err
	}
	stats, err := a.db.QueueStats(ctx)
	if err != nil {
		return err
	}
	printOverview(out, counts, stats)

	if statusDead > 0 {
		dead, err := a.db.ListDeadMessages(ctx, statusDead)
		if err != nil {
			return err
		}
		printDeadMessages(out, dead)
	}
	return nil
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func printOverview(out io.Writer, counts map[workflow.JobStatus]int, stats []db.QueueStat) {
	rows := make([][]string, 0, len(workflow.AllStatuses()))
	for _, status := range workflow.AllStatuses() {
		rows = append(rows, []string{string(status), strconv.Itoa(counts[status])})
	}
	fmt.Fprintln(out, "Jobs")
	fmt.Fprintln(out, renderTable([]string{"Status", "Jobs"}, rows, []columnAlignment{alignLeft, alignRight}))

	rows = make([][]string, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []string{
			s.Queue,
			strconv.Itoa(s.Ready),
			strconv.Itoa(s.Delayed),
			strconv.Itoa(s.Leased),
			strconv.Itoa(s.Dead),
		})
	}
	fmt.Fprintln(out, "Queues")
	if len(rows) == 0 {
		fmt.Fprintln(out, "  (empty)")
		return
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Queue", "Ready", "Delayed", "Leased", "Dead"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func printDeadMessages(out io.Writer, msgs []db.QueueMessage) {
	fmt.Fprintln(out, "Dead letters")
	if len(msgs) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, []string{
			strconv.FormatInt(m.ID, 10),
			m.Stage,
			m.JobID.String(),
			strconv.Itoa(m.Attempts),
			deref(m.LastError),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Stage", "Job", "Attempts", "Last error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

//nolint:errcheck // writing to stdout; errors are not recoverable
func printJob(out io.Writer, job *types.Job, runs []types.AgentRun, contents []types.Content) {
	fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, [][]string{
		{"ID", job.ID.String()},
		{"Goal", job.Goal},
		{"Keywords", strings.Join(job.Keywords, ", ")},
		{"Status", string(job.Status)},
		{"Created", job.CreatedAt.Format(time.RFC3339)},
		{"Updated", job.UpdatedAt.Format(time.RFC3339)},
	}, nil))

	fmt.Fprintln(out, "Runs")
	if len(runs) == 0 {
		fmt.Fprintln(out, "  (none)")
	} else {
		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			tokens := ""
			if r.TokensUsed != nil {
				tokens = strconv.Itoa(*r.TokensUsed)
			}
			rows = append(rows, []string{
				string(r.Agent),
				strconv.Itoa(r.Attempt),
				string(r.Status),
				tokens,
				runDuration(&r),
				deref(r.Error),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Stage", "Attempt", "Status", "Tokens", "Duration", "Error"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
		))
	}

	fmt.Fprintln(out, "Content")
	if len(contents) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	rows := make([][]string, 0, len(contents))
	for _, c := range contents {
		mark := ""
		switch {
		case c.Approved():
			mark = "approved"
		case c.IsSelected:
			mark = "selected"
		}
		rows = append(rows, []string{
			strconv.Itoa(c.VariantNum),
			c.ID.String(),
			strconv.Itoa(c.ViralScore),
			mark,
			c.Body,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "ID", "Score", "", "Body"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func runDuration(r *types.AgentRun) string {
	if r.FinishedAt == nil {
		return "running"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
