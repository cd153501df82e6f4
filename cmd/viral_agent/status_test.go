package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/viral-agents/internal/db"
	"github.com/jonathan/viral-agents/internal/types"
	"github.com/jonathan/viral-agents/internal/workflow"
)

func strPtr(s string) *string { return &s }

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Name", "Count"}, [][]string{{"planner", "3"}, {"drafter"}}, []columnAlignment{alignLeft, alignRight})

	assert.Contains(t, out, "Name")
	assert.Contains(t, out, "planner")
	assert.Contains(t, out, "drafter")
	assert.Equal(t, "", renderTable(nil, nil, nil))
}

func TestPrintOverview(t *testing.T) {
	var buf bytes.Buffer
	printOverview(&buf,
		map[workflow.JobStatus]int{workflow.StatusRunning: 2, workflow.StatusAwaitingApproval: 1},
		[]db.QueueStat{{Queue: "agent.planner", Ready: 4, Dead: 1}},
	)

	out := buf.String()
	for _, status := range workflow.AllStatuses() {
		assert.Contains(t, out, string(status))
	}
	assert.Contains(t, out, "agent.planner")
	assert.Contains(t, out, "Queues")
}

func TestPrintOverview_NoQueues(t *testing.T) {
	var buf bytes.Buffer
	printOverview(&buf, map[workflow.JobStatus]int{}, nil)

	assert.Contains(t, buf.String(), "(empty)")
}

func TestPrintDeadMessages(t *testing.T) {
	var buf bytes.Buffer
	printDeadMessages(&buf, []db.QueueMessage{{
		ID:        42,
		Stage:     "collector",
		JobID:     uuid.New(),
		Attempts:  3,
		LastError: strPtr("collect service returned 502"),
	}})

	out := buf.String()
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "collector")
	assert.Contains(t, out, "502")

	buf.Reset()
	printDeadMessages(&buf, nil)
	assert.Contains(t, buf.String(), "(none)")
}

func TestPrintJob(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	tokens := 812
	job := &types.Job{
		ID:        uuid.New(),
		Goal:      "Promote the spring menu",
		Keywords:  []string{"spring menu", "cafe"},
		Status:    workflow.StatusAwaitingApproval,
		CreatedAt: started,
		UpdatedAt: finished,
	}
	runs := []types.AgentRun{
		{Agent: workflow.StagePlanner, Attempt: 1, Status: types.RunStatusDone, TokensUsed: &tokens, StartedAt: started, FinishedAt: &finished},
		{Agent: workflow.StageCollector, Attempt: 1, Status: types.RunStatusRunning, StartedAt: finished},
	}
	contents := []types.Content{
		{ID: uuid.New(), VariantNum: 1, Body: "Spring is here", ViralScore: 81, IsSelected: true},
		{ID: uuid.New(), VariantNum: 2, Body: "New menu", ViralScore: 64},
	}

	var buf bytes.Buffer
	printJob(&buf, job, runs, contents)

	out := buf.String()
	assert.Contains(t, out, "Promote the spring menu")
	assert.Contains(t, out, "spring menu, cafe")
	assert.Contains(t, out, "812")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "selected")
	assert.Equal(t, 1, strings.Count(out, "selected"))
}

func TestPrintJob_Empty(t *testing.T) {
	var buf bytes.Buffer
	printJob(&buf, &types.Job{ID: uuid.New(), Goal: "g", Status: workflow.StatusPending}, nil, nil)

	assert.Equal(t, 2, strings.Count(buf.String(), "(none)"))
}
