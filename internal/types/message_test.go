//nolint:revive // types is a standard Go package name pattern
package types

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/viral-agents/internal/workflow"
)

func TestDedupKey_Deterministic(t *testing.T) {
	jobID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	key := DedupKey(jobID, workflow.StageDrafter, DefaultGeneration)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000:drafter:1", key)
	assert.Equal(t, key, DedupKey(jobID, workflow.StageDrafter, DefaultGeneration))
	assert.NotEqual(t, key, DedupKey(jobID, workflow.StageReviewer, DefaultGeneration))
	assert.NotEqual(t, key, DedupKey(jobID, workflow.StageDrafter, 2))
}

func TestCreateJobRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		request CreateJobRequest
		wantErr bool
	}{
		{
			name:    "goal only",
			request: CreateJobRequest{Goal: "Grow followers with AI tooling posts"},
		},
		{
			name: "goal with keywords and accounts",
			request: CreateJobRequest{
				Goal:     "Explain vector databases",
				Keywords: []string{"vector db", "pgvector"},
				Accounts: []string{"openai"},
			},
		},
		{
			name:    "missing goal",
			request: CreateJobRequest{},
			wantErr: true,
		},
		{
			name: "too many keywords",
			request: CreateJobRequest{
				Goal:     "x",
				Keywords: strings.Split(strings.Repeat("k,", 21), ",")[:21],
			},
			wantErr: true,
		},
		{
			name: "blank keyword",
			request: CreateJobRequest{
				Goal:     "x",
				Keywords: []string{"ok", ""},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateJobRequest_Normalize(t *testing.T) {
	req := CreateJobRequest{
		Goal:     "  launch week recap  ",
		Keywords: []string{" ai agents ", "", "  "},
		Accounts: []string{"@sama", " karpathy ", "@"},
	}
	req.Normalize()

	assert.Equal(t, "launch week recap", req.Goal)
	assert.Equal(t, []string{"ai agents"}, req.Keywords)
	assert.Equal(t, []string{"sama", "karpathy"}, req.Accounts)

	empty := CreateJobRequest{Goal: "g", Keywords: []string{" "}}
	empty.Normalize()
	assert.Nil(t, empty.Keywords)
	require.NoError(t, empty.Validate())
}

func TestApproveRequest_Validation(t *testing.T) {
	assert.Error(t, (&ApproveRequest{}).Validate())
	assert.NoError(t, (&ApproveRequest{ContentID: uuid.New()}).Validate())
}
