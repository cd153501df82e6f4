package main

import (
	"os/exec"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "submit", "approve", "reject", "migrate", "status", "purge"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestCommands_ArgsValidation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     *cobra.Command
		args    []string
		wantErr bool
	}{
		{"approve needs job and content", approveCmd, []string{"a"}, true},
		{"approve with both ids", approveCmd, []string{"a", "b"}, false},
		{"reject needs a job", rejectCmd, nil, true},
		{"reject with one id", rejectCmd, []string{"a"}, false},
		{"status without job", statusCmd, nil, false},
		{"status with too many ids", statusCmd, []string{"a", "b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Args(tt.cmd, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"6f1c2d3e-0000-4000-8000-000000000001", "6f1c2d3e-0000-4000-8000-000000000002"})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "6f1c2d3e-0000-4000-8000-000000000002", ids[1].String())

	_, err = parseIDs([]string{"not-a-uuid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-uuid")
}

func TestSubmitCommand_FlagsValidation(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		errorString string
	}{
		{
			name:        "Missing --goal flag",
			args:        []string{"submit", "--keyword", "cafe"},
			errorString: "required",
		},
		{
			name:        "Malformed job id",
			args:        []string{"reject", "not-a-uuid"},
			errorString: "invalid id",
		},
		{
			name:        "Approve without content id",
			args:        []string{"approve", "6f1c2d3e-0000-4000-8000-000000000001"},
			errorString: "accepts 2 arg(s)",
		},
	}

	binaryPath := getBinaryPath(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := exec.Command(binaryPath, tt.args...)
			output, err := cmd.CombinedOutput()

			assert.Error(t, err)
			assert.Contains(t, string(output), tt.errorString)
		})
	}
}
