package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	model  string
	tier   string
	tokens int
	err    error
}

type fakeRecorder struct {
	calls []recordedCall
}

func (f *fakeRecorder) ObserveGeneration(model, tier string, tokens int, _ time.Duration, err error) {
	f.calls = append(f.calls, recordedCall{model: model, tier: tier, tokens: tokens, err: err})
}

func TestInstrumentedClient_RecordsEachCall(t *testing.T) {
	rec := &fakeRecorder{}
	inner := &stubClient{text: `{}`, tokens: 42}
	client := NewInstrumentedClient(inner, rec)

	_, err := client.Generate(context.Background(), "p", "", TierAdvanced)
	require.NoError(t, err)
	_, err = client.GenerateJSON(context.Background(), "p", "", TierLite)
	require.NoError(t, err)

	require.Len(t, rec.calls, 2)
	assert.Equal(t, recordedCall{model: "stub-model", tier: "advanced", tokens: 42}, rec.calls[0])
	assert.Equal(t, "lite", rec.calls[1].tier)
}

func TestInstrumentedClient_RecordsFailure(t *testing.T) {
	rec := &fakeRecorder{}
	boom := errors.New("boom")
	client := NewInstrumentedClient(&stubClient{err: boom}, rec)

	_, err := client.Generate(context.Background(), "p", "", TierStandard)

	assert.ErrorIs(t, err, boom)
	require.Len(t, rec.calls, 1)
	assert.Zero(t, rec.calls[0].tokens)
	assert.ErrorIs(t, rec.calls[0].err, boom)
}

func TestNewInstrumentedClient_NilRecorder(t *testing.T) {
	inner := &stubClient{}
	assert.Same(t, Client(inner), NewInstrumentedClient(inner, nil))
}
