package llm

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/jonathan/viral-agents/internal/throttle"
)

func TestClassifyError_RESTQuotaWithRetryDelay(t *testing.T) {
	err := &googleapi.Error{
		Code: http.StatusTooManyRequests,
		Body: `{"error":{"code":429,"details":[{"@type":"type.googleapis.com/google.rpc.QuotaFailure"},{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`,
	}

	got := classifyError("gemini-2.0-flash", fmt.Errorf("generate: %w", err))

	delay, ok := throttle.RetryAfter(got)
	require.True(t, ok)
	assert.Equal(t, 35*time.Second, delay)
}

func TestClassifyError_RESTQuotaWithoutDelay(t *testing.T) {
	err := &googleapi.Error{Code: http.StatusTooManyRequests, Body: `{"error":{"code":429}}`}

	delay, ok := throttle.RetryAfter(classifyError("m", err))
	require.True(t, ok)
	assert.Equal(t, DefaultRetryAfter, delay)
}

func TestClassifyError_GRPCResourceExhausted(t *testing.T) {
	st, err := status.New(codes.ResourceExhausted, "quota exceeded").
		WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(12 * time.Second)})
	require.NoError(t, err)
	apiErr, ok := apierror.FromError(st.Err())
	require.True(t, ok)

	delay, ok := throttle.RetryAfter(classifyError("m", apiErr))
	require.True(t, ok)
	assert.Equal(t, 17*time.Second, delay)
}

func TestClassifyError_OtherFailure(t *testing.T) {
	cause := &googleapi.Error{Code: http.StatusInternalServerError, Message: "backend"}

	got := classifyError("gemini-2.0-flash", cause)

	assert.False(t, throttle.Is(got))
	var apiErr *APIError
	require.True(t, errors.As(got, &apiErr))
	assert.Equal(t, "gemini-2.0-flash", apiErr.Model)
	assert.ErrorIs(t, got, cause)
}

func TestRetryDelayFromBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{"empty", "", 0},
		{"not json", "<html>", 0},
		{"fractional", `{"error":{"details":[{"retryDelay":"1.5s"}]}}`, 1500 * time.Millisecond},
		{"first usable wins", `{"error":{"details":[{"retryDelay":"soon"},{"retryDelay":"8s"}]}}`, 8 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryDelayFromBody(tt.body))
		})
	}
}

func TestNewClient_UnsupportedProvider(t *testing.T) {
	_, err := NewClient(t.Context(), &Config{Provider: "other"}, "key")
	assert.Error(t, err)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(t.Context(), DefaultConfig(), "")
	assert.Error(t, err)
}
