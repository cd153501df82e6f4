package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegram_SendWithActions(t *testing.T) {
	var mu sync.Mutex
	var requests []sendMessageRequest
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req sendMessageRequest
		require.NoError(t, json.Unmarshal(body, &req))
		mu.Lock()
		requests = append(requests, req)
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tg := NewTelegram(TelegramConfig{Token: "abc", ChatIDs: []string{"1", " 2 ", ""}, BaseURL: server.URL}, nil)
	err := tg.SendWithActions(context.Background(), "hello", []Action{{Label: "Approve", URL: "https://x/a"}, {Label: "Reject", URL: "https://x/r"}})
	require.NoError(t, err)

	require.Len(t, requests, 2)
	assert.Equal(t, "/botabc/sendMessage", paths[0])
	assert.Equal(t, "1", requests[0].ChatID)
	assert.Equal(t, "2", requests[1].ChatID)
	assert.Equal(t, "HTML", requests[0].ParseMode)
	require.NotNil(t, requests[0].ReplyMarkup)
	require.Len(t, requests[0].ReplyMarkup.InlineKeyboard, 1)
	assert.Equal(t, "Reject", requests[0].ReplyMarkup.InlineKeyboard[0][1].Text)
}

func TestTelegram_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	tg := NewTelegram(TelegramConfig{Token: "abc", ChatIDs: []string{"1"}, BaseURL: server.URL}, nil)
	err := tg.Send(context.Background(), "hello")
	require.Error(t, err)

	var tgErr *TelegramError
	require.ErrorAs(t, err, &tgErr)
	assert.Equal(t, http.StatusBadRequest, tgErr.StatusCode)
	assert.Contains(t, tgErr.Body, "chat not found")
}

func TestSigner_RoundTrip(t *testing.T) {
	signer, err := NewSigner("secret", 0)
	require.NoError(t, err)

	jobID, contentID := uuid.New(), uuid.New()
	token, err := signer.Sign(jobID, contentID, ActionApprove)
	require.NoError(t, err)

	claims, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, jobID, claims.JobID)
	assert.Equal(t, contentID, claims.ContentID)
	assert.Equal(t, ActionApprove, claims.Action)
	assert.WithinDuration(t, time.Now().Add(DefaultLinkTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestSigner_RejectsBadTokens(t *testing.T) {
	signer, err := NewSigner("secret", time.Hour)
	require.NoError(t, err)
	other, err := NewSigner("other-secret", time.Hour)
	require.NoError(t, err)

	token, err := other.Sign(uuid.New(), uuid.New(), ActionReject)
	require.NoError(t, err)

	_, err = signer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidLink)

	_, err = signer.Parse("")
	assert.ErrorIs(t, err, ErrInvalidLink)

	_, err = signer.Parse("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidLink)

	bogus, err := signer.Sign(uuid.New(), uuid.New(), "publish")
	require.NoError(t, err)
	_, err = signer.Parse(bogus)
	assert.ErrorIs(t, err, ErrInvalidLink)
}

func TestSigner_Expired(t *testing.T) {
	signer, err := NewSigner("secret", time.Hour)
	require.NoError(t, err)
	issued := time.Now().Add(-2 * time.Hour)
	signer.now = func() time.Time { return issued }
	token, err := signer.Sign(uuid.New(), uuid.New(), ActionApprove)
	require.NoError(t, err)

	signer.now = time.Now
	_, err = signer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidLink)
}

func TestSigner_EmptySecret(t *testing.T) {
	_, err := NewSigner("", time.Hour)
	assert.Error(t, err)
}

func TestLinks_Actions(t *testing.T) {
	signer, err := NewSigner("secret", time.Hour)
	require.NoError(t, err)
	links := &Links{BaseURL: "https://viral.example.com/", Signer: signer}

	actions, err := links.Actions(uuid.New(), uuid.New())
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "Approve", actions[0].Label)
	assert.True(t, strings.HasPrefix(actions[0].URL, "https://viral.example.com/api/actions/"))

	token := strings.TrimPrefix(actions[1].URL, "https://viral.example.com/api/actions/")
	claims, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, ActionReject, claims.Action)

	var none *Links
	actions, err = none.Actions(uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestTexts_EscapeHTML(t *testing.T) {
	text := ApprovalText("<goal>", "a & b", 81)
	assert.Contains(t, text, "&lt;goal&gt;")
	assert.Contains(t, text, "a &amp; b")
	assert.Contains(t, text, "81/100")

	assert.Contains(t, FailureText("g", 55, 60), "55 is below 60")
}
