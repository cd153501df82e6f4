package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/viral-agents/internal/throttle"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{Endpoint: srv.URL, APIKey: "secret", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func TestCollect_WebSearch(t *testing.T) {
	var got scrapeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"organic_results":[{"title":"AI <b>agents</b>","snippet":"big","link":"https://a"},{"title":"GPU","description":"cheap","url":"https://b"}]}`)
	})

	res, err := c.Collect(context.Background(), "ai agents", ModeWebSearch)

	require.NoError(t, err)
	assert.Equal(t, "HTML", got.ScrapeType)
	assert.Contains(t, got.URL, "q=ai+agents")
	assert.Equal(t, int64(5000), got.TimeoutMs)
	assert.Equal(t, KindSearch, res.Kind)
	assert.Equal(t, []SearchItem{
		{Title: "AI agents", Snippet: "big", Link: "https://a"},
		{Title: "GPU", Snippet: "cheap", Link: "https://b"},
	}, res.Search)
	assert.Equal(t, 2.0, res.Engagement())
}

func TestCollect_ProfileTimeline(t *testing.T) {
	var got scrapeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"tweets":[{"content":"hello","favorite_count":10,"retweet_count":"5"},{"text":"again","likes":2,"retweets":1,"replies":4}]}`)
	})

	res, err := c.Collect(context.Background(), "@golang", ModeProfileTimeline)

	require.NoError(t, err)
	assert.Equal(t, "TWITTER_PROFILE", got.ScrapeType)
	assert.Equal(t, "https://twitter.com/golang", got.URL)
	assert.Equal(t, MaxPosts, got.PostCount)
	assert.Equal(t, KindSocial, res.Kind)
	require.Len(t, res.Posts, 2)
	assert.Equal(t, Post{Text: "hello", Likes: 10, Retweets: 5}, res.Posts[0])
	// (10 + 2*5 + 2 + 2*1) / 2
	assert.Equal(t, 12.0, res.Engagement())
}

func TestCollect_Throttled(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{"reset given", `{"data":{"resetIn":4300}}`, 7 * time.Second},
		{"reset missing", `{}`, 12 * time.Second},
		{"not json", `slow down`, 12 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, tt.body)
			})

			_, err := c.Collect(context.Background(), "q", ModeWebSearch)

			delay, ok := throttle.RetryAfter(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, delay)
			assert.True(t, IsTransient(err))
		})
	}
}

func TestCollect_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprint(w, "no such profile")
	})

	_, err := c.Collect(context.Background(), "ghost", ModeProfileTimeline)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.False(t, throttle.Is(err))
	assert.False(t, IsTransient(err))
}

func TestCollect_ServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Collect(context.Background(), "q", ModeWebSearch)

	assert.True(t, IsTransient(err))
}

func TestCollect_RejectsBadInput(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(_ http.ResponseWriter, _ *http.Request) { calls.Add(1) })

	_, err := c.Collect(context.Background(), "  ", ModeWebSearch)
	assert.Error(t, err)
	_, err = c.Collect(context.Background(), "x", Mode("carrier_pigeon"))
	assert.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestCollect_SpacesCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, `{"results":[]}`)
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{Endpoint: srv.URL, MinSpacing: 100 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	for range 3 {
		_, err := c.Collect(context.Background(), "q", ModeWebSearch)
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)
}

func TestCollect_LimiterHonorsContext(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "http://127.0.0.1:1", MinSpacing: time.Hour})
	require.NoError(t, err)
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Collect(ctx, "q", ModeWebSearch)

	assert.Error(t, err)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
	_, err = NewClient(Config{Endpoint: "not a url"})
	assert.Error(t, err)
}
