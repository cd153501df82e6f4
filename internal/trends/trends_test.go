package trends

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"

	"github.com/jonathan/viral-agents/internal/fetch"
)

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Tech Headlines</title>
<item><title><![CDATA[AI 에이전트 시장 급성장]]></title></item>
<item><title>GPU prices fall &amp; rise</title></item>
<item><title>Shared story</title></item>
</channel></rss>`

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Frontpage</title>
<entry><title>Shared story</title></entry>
<entry><title>Show HN: a tiny queue</title></entry>
</feed>`

func feedServer(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseTitles_RSS(t *testing.T) {
	titles, err := ParseTitles([]byte(rssFeed))
	require.NoError(t, err)
	assert.Equal(t, []string{"AI 에이전트 시장 급성장", "GPU prices fall & rise", "Shared story"}, titles)
}

func TestParseTitles_Atom(t *testing.T) {
	titles, err := ParseTitles([]byte(atomFeed))
	require.NoError(t, err)
	assert.Equal(t, []string{"Shared story", "Show HN: a tiny queue"}, titles)
}

func TestParseTitles_EUCKR(t *testing.T) {
	doc := `<?xml version="1.0" encoding="EUC-KR"?><rss><channel><title>c</title><item><title>반도체 수출</title></item></channel></rss>`
	encoded, err := korean.EUCKR.NewEncoder().String(doc)
	require.NoError(t, err)

	titles, err := ParseTitles([]byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, []string{"반도체 수출"}, titles)
}

func TestParseTitles_Garbage(t *testing.T) {
	_, err := ParseTitles([]byte("not xml at all"))
	assert.Error(t, err)
}

func TestReader_MergesInSourceOrder(t *testing.T) {
	srv := feedServer(t, map[string]string{"/rss": rssFeed, "/atom": atomFeed})
	reader := NewReader(fetch.New(nil), []Source{
		{Name: "rss", URL: srv.URL + "/rss"},
		{Name: "atom", URL: srv.URL + "/atom"},
	}, nil)

	titles, err := reader.Trending(context.Background(), 15)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"AI 에이전트 시장 급성장",
		"GPU prices fall & rise",
		"Shared story",
		"Show HN: a tiny queue",
	}, titles)
}

func TestReader_ToleratesOneFailingSource(t *testing.T) {
	srv := feedServer(t, map[string]string{"/atom": atomFeed})
	reader := NewReader(nil, []Source{
		{Name: "down", URL: srv.URL + "/down"},
		{Name: "atom", URL: srv.URL + "/atom"},
	}, nil)

	titles, err := reader.Trending(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, []string{"Shared story"}, titles)
}

func TestReader_AllSourcesFail(t *testing.T) {
	srv := feedServer(t, nil)
	reader := NewReader(nil, []Source{{Name: "a", URL: srv.URL + "/a"}, {Name: "b", URL: srv.URL + "/b"}}, nil)

	_, err := reader.Trending(context.Background(), 5)

	assert.ErrorIs(t, err, ErrNoSources)
}

func TestDedup(t *testing.T) {
	in := []string{"a", "b", "a", "c", "b", "d"}
	assert.Equal(t, []string{"a", "b", "c"}, Dedup(in, 3))
	assert.Equal(t, []string{"a", "b", "c", "d"}, Dedup(in, 10))
	assert.Empty(t, Dedup(nil, 5))
}
