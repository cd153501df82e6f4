package collect

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathan/viral-agents/internal/types"
)

// Item caps per result.
const (
	MaxSearchItems = 10
	MaxPosts       = 20
)

// Kind discriminates the Result union.
type Kind string

// Result kinds. They match types.TrendSource values.
const (
	KindSearch Kind = "search"
	KindSocial Kind = "social"
)

// SearchItem is one web search hit.
type SearchItem struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// Post is one social post with its counters.
type Post struct {
	Text     string `json:"text"`
	Likes    int    `json:"likes"`
	Retweets int    `json:"retweets"`
	Replies  int    `json:"replies"`
}

// Result is a tagged union: Search is set for KindSearch, Posts for KindSocial.
type Result struct {
	Kind   Kind
	Search []SearchItem
	Posts  []Post
}

// Len returns the number of items in the active variant.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	switch r.Kind {
	case KindSearch:
		return len(r.Search)
	case KindSocial:
		return len(r.Posts)
	}
	return 0
}

// Engagement scores a result. Search results score their item count; social results
// score the mean of likes + 2*retweets per post.
func (r *Result) Engagement() float64 {
	if r == nil {
		return 0
	}
	switch r.Kind {
	case KindSearch:
		return float64(len(r.Search))
	case KindSocial:
		if len(r.Posts) == 0 {
			return 0
		}
		total := 0
		for _, p := range r.Posts {
			total += p.Likes + 2*p.Retweets
		}
		return float64(total) / float64(len(r.Posts))
	}
	return 0
}

// Source maps the result kind to the persisted trend source.
func (r *Result) Source() types.TrendSource {
	return types.TrendSource(r.Kind)
}

type storedSearch struct {
	Items []SearchItem `json:"items"`
}

type storedSocial struct {
	Posts []Post `json:"posts"`
}

// MarshalItems encodes the active variant for the trend items column.
func (r *Result) MarshalItems() (json.RawMessage, error) {
	switch r.Kind {
	case KindSearch:
		return json.Marshal(storedSearch{Items: nonNil(r.Search)})
	case KindSocial:
		return json.Marshal(storedSocial{Posts: nonNil(r.Posts)})
	}
	return nil, fmt.Errorf("unknown result kind %q", r.Kind)
}

// DecodeItems rebuilds a Result from a stored trend row.
func DecodeItems(source types.TrendSource, raw json.RawMessage) (*Result, error) {
	res := &Result{Kind: Kind(source)}
	if len(raw) == 0 || string(raw) == "null" {
		return res, nil
	}
	switch res.Kind {
	case KindSearch:
		var s storedSearch
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode search items: %w", err)
		}
		res.Search = s.Items
	case KindSocial:
		var s storedSocial
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode social posts: %w", err)
		}
		res.Posts = s.Posts
	default:
		return nil, fmt.Errorf("unknown trend source %q", source)
	}
	return res, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// rawSearch and rawSocial mirror the loosely specified service payloads.
// Field names vary between scrapers so several aliases are accepted.
type rawSearch struct {
	OrganicResults []rawSearchItem `json:"organic_results"`
	Results        []rawSearchItem `json:"results"`
	HTML           string          `json:"html"`
	Content        string          `json:"content"`
}

type rawSearchItem struct {
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	Description string `json:"description"`
	Link        string `json:"link"`
	URL         string `json:"url"`
}

type rawSocial struct {
	Posts  []rawPost `json:"posts"`
	Tweets []rawPost `json:"tweets"`
}

type rawPost struct {
	Text          string  `json:"text"`
	Content       string  `json:"content"`
	Likes         flexInt `json:"likes"`
	FavoriteCount flexInt `json:"favorite_count"`
	Retweets      flexInt `json:"retweets"`
	RetweetCount  flexInt `json:"retweet_count"`
	Replies       flexInt `json:"replies"`
	ReplyCount    flexInt `json:"reply_count"`
}

// flexInt accepts numbers, numeric strings and null.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	s = strings.ReplaceAll(s, ",", "")
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Abbreviated counters such as "1.2K" are not worth failing the whole result over.
		*f = 0
		return nil
	}
	*f = flexInt(v)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...flexInt) int {
	for _, v := range values {
		if v != 0 {
			return int(v)
		}
	}
	return 0
}
