// Package trends reads today's trending headlines from public RSS feeds.
// The planner uses them as hints when choosing search keywords.
package trends

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/jonathan/viral-agents/internal/fetch"
	"github.com/jonathan/viral-agents/internal/logging"
)

// DefaultLimit caps the merged headline list.
const DefaultLimit = 15

// DefaultPerSource caps how many headlines one feed contributes.
const DefaultPerSource = 10

// Source is one RSS or Atom feed.
type Source struct {
	Name string
	URL  string
}

// DefaultSources returns the built-in feeds: Korean IT news and global tech.
func DefaultSources() []Source {
	return []Source{
		{Name: "ZDNet Korea", URL: "https://feeds.feedburner.com/zdkorea"},
		{Name: "Hacker News", URL: "https://hnrss.org/frontpage"},
	}
}

// ErrNoSources is returned when every feed failed.
var ErrNoSources = errors.New("no trending source available")

// Reader fetches all sources concurrently and merges their headlines.
type Reader struct {
	fetcher   *fetch.Fetcher
	sources   []Source
	perSource int
	logger    *zap.SugaredLogger
}

// NewReader creates a Reader. Empty sources use DefaultSources.
func NewReader(fetcher *fetch.Fetcher, sources []Source, logger *zap.SugaredLogger) *Reader {
	if fetcher == nil {
		fetcher = fetch.New(nil)
	}
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	return &Reader{
		fetcher:   fetcher,
		sources:   sources,
		perSource: DefaultPerSource,
		logger:    logging.OrNop(logger),
	}
}

// Trending returns up to limit distinct headlines in source order.
// A failing source is logged and skipped; only when all fail is an error returned.
func (r *Reader) Trending(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	results := make([][]string, len(r.sources))
	failures := make([]error, len(r.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range r.sources {
		g.Go(func() error {
			titles, err := r.fetchSource(gctx, src)
			if err != nil {
				r.logger.Warnw("trending source failed", "source", src.Name, "error", err)
				failures[i] = err
				return nil
			}
			results[i] = titles
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ok := false
	for _, err := range failures {
		if err == nil {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrNoSources, errors.Join(failures...))
	}

	var all []string
	for _, titles := range results {
		all = append(all, titles...)
	}
	return Dedup(all, limit), nil
}

func (r *Reader) fetchSource(ctx context.Context, src Source) ([]string, error) {
	res, err := r.fetcher.Get(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	titles, err := ParseTitles(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.Name, err)
	}
	if len(titles) > r.perSource {
		titles = titles[:r.perSource]
	}
	return titles, nil
}

type feedDoc struct {
	XMLName xml.Name
	Channel struct {
		Items []feedEntry `xml:"item"`
	} `xml:"channel"`
	// RSS 1.0 puts items beside the channel
	Items   []feedEntry `xml:"item"`
	Entries []feedEntry `xml:"entry"`
}

type feedEntry struct {
	Title string `xml:"title"`
}

// ParseTitles extracts item titles from an RSS 2.0, RSS 1.0 or Atom document.
// The feed's own title is not included.
func ParseTitles(body []byte) ([]string, error) {
	var doc feedDoc
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	entries := doc.Channel.Items
	entries = append(entries, doc.Items...)
	entries = append(entries, doc.Entries...)

	titles := make([]string, 0, len(entries))
	for _, e := range entries {
		if t := fetch.PlainText(e.Title); t != "" {
			titles = append(titles, t)
		}
	}
	return titles, nil
}

// Dedup removes exact duplicates keeping first occurrences, then caps at limit.
func Dedup(titles []string, limit int) []string {
	seen := make(map[string]struct{}, len(titles))
	out := make([]string, 0, min(len(titles), limit))
	for _, t := range titles {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}

// charsetReader decodes feeds declared in legacy encodings such as EUC-KR.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}
