package collect

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/viral-agents/internal/fetch"
)

// ParseSearch extracts up to MaxSearchItems hits from a web search payload.
// Structured result lists win; otherwise an embedded HTML page is scraped.
func ParseSearch(body []byte) (*Result, error) {
	var raw rawSearch
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode search payload: %w", err)
	}

	res := &Result{Kind: KindSearch, Search: []SearchItem{}}
	list := raw.OrganicResults
	if len(list) == 0 {
		list = raw.Results
	}
	for _, it := range list {
		if len(res.Search) == MaxSearchItems {
			break
		}
		res.Search = append(res.Search, SearchItem{
			Title:   fetch.PlainText(it.Title),
			Snippet: fetch.PlainText(firstNonEmpty(it.Snippet, it.Description)),
			Link:    firstNonEmpty(it.Link, it.URL),
		})
	}
	if len(res.Search) > 0 {
		return res, nil
	}

	if page := firstNonEmpty(raw.HTML, raw.Content); page != "" {
		items, err := ExtractSearchHTML(page)
		if err != nil {
			return nil, err
		}
		res.Search = items
	}
	return res, nil
}

// ParseSocial extracts up to MaxPosts posts from a profile timeline payload.
func ParseSocial(body []byte) (*Result, error) {
	var raw rawSocial
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode timeline payload: %w", err)
	}

	list := raw.Posts
	if len(list) == 0 {
		list = raw.Tweets
	}
	res := &Result{Kind: KindSocial, Posts: make([]Post, 0, min(len(list), MaxPosts))}
	for _, p := range list {
		if len(res.Posts) == MaxPosts {
			break
		}
		res.Posts = append(res.Posts, Post{
			Text:     firstNonEmpty(p.Text, p.Content),
			Likes:    firstNonZero(p.Likes, p.FavoriteCount),
			Retweets: firstNonZero(p.Retweets, p.RetweetCount),
			Replies:  firstNonZero(p.Replies, p.ReplyCount),
		})
	}
	return res, nil
}

// ExtractSearchHTML scrapes result links from a rendered search page. A hit is an anchor
// that contains a heading; the snippet is the remaining text of the anchor's result block.
func ExtractSearchHTML(page string) ([]SearchItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	items := []SearchItem{}
	seen := map[string]bool{}
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		heading := a.Find("h3, [role='heading']").First()
		if heading.Length() == 0 {
			return true
		}
		title := fetch.PlainText(heading.Text())
		link := resultLink(a.AttrOr("href", ""))
		if title == "" || link == "" || seen[link] {
			return true
		}
		seen[link] = true

		block := a.Closest("div[data-hveid], div.g, article, li")
		snippet := ""
		if block.Length() > 0 {
			snippet = strings.TrimSpace(strings.Replace(fetch.PlainText(block.Text()), title, "", 1))
		}

		items = append(items, SearchItem{Title: title, Snippet: snippet, Link: link})
		return len(items) < MaxSearchItems
	})
	return items, nil
}

// resultLink unwraps redirect links of the form /url?q=<target>.
func resultLink(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.Path == "/url" {
		if q := u.Query().Get("q"); q != "" {
			return q
		}
		if q := u.Query().Get("url"); q != "" {
			return q
		}
	}
	if !u.IsAbs() {
		return ""
	}
	return href
}
