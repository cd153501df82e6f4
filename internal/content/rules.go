// Package content holds the publishing rules for drafted posts: the rule check used by the
// reviewer and the sanitizer applied to every drafted variant.
package content

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/viral-agents/internal/types"
)

// MaxChars is the maximum post length in characters (runes).
const MaxChars = 280

var (
	// hashtagPattern matches a '#' followed by at least one non-space character
	hashtagPattern = regexp.MustCompile(`#\S+`)
	// blankRunPattern matches runs of horizontal whitespace
	blankRunPattern = regexp.MustCompile(`[ \t\f\v\x{00a0}\x{3000}]+`)
	// lineEdgePattern matches horizontal whitespace touching a newline
	lineEdgePattern = regexp.MustCompile(` *\n *`)
	// extraNewlinePattern matches three or more consecutive newlines
	extraNewlinePattern = regexp.MustCompile(`\n{3,}`)
)

// Length returns the post length as counted against MaxChars.
func Length(body string) int {
	return utf8.RuneCountInString(body)
}

// ContainsHashtag reports whether body contains a hashtag.
func ContainsHashtag(body string) bool {
	return hashtagPattern.MatchString(body)
}

// CheckRules returns every rule the body breaks, in a fixed order: length, emoji, hashtag.
func CheckRules(body string) []types.Violation {
	var violations []types.Violation

	if n := Length(body); n > MaxChars {
		violations = append(violations, types.Violation{
			Type:      types.ViolationTooLong,
			Details:   fmt.Sprintf("%d characters, maximum is %d", n, MaxChars),
			CharCount: &n,
		})
	}
	if ContainsEmoji(body) {
		violations = append(violations, types.Violation{
			Type:    types.ViolationEmoji,
			Details: "contains emoji",
		})
	}
	if ContainsHashtag(body) {
		violations = append(violations, types.Violation{
			Type:    types.ViolationHashtag,
			Details: "contains hashtag",
		})
	}
	return violations
}

// Describe renders violations as the reviewer's feedback line.
func Describe(violations []types.Violation) string {
	if len(violations) == 0 {
		return ""
	}
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.Details
	}
	return "rule violations: " + strings.Join(parts, ", ")
}

// Sanitize removes emoji and hashtags, collapses whitespace runs and trims the result.
// Line breaks survive; at most one blank line is kept between paragraphs.
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(body string) string {
	body = strings.Map(func(r rune) rune {
		if IsEmoji(r) {
			return -1
		}
		return r
	}, body)
	body = hashtagPattern.ReplaceAllString(body, "")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	body = blankRunPattern.ReplaceAllString(body, " ")
	body = lineEdgePattern.ReplaceAllString(body, "\n")
	body = extraNewlinePattern.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}
