// Package llm - util.go provides shared utilities for LLM response processing.
package llm

import "strings"

// CleanJSONBlock strips markdown fences and surrounding prose from a JSON response.
// Models often wrap JSON in ```json ... ``` blocks or add a sentence before it even when
// told not to. The fence may appear anywhere in the text.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if inner, ok := fencedBlock(text); ok {
		text = inner
	}

	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		if balanced := extractBalanced(text); balanced != "" {
			return balanced
		}
		return text
	}

	// Preamble before the payload: take whichever structure starts first.
	obj := strings.Index(text, "{")
	arr := strings.Index(text, "[")
	start := obj
	if start < 0 || (arr >= 0 && arr < start) {
		start = arr
	}
	if start < 0 {
		return text
	}
	if balanced := extractBalanced(text[start:]); balanced != "" {
		return balanced
	}
	return text
}

// fencedBlock returns the contents of the first ``` fenced block in text.
func fencedBlock(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	rest := text[open+3:]

	// Skip a language identifier on the opening line
	if idx := strings.Index(rest, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(rest[:idx])
		if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.ContainsAny(firstLine, "{[") {
			rest = rest[idx+1:]
		}
	} else {
		rest = strings.TrimPrefix(rest, "json")
	}

	closing := strings.Index(rest, "```")
	if closing < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:closing]), true
}

// extractBalanced returns the leading JSON object or array of text, honoring strings and
// escapes. It returns "" when text does not start with a complete structure.
func extractBalanced(text string) string {
	if text == "" {
		return ""
	}
	var openCh, closeCh byte
	switch text[0] {
	case '{':
		openCh, closeCh = '{', '}'
	case '[':
		openCh, closeCh = '[', ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}
	return ""
}
