package pipeline

import (
	"regexp"
	"strings"
)

// NoAnswer replaces answers that came back empty after formatting.
const NoAnswer = "No answer available."

var whitespaceRun = regexp.MustCompile(`\s+`)

// FormatAnswer normalizes one answer: whitespace runs collapse to single
// spaces, the result is trimmed and ends with terminal punctuation, and an
// empty answer becomes the placeholder.
func FormatAnswer(answer string) string {
	out := strings.TrimSpace(whitespaceRun.ReplaceAllString(answer, " "))
	if out == "" {
		return NoAnswer
	}
	switch out[len(out)-1] {
	case '.', '!', '?':
	default:
		out += "."
	}
	return out
}

// Format normalizes every answer in place order-preserving.
func Format(answers []string) []string {
	out := make([]string, len(answers))
	for i, a := range answers {
		out[i] = FormatAnswer(a)
	}
	return out
}
