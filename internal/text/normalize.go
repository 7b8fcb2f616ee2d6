// Package text cleans raw transcript text before chunking and display.
package text

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// [12:34], 1:02:03, [01:02:03]
	timestampRe = regexp.MustCompile(`\[?\d{1,2}:\d{2}(?::\d{2})?\]?`)
	specialRe   = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	// keeps sentence punctuation and apostrophes
	specialKeepPunctRe = regexp.MustCompile(`[^\p{L}\p{N}\s.,!?;:'"\-()]`)
)

// NormalizeWhitespace collapses runs of whitespace, including newlines,
// into single spaces and trims the ends.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// RemoveTimestamps strips timestamp markers such as [12:34] or 01:02:03.
func RemoveTimestamps(s string) string {
	return timestampRe.ReplaceAllString(s, "")
}

// Clean collapses whitespace and optionally strips timestamp markers.
// The result is a single line.
func Clean(s string, removeTimestamps bool) string {
	if removeTimestamps {
		s = RemoveTimestamps(s)
	}
	return NormalizeWhitespace(s)
}

// CleanLines cleans each line independently and drops empty lines,
// keeping line structure so speaker labels still start lines.
// Blank-line paragraph breaks are preserved as a single empty line.
func CleanLines(s string, removeTimestamps bool) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		cleaned := Clean(line, removeTimestamps)
		if cleaned == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, cleaned)
	}
	return strings.Join(out, "\n")
}

// RemoveSpecialCharacters drops symbols, keeping letters, digits and spaces,
// plus common punctuation when keepPunctuation is set.
func RemoveSpecialCharacters(s string, keepPunctuation bool) string {
	if keepPunctuation {
		return specialKeepPunctRe.ReplaceAllString(s, "")
	}
	return specialRe.ReplaceAllString(s, "")
}
