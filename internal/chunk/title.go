package chunk

import (
	"regexp"
	"strings"
)

// A name is two or more capitalized words. Keywords match in any case,
// names do not, so "with lots of people" is not a guest.
const namePattern = `([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)`

// guestPatterns are tried in order; the first match wins.
var guestPatterns = []*regexp.Regexp{
	// "AI and the Future with Jane Smith"
	regexp.MustCompile(`\b(?i:with)\s+` + namePattern),
	// "Building Startups ft. John Doe", "... featuring John Doe"
	regexp.MustCompile(`\b(?i:ft\.?|featuring)\s+` + namePattern),
	// "Jane Smith on Climate Policy"
	regexp.MustCompile(`^` + namePattern + `\s+(?i:on)\s+`),
	// "Episode 12 | Jane Smith", "Episode 12 - Jane Smith"
	regexp.MustCompile(`[|\-]\s*` + namePattern + `\s*$`),
}

// ExtractGuest returns the title unchanged and a best-effort guest name.
// ok is false when no heuristic matched.
func ExtractGuest(title string) (string, string, bool) {
	for _, re := range guestPatterns {
		if m := re.FindStringSubmatch(title); m != nil {
			return title, strings.TrimSpace(m[1]), true
		}
	}
	return title, "", false
}
