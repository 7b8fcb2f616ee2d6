package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		timestamps bool
		want       string
	}{
		{"collapses whitespace", "  Host:   welcome\n\n back\t ", false, "Host: welcome back"},
		{"keeps timestamps by default", "[00:12] hello", false, "[00:12] hello"},
		{"strips bracketed timestamps", "[00:12] hello [1:02:03] world", true, "hello world"},
		{"strips bare timestamps", "at 12:30 we spoke", true, "at we spoke"},
		{"empty", "   ", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in, tt.timestamps))
		})
	}
}

func TestCleanLines_PreservesSpeakerLinesAndParagraphs(t *testing.T) {
	// Given: a transcript with timestamps, stray spacing and blank lines
	in := "[00:01] Host:  Welcome to the show.\r\n  \n\n[00:05] Guest: Thanks   for having me.\nIt is great.\n\n"

	// When: cleaning line by line
	got := CleanLines(in, true)

	// Then: lines survive, one blank separator is kept, trailing blanks dropped
	assert.Equal(t, "Host: Welcome to the show.\n\nGuest: Thanks for having me.\nIt is great.", got)
}

func TestRemoveSpecialCharacters(t *testing.T) {
	in := "AI's future™ © costs $5, really?"

	assert.Equal(t, "AIs future  costs 5 really", RemoveSpecialCharacters(in, false))
	assert.Equal(t, "AI's future  costs 5, really?", RemoveSpecialCharacters(in, true))
}
