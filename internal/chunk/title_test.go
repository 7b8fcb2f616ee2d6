package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractGuest(t *testing.T) {
	tests := []struct {
		title string
		guest string
		found bool
	}{
		{"AI and the Future with Jane Smith", "Jane Smith", true},
		{"Building Startups ft. John Doe", "John Doe", true},
		{"Building Startups ft John Doe", "John Doe", true},
		{"Live Show featuring Mary Ann Jones", "Mary Ann Jones", true},
		{"Jane Smith on Climate Policy", "Jane Smith", true},
		{"Episode 12 | Alan Turing", "Alan Turing", true},
		{"Episode 12 - Grace Hopper", "Grace Hopper", true},
		{"Chatting WITH Ada Lovelace", "Ada Lovelace", true},
		{"Quarterly Update", "", false},
		{"Dinner with friends and family", "", false},
		{"Talking with Madonna", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			title, guest, ok := ExtractGuest(tt.title)
			assert.Equal(t, tt.title, title)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.guest, guest)
		})
	}
}

func TestExtractGuest_FirstPatternWins(t *testing.T) {
	// Given: a title matching both the "on" and "with" heuristics
	_, guest, ok := ExtractGuest("Jane Smith on Policy with Bob Jones")

	// Then: "with" is tried first
	assert.True(t, ok)
	assert.Equal(t, "Bob Jones", guest)
}
