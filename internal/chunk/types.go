// Package chunk splits podcast transcripts into overlapping, token-bounded
// passages and extracts guest names from episode titles.
package chunk

import "fmt"

// Chunk size defaults.
const (
	DefaultMaxTokens     = 240
	DefaultOverlapTokens = 40

	// TokensPerWord approximates tokens from whitespace-separated words.
	// It is an estimate only; no tokenizer is consulted, so counts can
	// differ from what a model's tokenizer reports.
	TokensPerWord = 1.3
)

// Chunk is one passage of a transcript.
type Chunk struct {
	// Text is the passage text.
	Text string

	// Timestamp labels where the passage starts in the recording.
	// Nil until timestamp extraction exists upstream.
	Timestamp *string

	// Position is the zero-based ordinal within the episode.
	Position int
}

// Options configures the transcript chunker.
type Options struct {
	MaxTokens     int // Upper bound on estimated tokens per chunk (default: DefaultMaxTokens)
	OverlapTokens int // Tokens carried from the end of one chunk into the next (default: DefaultOverlapTokens)
}

// EstimateTokens approximates the token count of s as int(words * 1.3).
func EstimateTokens(s string) int {
	return estimateWords(len(fields(s)))
}

func estimateWords(words int) int {
	return int(float64(words) * TokensPerWord)
}

// ChunkID derives the deterministic store identifier of a chunk.
func ChunkID(episodeID string, position int) string {
	return fmt.Sprintf("%s_chunk_%d", episodeID, position)
}
