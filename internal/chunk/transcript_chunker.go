package chunk

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Host:, Guest:, Speaker 2:, Interviewer: at line start, any case.
	speakerPattern = regexp.MustCompile(`(?i)^(Host|Guest|Speaker \d+|Interviewer):`)

	paragraphBreakPattern = regexp.MustCompile(`\n\s*\n`)
)

// minSpeakerBlocks is the fewest speaker blocks accepted before falling back
// to paragraph splitting.
const minSpeakerBlocks = 3

// TranscriptChunker implements speaker-aware transcript chunking.
// It is stateless and safe for concurrent use.
type TranscriptChunker struct {
	options Options
}

// NewTranscriptChunker creates a chunker with default options.
func NewTranscriptChunker() *TranscriptChunker {
	return NewTranscriptChunkerWithOptions(Options{})
}

// NewTranscriptChunkerWithOptions creates a chunker with custom options.
// A zero MaxTokens selects the default; a negative OverlapTokens disables overlap.
func NewTranscriptChunkerWithOptions(opts Options) *TranscriptChunker {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}
	return &TranscriptChunker{options: opts}
}

// Options returns the effective options.
func (c *TranscriptChunker) Options() Options {
	return c.options
}

// OverlapWords is the number of trailing words carried into the next chunk:
// int(overlap_tokens / 1.3). Overlaps below two tokens carry nothing.
func (c *TranscriptChunker) OverlapWords() int {
	return int(float64(c.options.OverlapTokens) / TokensPerWord)
}

// Chunk splits a transcript into ordered passages.
//
// Blocks start at speaker labels. With fewer than three blocks the transcript
// is split on blank lines instead. Blocks accumulate until the next one would
// push the estimate over MaxTokens; the buffer is then emitted and the next
// buffer is seeded with the trailing OverlapWords words of the emitted chunk.
// A single block larger than MaxTokens is emitted whole, without overlap.
func (c *TranscriptChunker) Chunk(text string) []Chunk {
	blocks := speakerBlocks(text)
	if len(blocks) < minSpeakerBlocks {
		blocks = paragraphBlocks(text)
	}
	if len(blocks) == 0 {
		return nil
	}

	overlapWords := c.OverlapWords()

	var (
		chunks []Chunk
		buffer []string
		// words is the word count of the buffer; estimating from the total
		// keeps the estimate of the joined chunk within MaxTokens.
		words int
		// fresh counts blocks in the buffer that are not carried overlap.
		fresh int
	)
	emit := func() {
		chunks = append(chunks, Chunk{
			Text:     strings.Join(buffer, " "),
			Position: len(chunks),
		})
	}

	for _, block := range blocks {
		blockWords := len(fields(block))

		if estimateWords(words+blockWords) > c.options.MaxTokens && len(buffer) > 0 {
			if fresh > 0 {
				emit()
				buffer = tail(fields(strings.Join(buffer, " ")), overlapWords)
				words = len(buffer)
				fresh = 0
			}
			// Carried words that cannot sit beside this block are dropped
			// rather than emitted alone as a repeat of the previous chunk.
			if estimateWords(words+blockWords) > c.options.MaxTokens {
				buffer = nil
				words = 0
			}
		}

		buffer = append(buffer, block)
		words += blockWords
		fresh++
	}

	if fresh > 0 {
		emit()
	}
	return chunks
}

// speakerBlocks groups non-empty trimmed lines into blocks that start at
// speaker labels. Lines before the first label form their own block.
func speakerBlocks(text string) []string {
	var blocks []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, " "))
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if speakerPattern.MatchString(line) {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

// paragraphBlocks splits on blank lines, trimming each paragraph.
func paragraphBlocks(text string) []string {
	var blocks []string
	for _, p := range paragraphBreakPattern.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			blocks = append(blocks, p)
		}
	}
	return blocks
}

func fields(s string) []string {
	return strings.FieldsFunc(s, unicode.IsSpace)
}

// tail returns a copy of the last n words, or nil when n <= 0.
func tail(words []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if n > len(words) {
		n = len(words)
	}
	return append([]string(nil), words[len(words)-n:]...)
}
