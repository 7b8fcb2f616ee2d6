// Package prompt turns retrieved chunks into the context block and the
// answer prompt sent to a generation backend.
package prompt

import (
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/podrag/internal/search"
)

const (
	// DefaultMaxChars is the per-chunk character budget.
	DefaultMaxChars = 800

	// TruncationMarker is appended to chunk text cut at the budget.
	TruncationMarker = "... [truncated]"

	recordTerminator = "---"
	recordSeparator  = "\n\n"
)

// Assembler renders hits into one context block.
type Assembler struct {
	// MaxChars bounds each chunk's text, counted in characters.
	// Zero or negative uses DefaultMaxChars.
	MaxChars int
}

// NewAssembler creates an Assembler with the given budget.
func NewAssembler(maxChars int) *Assembler {
	return &Assembler{MaxChars: maxChars}
}

func (a *Assembler) budget() int {
	if a == nil || a.MaxChars <= 0 {
		return DefaultMaxChars
	}
	return a.MaxChars
}

// Assemble renders each hit as a fixed-format record, in input order:
//
//	EPISODE: <title>
//	PODCAST: <podcast> - Host: <host>[ with <guest>]
//	DATE: <date>[ [<timestamp>]]
//	URL: <url>
//	TRANSCRIPT:
//	<chunk text>
//	---
//
// Records are separated by a blank line.
func (a *Assembler) Assemble(hits []search.SearchHit) string {
	budget := a.budget()
	records := make([]string, 0, len(hits))
	for _, h := range hits {
		records = append(records, renderRecord(h, budget))
	}
	return strings.Join(records, recordSeparator)
}

func renderRecord(h search.SearchHit, budget int) string {
	c := h.Chunk
	var sb strings.Builder

	sb.WriteString("EPISODE: ")
	sb.WriteString(c.Title)
	sb.WriteString("\nPODCAST: ")
	sb.WriteString(c.PodcastName)
	sb.WriteString(" - Host: ")
	sb.WriteString(c.Host)
	if c.Guest != "" {
		sb.WriteString(" with ")
		sb.WriteString(c.Guest)
	}
	sb.WriteString("\nDATE: ")
	sb.WriteString(c.Date)
	if c.Timestamp != nil && *c.Timestamp != "" {
		sb.WriteString(" [")
		sb.WriteString(*c.Timestamp)
		sb.WriteString("]")
	}
	sb.WriteString("\nURL: ")
	sb.WriteString(c.URL)
	sb.WriteString("\nTRANSCRIPT:\n")
	sb.WriteString(Truncate(c.ChunkText, budget))
	sb.WriteString("\n")
	sb.WriteString(recordTerminator)
	return sb.String()
}

// Truncate cuts text longer than maxChars characters at the last word
// boundary within the budget and appends TruncationMarker. Text with no space in
// the budget is cut at exactly maxChars. Shorter text is returned as is.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	end, n := len(text), 0
	for i := range text {
		if n == maxChars {
			end = i
			break
		}
		n++
	}
	head := text[:end]
	if text[end] == ' ' {
		return head + TruncationMarker
	}
	if idx := strings.LastIndex(head, " "); idx > 0 {
		head = head[:idx]
	}
	return head + TruncationMarker
}
