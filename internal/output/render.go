package output

import (
	"fmt"

	"github.com/Aman-CERP/podrag/internal/ingest"
	"github.com/Aman-CERP/podrag/internal/rag"
	"github.com/Aman-CERP/podrag/internal/search"
)

// Answer prints a generated answer followed by its sources.
func (w *Writer) Answer(a rag.Answer) {
	w.Header("Answer")
	_, _ = fmt.Fprintln(w.out, w.styles.Panel.Render(a.Text))
	if !a.Found() {
		return
	}
	w.Newline()
	model := a.Generation.Description()
	if a.Reranked {
		model += ", reranked"
	}
	_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render("model: "+model))
	w.Newline()
	w.Hits(a.Hits)
}

// Hits prints ranked passages as a numbered source list.
func (w *Writer) Hits(hits []search.SearchHit) {
	if len(hits) == 0 {
		w.Warning("No matching passages")
		return
	}
	w.Header(fmt.Sprintf("Sources (%d)", len(hits)))
	for i, h := range hits {
		c := h.Chunk
		score := fmt.Sprintf("%.3f", h.Score)
		if h.RerankScore != nil {
			score += fmt.Sprintf(" / rerank %.3f", *h.RerankScore)
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s %s\n", i+1, c.Title, w.styles.Score.Render("["+score+"]"))
		meta := c.PodcastName
		if c.Guest != "" {
			meta += " | guest: " + c.Guest
		}
		if c.Date != "" {
			meta += " | " + c.Date
		}
		_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.Label.Render(meta))
		_, _ = fmt.Fprintf(w.out, "    %s\n", snippet(c.ChunkText, 160))
	}
}

// Stats prints index statistics.
func (w *Writer) Stats(s rag.Stats) {
	w.Header("Index " + s.Index)
	w.Field("chunks", s.TotalChunks)
	w.Field("episodes", s.UniqueEpisodes)
	w.Field("podcasts", s.UniquePodcasts)
}

// IngestReport prints the outcome of an ingestion run.
func (w *Writer) IngestReport(r ingest.Report) {
	w.Successf("Indexed %d episodes (%d chunks) in %s", r.Episodes, r.Chunks, r.Duration.Round(1e6))
	if r.Skipped > 0 {
		w.Statusf("", "%d unchanged episodes skipped", r.Skipped)
	}
}

// Check prints one diagnostic result.
func (w *Writer) Check(name string, ok bool, detail string) {
	msg := name
	if detail != "" {
		msg += ": " + detail
	}
	if ok {
		w.Success(msg)
		return
	}
	w.Error(msg)
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
