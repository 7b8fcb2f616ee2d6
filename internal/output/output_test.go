package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/podrag/internal/generate"
	"github.com/Aman-CERP/podrag/internal/ingest"
	"github.com/Aman-CERP/podrag/internal/rag"
	"github.com/Aman-CERP/podrag/internal/search"
	"github.com/Aman-CERP/podrag/internal/store"
)

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  []string
	}{
		{"success", func(w *Writer) { w.Success("Index complete") }, []string{"✅", "Index complete"}},
		{"warning", func(w *Writer) { w.Warning("Embedder not available") }, []string{"⚠️", "Embedder not available"}},
		{"error", func(w *Writer) { w.Error("Failed to connect") }, []string{"❌", "Failed to connect"}},
		{"statusf", func(w *Writer) { w.Statusf("📂", "Found %d transcripts in %s", 3, "/data") },
			[]string{"📂", "Found 3 transcripts in /data"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestNew_BufferIsNotATerminal(t *testing.T) {
	// Given/When: a writer on a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// Then: color is off and styled text is written verbatim
	assert.False(t, w.useColor)
	w.Header("Sources")
	assert.Equal(t, "Sources\n", buf.String())
}

func TestWriter_Progress(t *testing.T) {
	// Given: a colored writer, as on a terminal
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, true)

	// When: printing progress at 50%
	w.Progress(50, 100, "Ingesting")

	// Then: a bar is drawn
	assert.Contains(t, buf.String(), "50%")
	assert.Contains(t, buf.String(), "Ingesting")
}

func TestWriter_Progress_PlainOnlyPrintsCompletion(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(1, 2, "Ingesting")
	assert.Empty(t, buf.String())

	w.Progress(2, 2, "Ingesting")
	assert.Contains(t, buf.String(), "100%")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestWriter_Progress_ZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, true)

	assert.NotPanics(t, func() { w.Progress(0, 0, "Processing") })
	assert.Empty(t, buf.String())
}

func TestProgressBar_Render(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{"0 percent", 0, 100, 10, 0},
		{"50 percent", 50, 100, 10, 5},
		{"100 percent", 100, 100, 10, 10},
		{"over total", 150, 100, 10, 10},
		{"25 percent", 25, 100, 20, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)

			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestWriter_Answer(t *testing.T) {
	// Given: an answer with one reranked source
	rs := 0.5
	a := rag.Answer{
		Text: "Hire slowly.",
		Hits: []search.SearchHit{{
			Score:       1.23456,
			RerankScore: &rs,
			Chunk: store.ChunkRecord{
				Title: "Building Teams", PodcastName: "Founders", Guest: "Jane Smith",
				Date: "2024-01-01", ChunkText: strings.Repeat("x", 200),
			},
		}},
		Generation: generate.Result{Backend: generate.TinyLlama, OK: true},
		Reranked:   true,
	}
	buf := &bytes.Buffer{}

	// When: rendering it
	New(buf).Answer(a)

	// Then: text, model and the source line appear
	out := buf.String()
	assert.Contains(t, out, "Hire slowly.")
	assert.Contains(t, out, generate.TinyLlama.Description()+", reranked")
	assert.Contains(t, out, " 1. Building Teams [1.235 / rerank 0.500]")
	assert.Contains(t, out, "Founders | guest: Jane Smith | 2024-01-01")
	assert.Contains(t, out, strings.Repeat("x", 160)+"...")
}

func TestWriter_AnswerWithoutHits(t *testing.T) {
	buf := &bytes.Buffer{}

	New(buf).Answer(rag.Answer{Text: rag.NoResultsText})

	assert.Contains(t, buf.String(), rag.NoResultsText)
	assert.NotContains(t, buf.String(), "Sources")
}

func TestWriter_StatsAndReport(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Stats(rag.Stats{Index: "podcasts", TotalChunks: 12, UniqueEpisodes: 3, UniquePodcasts: 1})
	w.IngestReport(ingest.Report{Episodes: 2, Skipped: 1, Chunks: 9, Duration: 1500 * time.Millisecond})

	out := buf.String()
	assert.Contains(t, out, "Index podcasts")
	assert.Contains(t, out, "chunks:")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "Indexed 2 episodes (9 chunks) in 1.5s")
	assert.Contains(t, out, "1 unchanged episodes skipped")
}

func TestWriter_Check(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Check("store", true, "local")
	w.Check("phi3_mini", false, "model not pulled")

	assert.Contains(t, buf.String(), "✅ store: local")
	assert.Contains(t, buf.String(), "❌ phi3_mini: model not pulled")
}
