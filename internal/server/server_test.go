package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
	"github.com/Aman-CERP/podrag/internal/generate"
	"github.com/Aman-CERP/podrag/internal/rag"
	"github.com/Aman-CERP/podrag/internal/search"
	"github.com/Aman-CERP/podrag/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAnswerer struct {
	answer rag.Answer
	err    error

	gotQuestion string
	gotOpts     rag.AskOptions
	calls       int
}

func (f *fakeAnswerer) Ask(_ context.Context, q string, opts rag.AskOptions) (rag.Answer, error) {
	f.calls++
	f.gotQuestion = q
	f.gotOpts = opts
	if f.err != nil {
		return rag.Answer{}, f.err
	}
	a := f.answer
	a.Question = q
	return a, nil
}

func fixedStats(s rag.Stats, err error) StatsFunc {
	return func(context.Context) (rag.Stats, error) { return s, err }
}

func hit(text string, score float64) search.SearchHit {
	return search.SearchHit{
		ID:    "ep-001_chunk_0",
		Score: score,
		Chunk: store.ChunkRecord{
			ChunkID:     "ep-001_chunk_0",
			EpisodeID:   "ep-001",
			Title:       "Building Teams",
			PodcastName: "Founders",
			Host:        "Alex Host",
			Guest:       "Jane Smith",
			Date:        "2024-01-01",
			ChunkText:   text,
			URL:         "file:///tmp/ep.txt",
		},
	}
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth_ReportsStatusAndVersion(t *testing.T) {
	// Given: a server
	s := New(&fakeAnswerer{}, fixedStats(rag.Stats{}, nil))

	// When: probing health
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	// Then: status ok with a version
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	s := New(&fakeAnswerer{}, fixedStats(rag.Stats{}, nil))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestRequestID_EchoesCallerID(t *testing.T) {
	s := New(&fakeAnswerer{}, fixedStats(rag.Stats{}, nil))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))
}

func TestSearch_ReturnsAnswerSourcesAndModel(t *testing.T) {
	// Given: an answerer with one hit and a degraded generation
	ans := &fakeAnswerer{answer: rag.Answer{
		Text: "Hire slowly.",
		Hits: []search.SearchHit{hit("Hire slowly and fire fast.", 0.123456)},
		Generation: generate.Result{
			Text:    "Hire slowly.",
			Backend: generate.TinyLlama,
			Notes:   []string{"primary unavailable"},
			OK:      true,
		},
	}}
	s := New(ans, fixedStats(rag.Stats{}, nil))

	// When: searching with filters
	rec := postJSON(t, s.Handler(), "/api/search",
		`{"query":"  how to hire?  ","podcast":"Founders","topics":["hiring"],"top_k":3}`)

	// Then: the pipeline received trimmed input and the response is shaped for clients
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "how to hire?", ans.gotQuestion)
	assert.Equal(t, "Founders", ans.gotOpts.Podcast)
	assert.Equal(t, []string{"hiring"}, ans.gotOpts.Topics)
	assert.Equal(t, 3, ans.gotOpts.TopK)

	resp := decode[SearchResponse](t, rec)
	assert.Equal(t, "how to hire?", resp.Query)
	assert.Equal(t, "Hire slowly.", resp.Answer)
	require.Len(t, resp.Sources, 1)
	src := resp.Sources[0]
	assert.Equal(t, "Building Teams", src.Title)
	assert.Equal(t, "Founders", src.Podcast)
	assert.Equal(t, "Jane Smith", src.Guest)
	assert.InDelta(t, 0.123, src.Score, 1e-9)
	assert.Nil(t, src.RerankScore)
	require.NotNil(t, resp.Model)
	assert.Equal(t, "tinyllama", resp.Model.Backend)
	assert.Equal(t, []string{"primary unavailable"}, resp.Model.Notes)
}

func TestSearch_PodcastNameAlias(t *testing.T) {
	ans := &fakeAnswerer{}
	s := New(ans, fixedStats(rag.Stats{}, nil))

	rec := postJSON(t, s.Handler(), "/api/search", `{"query":"q","podcast_name":"Founders"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Founders", ans.gotOpts.Podcast)
}

func TestSearch_NoHitsOmitsModel(t *testing.T) {
	// Given: nothing relevant in the index
	ans := &fakeAnswerer{answer: rag.Answer{Text: rag.NoResultsText}}
	s := New(ans, fixedStats(rag.Stats{}, nil))

	// When: searching
	rec := postJSON(t, s.Handler(), "/api/search", `{"query":"anything"}`)

	// Then: the fixed text with an empty source list
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SearchResponse](t, rec)
	assert.Equal(t, rag.NoResultsText, resp.Answer)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)
	assert.Nil(t, resp.Model)
}

func TestSearch_SnippetAndRerankScore(t *testing.T) {
	long := strings.Repeat("é", 400)
	h := hit(long, 1)
	rs := 0.98765
	h.RerankScore = &rs
	ans := &fakeAnswerer{answer: rag.Answer{Hits: []search.SearchHit{h}}}
	s := New(ans, fixedStats(rag.Stats{}, nil))

	rec := postJSON(t, s.Handler(), "/api/search", `{"query":"q"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	src := decode[SearchResponse](t, rec).Sources[0]
	assert.Equal(t, strings.Repeat("é", SnippetChars)+"...", src.Snippet)
	require.NotNil(t, src.RerankScore)
	assert.InDelta(t, 0.988, *src.RerankScore, 1e-9)
}

func TestSearch_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"empty query", `{"query":""}`, poderrors.ErrCodeQueryEmpty},
		{"blank query", `{"query":"   "}`, poderrors.ErrCodeQueryEmpty},
		{"malformed body", `{"query":`, poderrors.ErrCodeInvalidInput},
		{"unknown backend", `{"query":"q","backend":"gpt9"}`, poderrors.ErrCodeInvalidInput},
		{"negative top_k", `{"query":"q","top_k":-1}`, poderrors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans := &fakeAnswerer{}
			s := New(ans, fixedStats(rag.Stats{}, nil))

			rec := postJSON(t, s.Handler(), "/api/search", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.RequestID)
			assert.Zero(t, ans.calls)
		})
	}
}

func TestSearch_BackendSelection(t *testing.T) {
	ans := &fakeAnswerer{}
	s := New(ans, fixedStats(rag.Stats{}, nil))

	rec := postJSON(t, s.Handler(), "/api/search", `{"query":"q","backend":"tinyllama","long_context":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, generate.TinyLlama, ans.gotOpts.Backend)
	assert.True(t, ans.gotOpts.LongContext)
}

func TestSearch_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"missing index", poderrors.New(poderrors.ErrCodeIndexNotFound, "no index", nil), http.StatusNotFound},
		{"store down", poderrors.StoreUnavailable("down", nil), http.StatusServiceUnavailable},
		{"embedding failure", poderrors.New(poderrors.ErrCodeEmbeddingFailed, "boom", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(&fakeAnswerer{err: tt.err}, fixedStats(rag.Stats{}, nil))

			rec := postJSON(t, s.Handler(), "/api/search", `{"query":"q"}`)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestStats_ReturnsCounts(t *testing.T) {
	// Given: an index with content
	stats := rag.Stats{Index: "podcasts", TotalChunks: 12, UniqueEpisodes: 3, UniquePodcasts: 1}
	s := New(&fakeAnswerer{}, fixedStats(stats, nil))

	// When: fetching stats
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	// Then: snake_case counts
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.EqualValues(t, 12, body["total_chunks"])
	assert.EqualValues(t, 3, body["unique_episodes"])
	assert.EqualValues(t, 1, body["unique_podcasts"])
	assert.Equal(t, "podcasts", body["index"])
}

func TestStats_StoreFailure(t *testing.T) {
	s := New(&fakeAnswerer{}, fixedStats(rag.Stats{}, poderrors.StoreUnavailable("down", nil)))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServe_StopsOnCancel(t *testing.T) {
	// Given: a server on an ephemeral port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(&fakeAnswerer{}, fixedStats(rag.Stats{}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	// When: a request succeeds and the context is cancelled
	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	cancel()

	// Then: Serve returns cleanly
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
