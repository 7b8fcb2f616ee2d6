package server

import (
	"log/slog"
	"math"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
	"github.com/Aman-CERP/podrag/internal/generate"
	"github.com/Aman-CERP/podrag/internal/rag"
	"github.com/Aman-CERP/podrag/internal/search"
	"github.com/Aman-CERP/podrag/pkg/version"
)

// SnippetChars bounds the chunk text returned with each source.
const SnippetChars = 350

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Query   string   `json:"query"`
	Podcast string   `json:"podcast"`
	Topics  []string `json:"topics"`
	TopK    int      `json:"top_k"`
	Rerank  *bool    `json:"rerank"`
	Backend string   `json:"backend"`

	// LongContext prefers the long-context backend for large prompts.
	LongContext bool `json:"long_context"`

	// PodcastName is accepted as an alias of Podcast.
	PodcastName string `json:"podcast_name"`
}

// Source is one cited passage.
type Source struct {
	Title       string   `json:"title"`
	Podcast     string   `json:"podcast"`
	Host        string   `json:"host"`
	Guest       string   `json:"guest"`
	Date        string   `json:"date"`
	Timestamp   string   `json:"timestamp,omitempty"`
	URL         string   `json:"url"`
	Snippet     string   `json:"snippet"`
	Score       float64  `json:"score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// ModelInfo names the backend that produced the answer.
type ModelInfo struct {
	Backend     string   `json:"backend"`
	Description string   `json:"description"`
	Notes       []string `json:"notes"`
	OK          bool     `json:"ok"`
}

// SearchResponse is the body returned by POST /api/search.
type SearchResponse struct {
	Query   string     `json:"query"`
	Answer  string     `json:"answer"`
	Sources []Source   `json:"sources"`
	Model   *ModelInfo `json:"model,omitempty"`
}

// ErrorResponse wraps an error for API clients.
type ErrorResponse struct {
	Error     poderrors.JSONError `json:"error"`
	RequestID string              `json:"request_id,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Short()})
}

func (s *Server) handleSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, poderrors.ValidationError("invalid request body", err))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		s.fail(c, poderrors.New(poderrors.ErrCodeQueryEmpty, "query is required", nil))
		return
	}
	if req.TopK < 0 {
		s.fail(c, poderrors.ValidationError("top_k must not be negative", nil))
		return
	}

	opts := rag.AskOptions{
		Podcast:     req.Podcast,
		Topics:      req.Topics,
		TopK:        req.TopK,
		Rerank:      req.Rerank,
		LongContext: req.LongContext,
	}
	if opts.Podcast == "" {
		opts.Podcast = req.PodcastName
	}
	if req.Backend != "" {
		id, err := generate.ParseBackendID(req.Backend)
		if err != nil {
			s.fail(c, poderrors.ValidationError(err.Error(), nil))
			return
		}
		opts.Backend = id
	}

	ans, err := s.answerer.Ask(c.Request.Context(), req.Query, opts)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := SearchResponse{
		Query:   req.Query,
		Answer:  ans.Text,
		Sources: make([]Source, 0, len(ans.Hits)),
	}
	for _, h := range ans.Hits {
		resp.Sources = append(resp.Sources, sourceFromHit(h))
	}
	if ans.Found() {
		notes := ans.Generation.Notes
		if notes == nil {
			notes = []string{}
		}
		resp.Model = &ModelInfo{
			Backend:     string(ans.Generation.Backend),
			Description: ans.Generation.Description(),
			Notes:       notes,
			OK:          ans.Generation.OK,
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.stats(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// fail writes err with a status derived from its code.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		attrs := []any{slog.String("request_id", c.GetString(requestIDKey))}
		for k, v := range poderrors.FormatForLog(err) {
			attrs = append(attrs, slog.Any(k, v))
		}
		slog.Error("request_failed", attrs...)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     poderrors.ToJSONError(err),
		RequestID: c.GetString(requestIDKey),
	})
}

func statusFor(err error) int {
	switch poderrors.GetCode(err) {
	case poderrors.ErrCodeQueryEmpty, poderrors.ErrCodeInvalidQuery, poderrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case poderrors.ErrCodeIndexNotFound:
		return http.StatusNotFound
	case poderrors.ErrCodeStoreUnavailable, poderrors.ErrCodeModelUnavailable,
		poderrors.ErrCodeNetworkTimeout, poderrors.ErrCodeNetworkUnavailable, poderrors.ErrCodeIndexLocked:
		return http.StatusServiceUnavailable
	}
	if poderrors.IsRetryable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func sourceFromHit(h search.SearchHit) Source {
	src := Source{
		Title:   h.Chunk.Title,
		Podcast: h.Chunk.PodcastName,
		Host:    h.Chunk.Host,
		Guest:   h.Chunk.Guest,
		Date:    h.Chunk.Date,
		URL:     h.Chunk.URL,
		Snippet: Snippet(h.Chunk.ChunkText),
		Score:   round3(h.Score),
	}
	if src.Title == "" {
		src.Title = "Unknown"
	}
	if src.Podcast == "" {
		src.Podcast = "Unknown"
	}
	if src.Guest == "" {
		src.Guest = "Unknown"
	}
	if h.Chunk.Timestamp != nil {
		src.Timestamp = *h.Chunk.Timestamp
	}
	if h.RerankScore != nil {
		r := round3(*h.RerankScore)
		src.RerankScore = &r
	}
	return src
}

// Snippet shortens text to SnippetChars characters plus "...".
func Snippet(text string) string {
	if utf8.RuneCountInString(text) <= SnippetChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:SnippetChars]) + "..."
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
