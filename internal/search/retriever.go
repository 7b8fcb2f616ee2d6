package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
	"github.com/Aman-CERP/podrag/internal/store"
)

// HybridRetriever issues lexical, vector and combined queries against one
// index of a DocumentStore.
type HybridRetriever struct {
	store   store.DocumentStore
	index   string
	weights Weights
}

// Option configures a HybridRetriever.
type Option func(*HybridRetriever)

// WithWeights sets the fusion weights carried by the retriever.
func WithWeights(w Weights) Option {
	return func(r *HybridRetriever) {
		r.weights = w
	}
}

// NewHybridRetriever creates a retriever over index.
func NewHybridRetriever(st store.DocumentStore, index string, opts ...Option) *HybridRetriever {
	if index == "" {
		index = store.DefaultIndex
	}
	r := &HybridRetriever{store: st, index: index, weights: DefaultWeights()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Weights returns the configured fusion weights.
func (r *HybridRetriever) Weights() Weights {
	return r.weights
}

// Index returns the index searched.
func (r *HybridRetriever) Index() string {
	return r.index
}

// Search runs the hybrid query: a match clause on text (match all when
// text is empty), a should kNN clause for embedding requesting size
// candidates, and the filters. Hits keep the store's combined score.
// An empty embedding degrades to lexical search.
func (r *HybridRetriever) Search(ctx context.Context, text string, embedding []float32, size int, filters Filters) ([]SearchHit, error) {
	size = normalizeSize(size)
	q := store.Query{
		Size:    size,
		Match:   &store.Match{Field: store.FieldChunkText, Text: text},
		Filters: filters.storeFilters(),
	}
	if len(embedding) > 0 {
		q.KNN = &store.KNN{Field: store.FieldEmbedding, Vector: embedding, K: size, Occur: store.OccurShould}
	}
	return r.run(ctx, "hybrid", q)
}

// LexicalSearch runs only the match (or match-all) clause.
func (r *HybridRetriever) LexicalSearch(ctx context.Context, text string, size int, filters Filters) ([]SearchHit, error) {
	q := store.Query{
		Size:    normalizeSize(size),
		Match:   &store.Match{Field: store.FieldChunkText, Text: text},
		Filters: filters.storeFilters(),
	}
	return r.run(ctx, "lexical", q)
}

// VectorSearch returns the nearest neighbors of embedding.
func (r *HybridRetriever) VectorSearch(ctx context.Context, embedding []float32, size int, filters Filters) ([]SearchHit, error) {
	if len(embedding) == 0 {
		return nil, poderrors.New(poderrors.ErrCodeInvalidQuery, "vector search needs an embedding", nil)
	}
	size = normalizeSize(size)
	q := store.Query{
		Size:    size,
		KNN:     &store.KNN{Field: store.FieldEmbedding, Vector: embedding, K: size, Occur: store.OccurMust},
		Filters: filters.storeFilters(),
	}
	return r.run(ctx, "vector", q)
}

func (r *HybridRetriever) run(ctx context.Context, mode string, q store.Query) ([]SearchHit, error) {
	start := time.Now()
	hits, err := r.store.Search(ctx, r.index, q)
	if err != nil {
		slog.Warn("search_failed",
			slog.String("mode", mode),
			slog.String("index", r.index),
			slog.String("error", err.Error()))
		return nil, retrievalError(err)
	}

	slog.Debug("search_completed",
		slog.String("mode", mode),
		slog.Int("hits", len(hits)),
		slog.Int("filters", len(q.Filters)),
		slog.Duration("duration", time.Since(start)))
	return hitsFromStore(hits), nil
}

// retrievalError keeps typed store errors and wraps anything else.
func retrievalError(err error) error {
	var pe *poderrors.PodError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return poderrors.New(poderrors.ErrCodeSearchFailed, "search failed", err)
}

func normalizeSize(size int) int {
	if size <= 0 {
		return DefaultSize
	}
	return size
}
