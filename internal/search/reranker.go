package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

// PairScorer scores (query, passage) pairs with a pairwise relevance model.
// Scores are returned in passage order.
type PairScorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)

	// Name identifies the model for logs.
	Name() string

	Close() error
}

// ScorerLoader loads a PairScorer.
type ScorerLoader func(ctx context.Context) (PairScorer, error)

// Reranker reorders hits by pairwise relevance. The scorer is loaded on
// first use and reused; a failed load is retried on the next call.
type Reranker struct {
	load  ScorerLoader
	group singleflight.Group

	mu     sync.RWMutex
	scorer PairScorer
}

// NewReranker creates a reranker that loads its scorer lazily.
func NewReranker(load ScorerLoader) *Reranker {
	return &Reranker{load: load}
}

// NewRerankerWithScorer creates a reranker around an already loaded scorer.
func NewRerankerWithScorer(scorer PairScorer) *Reranker {
	return &Reranker{scorer: scorer}
}

// Loaded reports whether the scorer has been loaded.
func (r *Reranker) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scorer != nil
}

func (r *Reranker) ensureScorer(ctx context.Context) (PairScorer, error) {
	r.mu.RLock()
	scorer := r.scorer
	r.mu.RUnlock()
	if scorer != nil {
		return scorer, nil
	}
	if r.load == nil {
		return nil, poderrors.New(poderrors.ErrCodeRerankFailed, "no reranking model configured", nil)
	}

	v, err, _ := r.group.Do("load", func() (any, error) {
		r.mu.RLock()
		existing := r.scorer
		r.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		start := time.Now()
		loaded, err := r.load(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.scorer = loaded
		r.mu.Unlock()

		slog.Info("reranker_loaded",
			slog.String("model", loaded.Name()),
			slog.Duration("duration", time.Since(start)))
		return loaded, nil
	})
	if err != nil {
		return nil, poderrors.New(poderrors.ErrCodeRerankFailed, "cannot load reranking model", err)
	}
	return v.(PairScorer), nil
}

// Rerank scores every hit against query and returns the hits sorted by
// rerank score, descending, equal scores keeping their input order.
// RerankScore is attached to each returned hit; Score is left untouched.
// topK > 0 truncates after sorting. Empty input returns without loading
// the model.
func (r *Reranker) Rerank(ctx context.Context, query string, hits []SearchHit, topK int) ([]SearchHit, error) {
	if len(hits) == 0 {
		return []SearchHit{}, nil
	}

	scorer, err := r.ensureScorer(ctx)
	if err != nil {
		return nil, err
	}

	passages := make([]string, len(hits))
	for i, h := range hits {
		passages[i] = h.Chunk.ChunkText
	}

	start := time.Now()
	scores, err := scorer.Score(ctx, query, passages)
	if err != nil {
		return nil, poderrors.New(poderrors.ErrCodeRerankFailed, "reranking failed", err)
	}
	if len(scores) != len(hits) {
		return nil, poderrors.New(poderrors.ErrCodeRerankFailed,
			fmt.Sprintf("reranker returned %d scores for %d passages", len(scores), len(hits)), nil)
	}

	out := make([]SearchHit, len(hits))
	for i, h := range hits {
		score := scores[i]
		h.RerankScore = &score
		out[i] = h
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}

	slog.Debug("rerank_completed",
		slog.String("model", scorer.Name()),
		slog.Int("candidates", len(hits)),
		slog.Int("returned", len(out)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// Close releases the scorer if it was loaded.
func (r *Reranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scorer == nil {
		return nil
	}
	err := r.scorer.Close()
	r.scorer = nil
	return err
}
