// Package search retrieves transcript chunks from the document store and
// optionally reranks them with a pairwise relevance model.
package search

import (
	"github.com/Aman-CERP/podrag/internal/store"
)

// DefaultSize is the number of hits returned when a caller asks for none.
const DefaultSize = 5

// SearchHit is one retrieved chunk.
type SearchHit struct {
	ID string

	// Score is the store's native score, left unchanged by reranking.
	Score float64

	// RerankScore is set by Reranker. Nil when reranking did not run.
	RerankScore *float64

	Chunk store.ChunkRecord
}

// Filters restricts retrieval. Zero values mean no restriction.
type Filters struct {
	// Podcast is an exact match on the collection name.
	Podcast string

	// Topics matches chunks tagged with any of the topics.
	Topics []string
}

// storeFilters renders the filters as store clauses.
func (f Filters) storeFilters() []store.Filter {
	var out []store.Filter
	if f.Podcast != "" {
		out = append(out, store.Filter{Field: store.FieldPodcastName, Values: []string{f.Podcast}})
	}
	if len(f.Topics) > 0 {
		out = append(out, store.Filter{Field: store.FieldTopics, Values: f.Topics})
	}
	return out
}

// Weights configures the relative importance of lexical vs vector scores.
// They are carried for manual fusion; hybrid search relies on the store's
// combined score.
type Weights struct {
	BM25     float64
	Semantic float64
}

// DefaultWeights returns equal weights.
func DefaultWeights() Weights {
	return Weights{BM25: 0.5, Semantic: 0.5}
}

func hitsFromStore(hits []store.Hit) []SearchHit {
	out := make([]SearchHit, len(hits))
	for i, h := range hits {
		out[i] = SearchHit{ID: h.ID, Score: h.Score, Chunk: h.Source}
	}
	return out
}
