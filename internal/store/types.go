// Package store persists transcript chunks and serves lexical, vector and
// filtered queries against them.
//
// Two implementations share the DocumentStore interface: LocalStore, an
// embedded bleve + HNSW index that needs no server, and OpenSearchStore,
// an opensearch-go client for a cluster with the k-NN plugin.
package store

import (
	"context"
	"fmt"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

// DefaultIndex is the index shared by ingestion and search.
const DefaultIndex = "podcast-transcripts"

// Field names of a chunk record.
const (
	FieldEpisodeID   = "episode_id"
	FieldTitle       = "title"
	FieldPodcastName = "podcast_name"
	FieldHost        = "host"
	FieldGuest       = "guest"
	FieldDate        = "date"
	FieldChunkText   = "chunk_text"
	FieldChunkID     = "chunk_id"
	FieldChunkIndex  = "chunk_index"
	FieldTimestamp   = "timestamp"
	FieldURL         = "url"
	FieldTopics      = "topics"
	FieldEmbedding   = "embedding"
)

// ChunkRecord is one transcript chunk as stored in an index.
type ChunkRecord struct {
	ChunkID     string    `json:"chunk_id"`
	EpisodeID   string    `json:"episode_id"`
	Title       string    `json:"title"`
	PodcastName string    `json:"podcast_name"`
	Host        string    `json:"host"`
	Guest       string    `json:"guest,omitempty"`
	Date        string    `json:"date"`
	ChunkText   string    `json:"chunk_text"`
	ChunkIndex  int       `json:"chunk_index"`
	Timestamp   *string   `json:"timestamp"`
	Topics      []string  `json:"topics"`
	URL         string    `json:"url"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// Hit is one ranked search result with the store's native score.
type Hit struct {
	ID     string
	Score  float64
	Source ChunkRecord
}

// AggregationCardinality counts distinct values of a keyword field.
const AggregationCardinality = "cardinality"

// Aggregation requests one statistic over an index.
type Aggregation struct {
	Name  string
	Type  string
	Field string
}

// Cardinality is shorthand for a cardinality aggregation named after its field.
func Cardinality(name, field string) Aggregation {
	return Aggregation{Name: name, Type: AggregationCardinality, Field: field}
}

// DocumentStore is the search index consumed by retrieval and ingestion.
type DocumentStore interface {
	// Search runs query against index and returns hits best first.
	Search(ctx context.Context, index string, query Query) ([]Hit, error)

	// IndexDocument upserts a record under id.
	IndexDocument(ctx context.Context, index, id string, record ChunkRecord) error

	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string, mapping Mapping) error
	DeleteIndex(ctx context.Context, index string) error

	// Refresh makes prior writes visible to search.
	Refresh(ctx context.Context, index string) error

	Count(ctx context.Context, index string) (int, error)
	Aggregate(ctx context.Context, index string, aggs []Aggregation) (map[string]float64, error)

	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'podrag ingest --recreate')", e.Expected, e.Got)
}

// indexNotFound reports a missing index.
func indexNotFound(index string) error {
	return poderrors.New(poderrors.ErrCodeIndexNotFound, fmt.Sprintf("index %q does not exist", index), nil).
		WithSuggestion("Run 'podrag ingest' to build the index")
}

// IsIndexNotFound reports whether err means the index does not exist.
func IsIndexNotFound(err error) bool {
	return poderrors.GetCode(err) == poderrors.ErrCodeIndexNotFound
}
