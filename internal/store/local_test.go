package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

const testIndex = "test-transcripts"

func newMemStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(LocalConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(episode string, n int, podcast, text string, vec []float32, topics ...string) ChunkRecord {
	return ChunkRecord{
		ChunkID:     fmt.Sprintf("%s_chunk_%d", episode, n),
		EpisodeID:   episode,
		Title:       "Episode " + episode,
		PodcastName: podcast,
		Host:        "Host",
		Date:        "2024-01-01",
		ChunkText:   text,
		ChunkIndex:  n,
		Topics:      topics,
		URL:         "https://example.com/" + episode,
		Embedding:   vec,
	}
}

// seed creates the index and loads four chunks across two podcasts.
func seed(t *testing.T, s *LocalStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateIndex(ctx, testIndex, DefaultMapping(3)))

	records := []ChunkRecord{
		record("ep-001", 0, "Tech Talk", "machine learning models need data", []float32{1, 0, 0}, "ai"),
		record("ep-001", 1, "Tech Talk", "startups raise money from investors", []float32{0, 1, 0}, "startups"),
		record("ep-002", 0, "Health Hour", "sleep and exercise improve learning", []float32{0.9, 0.1, 0}, "health"),
		record("ep-002", 1, "Health Hour", "nutrition basics for busy people", []float32{0, 0, 1}, "health", "ai"),
	}
	for _, r := range records {
		require.NoError(t, s.IndexDocument(ctx, testIndex, r.ChunkID, r))
	}
	require.NoError(t, s.Refresh(ctx, testIndex))
}

func hitIDs(hits []Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

func TestLocalStore_IndexLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	// Given: no index
	exists, err := s.IndexExists(ctx, testIndex)
	require.NoError(t, err)
	assert.False(t, exists)

	// When: creating it
	require.NoError(t, s.CreateIndex(ctx, testIndex, DefaultMapping(3)))

	// Then: it exists, and creating it again fails
	exists, err = s.IndexExists(ctx, testIndex)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Error(t, s.CreateIndex(ctx, testIndex, DefaultMapping(3)))

	// When: deleting it
	require.NoError(t, s.DeleteIndex(ctx, testIndex))

	// Then: it is gone and a second delete reports a missing index
	exists, err = s.IndexExists(ctx, testIndex)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.True(t, IsIndexNotFound(s.DeleteIndex(ctx, testIndex)))
}

func TestLocalStore_MissingIndex(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	_, err := s.Search(ctx, testIndex, Query{Size: 1})
	assert.True(t, IsIndexNotFound(err))

	_, err = s.Count(ctx, testIndex)
	assert.True(t, IsIndexNotFound(err))
}

func TestLocalStore_MatchAllReturnsUpToSize(t *testing.T) {
	// Given: four chunks
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s)

	// When: searching with empty text and size 3
	hits, err := s.Search(ctx, testIndex, Query{Size: 3, Match: &Match{Text: ""}})

	// Then: three hits are returned
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestLocalStore_LexicalMatch(t *testing.T) {
	// Given: four chunks
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s)

	// When: searching for "investors"
	hits, err := s.Search(ctx, testIndex, Query{Size: 10, Match: &Match{Text: "investors"}})

	// Then: only the startups chunk matches and its source is intact
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ep-001_chunk_1", hits[0].ID)
	assert.Equal(t, "Tech Talk", hits[0].Source.PodcastName)
	assert.Equal(t, []string{"startups"}, hits[0].Source.Topics)
	assert.Nil(t, hits[0].Source.Embedding)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestLocalStore_StopWordsAreSearchable(t *testing.T) {
	// Given: four chunks
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s)

	// When: searching for words a stop list would drop, in mixed case
	hits, err := s.Search(ctx, testIndex, Query{Size: 10, Match: &Match{Text: "AND"}})

	// Then: the chunk containing them matches
	require.NoError(t, err)
	assert.Equal(t, []string{"ep-002_chunk_0"}, hitIDs(hits))
}

func TestLocalStore_PodcastFilter(t *testing.T) {
	// Given: four chunks across two podcasts
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s)

	// When: searching "learning" restricted to Health Hour
	hits, err := s.Search(ctx, testIndex, Query{
		Size:    10,
		Match:   &Match{Text: "learning"},
		Filters: []Filter{{Field: FieldPodcastName, Values: []string{"Health Hour"}}},
	})

	// Then: every hit belongs to Health Hour
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, "Health Hour", h.Source.PodcastName)
	}
	assert.Equal(t, []string{"ep-002_chunk_0"}, hitIDs(hits))
}

func TestLocalStore_TopicsFilterIsMembership(t *testing.T) {
	// Given: chunks tagged ai, startups, health, and health+ai
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s)

	// When: filtering on topics {ai, startups} with match all
	hits, err := s.Search(ctx, testIndex, Query{
		Size:    10,
		Filters: []Filter{{Field: FieldTopics, Values: []string{"ai", "startups"}}},
	})

	// Then: the three chunks carrying either topic are returned
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ep-001_chunk_0", "ep-001_chunk_1", "ep-002_chunk_1"}, hitIDs(hits))
}

func TestLocalStore_HybridAddsVectorScore(t *testing.T) {
	// Given: two chunks matching "learning"
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s)

	lexOnly, err := s.Search(ctx, testIndex, Query{Size: 10, Match: &Match{Text: "learning"}})
	require.NoError(t, err)

	// When: adding a should kNN clause near ep-002_chunk_0
	hybrid, err := s.Search(ctx, testIndex, Query{
		Size:  10,
		Match: &Match{Text: "learning"},
		KNN:   &KNN{Vector: []float32{0.9, 0.1, 0}, K: 4},
	})
	require.NoError(t, err)

	// Then: the hit set is unchanged but scores grow by the vector score
	assert.ElementsMatch(t, hitIDs(lexOnly), hitIDs(hybrid))
	lexScores := map[string]float64{}
	for _, h := range lexOnly {
		lexScores[h.ID] = h.Score
	}
	for _, h := range hybrid {
		assert.Greater(t, h.Score, lexScores[h.ID], h.ID)
	}
	assert.Equal(t, "ep-002_chunk_0", hybrid[0].ID)
}

func TestLocalStore_MustKNN(t *testing.T) {
	// Given: four chunks
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s)

	// When: running a pure vector query with k=2
	hits, err := s.Search(ctx, testIndex, Query{
		Size: 10,
		KNN:  &KNN{Vector: []float32{1, 0, 0}, K: 2, Occur: OccurMust},
	})

	// Then: the two nearest chunks come back, closest first
	require.NoError(t, err)
	assert.Equal(t, []string{"ep-001_chunk_0", "ep-002_chunk_0"}, hitIDs(hits))
}

func TestLocalStore_DimensionMismatch(t *testing.T) {
	// Given: a 3-dimensional index
	ctx := context.Background()
	s := newMemStore(t)
	require.NoError(t, s.CreateIndex(ctx, testIndex, DefaultMapping(3)))

	// When: indexing a 2-dimensional embedding
	err := s.IndexDocument(ctx, testIndex, "x", record("ep-009", 0, "P", "text", []float32{1, 0}))

	// Then: the write is rejected with a dimension mismatch code
	assert.Equal(t, poderrors.ErrCodeDimensionMismatch, poderrors.GetCode(err))
}

func TestLocalStore_UpsertByID(t *testing.T) {
	// Given: a chunk indexed twice under the same id
	ctx := context.Background()
	s := newMemStore(t)
	require.NoError(t, s.CreateIndex(ctx, testIndex, DefaultMapping(3)))
	r := record("ep-001", 0, "P", "first version", []float32{1, 0, 0})
	require.NoError(t, s.IndexDocument(ctx, testIndex, r.ChunkID, r))
	r.ChunkText = "second version"
	require.NoError(t, s.IndexDocument(ctx, testIndex, r.ChunkID, r))

	// When: counting and searching
	n, err := s.Count(ctx, testIndex)
	require.NoError(t, err)
	hits, err := s.Search(ctx, testIndex, Query{Size: 5})
	require.NoError(t, err)

	// Then: one document holding the latest text
	assert.Equal(t, 1, n)
	require.Len(t, hits, 1)
	assert.Equal(t, "second version", hits[0].Source.ChunkText)
}

func TestLocalStore_Aggregate(t *testing.T) {
	// Given: four chunks from two episodes of two podcasts
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s)

	// When: asking for cardinalities
	stats, err := s.Aggregate(ctx, testIndex, []Aggregation{
		Cardinality("unique_episodes", FieldEpisodeID),
		Cardinality("unique_podcasts", FieldPodcastName),
		Cardinality("unique_topics", FieldTopics),
	})

	// Then: distinct values are counted
	require.NoError(t, err)
	assert.Equal(t, 2.0, stats["unique_episodes"])
	assert.Equal(t, 2.0, stats["unique_podcasts"])
	assert.Equal(t, 3.0, stats["unique_topics"])
}

func TestLocalStore_AggregateRejectsTextField(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	seed(t, s)

	_, err := s.Aggregate(ctx, testIndex, []Aggregation{Cardinality("x", FieldChunkText)})
	assert.Error(t, err)
}

func TestLocalStore_PersistsAcrossReopen(t *testing.T) {
	// Given: an on-disk store with seeded chunks
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(LocalConfig{DataDir: dir})
	require.NoError(t, err)
	seed(t, s)
	require.NoError(t, s.Close())

	// When: reopening the data directory
	reopened, err := NewLocalStore(LocalConfig{DataDir: dir})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	// Then: count, lexical and vector search all work
	n, err := reopened.Count(ctx, testIndex)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	hits, err := reopened.Search(ctx, testIndex, Query{
		Size: 1,
		KNN:  &KNN{Vector: []float32{0, 0, 1}, K: 1, Occur: OccurMust},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ep-002_chunk_1", hits[0].ID)
}

func TestLocalStore_DataDirIsLocked(t *testing.T) {
	// Given: a store holding a data directory
	dir := t.TempDir()
	s, err := NewLocalStore(LocalConfig{DataDir: dir})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// When: a second store opens the same directory
	_, err = NewLocalStore(LocalConfig{DataDir: dir})

	// Then: it fails with the lock error
	assert.Equal(t, poderrors.ErrCodeIndexLocked, poderrors.GetCode(err))
}

func TestLocalStore_InvalidIndexName(t *testing.T) {
	s := newMemStore(t)
	err := s.CreateIndex(context.Background(), "../escape", DefaultMapping(3))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	s, err := Open(Options{Backend: "local"})
	require.NoError(t, err)
	_ = s.Close()

	s, err = Open(Options{Backend: "opensearch", OpenSearch: OpenSearchConfig{Host: "http://localhost:9200"}})
	require.NoError(t, err)
	_ = s.Close()

	_, err = Open(Options{Backend: "elastic"})
	assert.Error(t, err)
}
