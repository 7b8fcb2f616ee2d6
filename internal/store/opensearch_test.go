package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

func newTestOpenSearch(t *testing.T, handler http.HandlerFunc) *OpenSearchStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewOpenSearchStore(OpenSearchConfig{
		Host:     srv.URL,
		Username: "admin",
		Password: "secret",
		Timeout:  2 * time.Second,
		Retry: poderrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
			ShouldRetry:  poderrors.IsRetryable,
		},
	})
	require.NoError(t, err)
	return s
}

func TestOpenSearch_Search(t *testing.T) {
	// Given: a cluster answering one hit
	var gotBody map[string]any
	s := newTestOpenSearch(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/podcast-transcripts/_search", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)

		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = io.WriteString(w, `{"hits":{"hits":[{"_id":"ep-001_chunk_0","_score":2.5,
			"_source":{"title":"AI Today","podcast_name":"Tech Talk","chunk_text":"hello","topics":["ai"]}}]}}`)
	})

	// When: searching with a filter
	hits, err := s.Search(context.Background(), DefaultIndex, Query{
		Size:    5,
		Match:   &Match{Text: "hello"},
		Filters: []Filter{{Field: FieldPodcastName, Values: []string{"Tech Talk"}}},
	})

	// Then: the hit is decoded and the body carries the bool query
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ep-001_chunk_0", hits[0].ID)
	assert.Equal(t, 2.5, hits[0].Score)
	assert.Equal(t, "Tech Talk", hits[0].Source.PodcastName)
	assert.Equal(t, []string{"ai"}, hits[0].Source.Topics)
	assert.Contains(t, gotBody["query"], "bool")
}

func TestOpenSearch_RetriesServerErrors(t *testing.T) {
	// Given: a cluster failing once with 503
	var calls atomic.Int32
	s := newTestOpenSearch(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"count":42}`)
	})

	// When: counting
	n, err := s.Count(context.Background(), DefaultIndex)

	// Then: the retry succeeds
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenSearch_UnavailableAfterRetries(t *testing.T) {
	// Given: a cluster that always fails
	s := newTestOpenSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	// When: searching
	_, err := s.Search(context.Background(), DefaultIndex, Query{Size: 1})

	// Then: the error is a store-unavailable error with a suggestion
	assert.Equal(t, poderrors.ErrCodeStoreUnavailable, poderrors.GetCode(err))
	assert.Contains(t, poderrors.FormatForUser(err, false), "podrag doctor")
}

func TestOpenSearch_MissingIndex(t *testing.T) {
	s := newTestOpenSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"index_not_found_exception","reason":"no such index"}}`)
	})

	_, err := s.Search(context.Background(), DefaultIndex, Query{Size: 1})
	assert.True(t, IsIndexNotFound(err))

	exists, err := s.IndexExists(context.Background(), DefaultIndex)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOpenSearch_IndexLifecycle(t *testing.T) {
	// Given: a cluster recording requests
	var requests []string
	var created map[string]any
	s := newTestOpenSearch(t, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut && r.URL.Path == "/podcast-transcripts" {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &created)
		}
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	})
	ctx := context.Background()

	// When: creating, indexing, refreshing and deleting
	require.NoError(t, s.CreateIndex(ctx, DefaultIndex, DefaultMapping(8)))
	require.NoError(t, s.IndexDocument(ctx, DefaultIndex, "ep-001_chunk_0", ChunkRecord{ChunkID: "ep-001_chunk_0"}))
	require.NoError(t, s.Refresh(ctx, DefaultIndex))
	require.NoError(t, s.DeleteIndex(ctx, DefaultIndex))

	// Then: each call hits its endpoint and the mapping enables knn
	assert.Equal(t, []string{
		"PUT /podcast-transcripts",
		"PUT /podcast-transcripts/_doc/ep-001_chunk_0",
		"POST /podcast-transcripts/_refresh",
		"DELETE /podcast-transcripts",
	}, requests)
	assert.Equal(t, map[string]any{"index.knn": true}, created["settings"])
}

func TestOpenSearch_Aggregate(t *testing.T) {
	// Given: a cluster returning cardinality values
	var gotBody map[string]any
	s := newTestOpenSearch(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = io.WriteString(w, `{"aggregations":{"unique_episodes":{"value":7},"unique_podcasts":{"value":2}}}`)
	})

	// When: aggregating
	stats, err := s.Aggregate(context.Background(), DefaultIndex, []Aggregation{
		Cardinality("unique_episodes", FieldEpisodeID),
		Cardinality("unique_podcasts", FieldPodcastName),
	})

	// Then: values map back by name and the request is size 0
	require.NoError(t, err)
	assert.Equal(t, 7.0, stats["unique_episodes"])
	assert.Equal(t, 2.0, stats["unique_podcasts"])
	assert.Equal(t, float64(0), gotBody["size"])
	assert.Contains(t, gotBody["aggs"], "unique_episodes")
}

func TestOpenSearch_DimensionRejected(t *testing.T) {
	s := newTestOpenSearch(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"mapper_parsing_exception","reason":"Vector dimension mismatch. Expected: 384, Given: 8"}}`)
	})

	err := s.IndexDocument(context.Background(), DefaultIndex, "x", ChunkRecord{})
	assert.Equal(t, poderrors.ErrCodeDimensionMismatch, poderrors.GetCode(err))
}

func TestNewOpenSearchStore_InvalidHost(t *testing.T) {
	_, err := NewOpenSearchStore(OpenSearchConfig{Host: "not a url"})
	assert.Error(t, err)
}

func TestOpenSearch_UnreachableCluster(t *testing.T) {
	// Given: a cluster address nothing listens on
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	s, err := NewOpenSearchStore(OpenSearchConfig{
		Host:  addr,
		Retry: poderrors.RetryConfig{MaxRetries: 0, Multiplier: 1, ShouldRetry: poderrors.IsRetryable},
	})
	require.NoError(t, err)

	// When: checking for the index
	_, err = s.IndexExists(context.Background(), DefaultIndex)

	// Then: the store is reported unavailable, not missing
	assert.Equal(t, poderrors.ErrCodeStoreUnavailable, poderrors.GetCode(err))
}
