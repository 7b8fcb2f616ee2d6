package rag

import (
	"context"

	"github.com/Aman-CERP/podrag/internal/store"
)

// Stats summarizes the index.
type Stats struct {
	Index          string `json:"index"`
	TotalChunks    int    `json:"total_chunks"`
	UniqueEpisodes int    `json:"unique_episodes"`
	UniquePodcasts int    `json:"unique_podcasts"`
}

// IndexStats counts chunks, distinct episodes and distinct podcasts. A
// missing index reports zero counts.
func IndexStats(ctx context.Context, st store.DocumentStore, index string) (Stats, error) {
	if index == "" {
		index = store.DefaultIndex
	}
	stats := Stats{Index: index}

	total, err := st.Count(ctx, index)
	if err != nil {
		if store.IsIndexNotFound(err) {
			return stats, nil
		}
		return stats, err
	}
	stats.TotalChunks = total

	aggs, err := st.Aggregate(ctx, index, []store.Aggregation{
		store.Cardinality("unique_episodes", store.FieldEpisodeID),
		store.Cardinality("unique_podcasts", store.FieldPodcastName),
	})
	if err != nil {
		return stats, err
	}
	stats.UniqueEpisodes = int(aggs["unique_episodes"])
	stats.UniquePodcasts = int(aggs["unique_podcasts"])
	return stats, nil
}
