package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Embed_NormalizedFixedDimension(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	// When: a transcript sentence is embedded
	vec, err := embedder.Embed(context.Background(), "Host: Welcome back to the show.")

	// Then: the vector has the fixed dimension and unit length
	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(vec), 0.001)
}

func TestStaticEmbedder_Embed_IsDeterministicAcrossInstances(t *testing.T) {
	text := "We talked about remote work and burnout."

	a, err := NewStaticEmbedder().Embed(context.Background(), text)
	require.NoError(t, err)
	b, err := NewStaticEmbedder().Embed(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestStaticEmbedder_Embed_EmptyTextIsZeroVector(t *testing.T) {
	vec, err := NewStaticEmbedder().Embed(context.Background(), "   ")

	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
	assert.Zero(t, vectorMagnitude(vec))
}

func TestStaticEmbedder_SimilarTextScoresHigher(t *testing.T) {
	// Given: a query, a related passage and an unrelated passage
	e := NewStaticEmbedder()
	ctx := context.Background()
	query, _ := e.Embed(ctx, "raising venture capital for a startup")
	related, _ := e.Embed(ctx, "She explained how her startup raised venture capital.")
	unrelated, _ := e.Embed(ctx, "The recipe needs two cups of flour and butter.")

	// Then: the related passage is closer
	assert.Greater(t, cosineSimilarity(query, related), cosineSimilarity(query, unrelated))
}

func TestStaticEmbedder_EmbedBatch_MatchesSingle(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()
	texts := []string{"first passage", "second passage"}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	single, err := e.Embed(ctx, texts[1])
	require.NoError(t, err)

	require.Len(t, batch, 2)
	assert.Equal(t, single, batch[1])
}

func TestStaticEmbedder_ClosedRejectsCalls(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "x")

	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestTokenize_DropsPunctuationAndKeepsContractions(t *testing.T) {
	tokens := tokenize("Host: It's 2024, isn't it?")

	assert.Equal(t, []string{"host", "it's", "2024", "isn't", "it"}, tokens)
}

func TestFilterStopWords(t *testing.T) {
	assert.Equal(t, []string{"startup", "funding"}, filterStopWords([]string{"the", "startup", "and", "funding"}))
}

func TestBatches(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		size  int
		want  []int
	}{
		{"empty", nil, 2, []int{}},
		{"exact", []string{"a", "b", "c", "d"}, 2, []int{2, 2}},
		{"remainder", []string{"a", "b", "c"}, 2, []int{2, 1}},
		{"default size", []string{"a"}, 0, []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := batches(tt.texts, tt.size)
			sizes := make([]int, len(got))
			for i, b := range got {
				sizes[i] = len(b)
			}
			assert.Equal(t, tt.want, sizes)
		})
	}
}
