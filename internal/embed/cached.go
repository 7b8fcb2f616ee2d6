package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/podrag/internal/text"
)

// DefaultEmbeddingCacheSize holds about 1.5MB of 384-dim vectors.
const DefaultEmbeddingCacheSize = 1000

// CacheStats counts lookups since the cache was created.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// CachedEmbedder keeps recent vectors in an LRU keyed by model and
// whitespace-normalized text, so a re-asked question or a transcript line
// repeated across episodes reaches the model once. Returned vectors are
// copies; callers may modify them.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[string, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder wraps inner. A non-positive size selects
// DefaultEmbeddingCacheSize.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) key(s string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text.NormalizeWhitespace(s)))
	return hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) lookup(key string) ([]float32, bool) {
	vec, ok := c.cache.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return append([]float32(nil), vec...), true
}

func (c *CachedEmbedder) store(key string, vec []float32) []float32 {
	c.cache.Add(key, append([]float32(nil), vec...))
	return vec
}

// Embed returns the cached vector for s or embeds it.
func (c *CachedEmbedder) Embed(ctx context.Context, s string) ([]float32, error) {
	key := c.key(s)
	if vec, ok := c.lookup(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, s)
	if err != nil {
		return nil, err
	}
	return c.store(key, vec), nil
}

// EmbedBatch sends only uncached texts to the inner embedder, each
// distinct text once, and returns vectors in input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	// pending maps a missing key to the input positions waiting for it.
	pending := make(map[string][]int)
	var misses []string
	for i, s := range texts {
		keys[i] = c.key(s)
		if waiting, seen := pending[keys[i]]; seen {
			pending[keys[i]] = append(waiting, i)
			continue
		}
		if vec, ok := c.lookup(keys[i]); ok {
			results[i] = vec
			continue
		}
		pending[keys[i]] = []int{i}
		misses = append(misses, s)
	}
	if len(misses) == 0 {
		return results, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(misses) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(misses))
	}
	for j, s := range misses {
		key := c.key(s)
		c.store(key, vectors[j])
		for n, i := range pending[key] {
			if n == 0 {
				results[i] = vectors[j]
			} else {
				results[i] = append([]float32(nil), vectors[j]...)
			}
		}
	}
	return results, nil
}

func (c *CachedEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}

// Len reports how many vectors are cached.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Stats reports hit and miss counts.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: c.cache.Len()}
}
