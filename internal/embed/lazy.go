package embed

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// LoadFunc builds a ready embedder. It may block on model discovery.
type LoadFunc func(ctx context.Context) (Embedder, error)

// LazyEmbedder defers loading until the first call that needs the model.
// Concurrent first callers share one load; a failed load is not cached,
// so the next call tries again.
type LazyEmbedder struct {
	load      LoadFunc
	modelName string

	group singleflight.Group

	mu    sync.RWMutex
	inner Embedder
}

var _ Embedder = (*LazyEmbedder)(nil)

// NewLazyEmbedder wraps load. modelName is reported until the model is loaded.
func NewLazyEmbedder(modelName string, load LoadFunc) *LazyEmbedder {
	return &LazyEmbedder{load: load, modelName: modelName}
}

// Load returns the loaded embedder, loading it on first use.
func (l *LazyEmbedder) Load(ctx context.Context) (Embedder, error) {
	l.mu.RLock()
	inner := l.inner
	l.mu.RUnlock()
	if inner != nil {
		return inner, nil
	}

	v, err, _ := l.group.Do("load", func() (any, error) {
		l.mu.RLock()
		existing := l.inner
		l.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		e, err := l.load(ctx)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, fmt.Errorf("embedder loader returned nil")
		}

		l.mu.Lock()
		l.inner = e
		l.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Embedder), nil
}

// EnsureDimensions loads the model if needed and returns its dimension.
func (l *LazyEmbedder) EnsureDimensions(ctx context.Context) (int, error) {
	e, err := l.Load(ctx)
	if err != nil {
		return 0, err
	}
	return e.Dimensions(), nil
}

// Loaded reports whether the model has been loaded.
func (l *LazyEmbedder) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inner != nil
}

// Embed loads the model if needed and embeds text.
func (l *LazyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// EmbedBatch loads the model if needed and embeds texts.
func (l *LazyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}

// Dimensions returns 0 until the model has been loaded.
func (l *LazyEmbedder) Dimensions() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.inner == nil {
		return 0
	}
	return l.inner.Dimensions()
}

// ModelName returns the configured name, or the resolved name once loaded.
func (l *LazyEmbedder) ModelName() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.inner != nil {
		return l.inner.ModelName()
	}
	return l.modelName
}

// Available loads the model if needed and asks it.
func (l *LazyEmbedder) Available(ctx context.Context) bool {
	e, err := l.Load(ctx)
	if err != nil {
		return false
	}
	return e.Available(ctx)
}

// Close closes the loaded model, if any.
func (l *LazyEmbedder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner == nil {
		return nil
	}
	err := l.inner.Close()
	l.inner = nil
	return err
}
