// Package rag answers questions over indexed podcast transcripts.
//
// An Inference value holds every model handle of the process: the
// embedder, the generation router with its backend registry, and the
// optional reranker. It is built once at startup and passed to the
// Pipeline and the ingester, which never create model handles of their
// own.
package rag

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/podrag/internal/config"
	"github.com/Aman-CERP/podrag/internal/embed"
	poderrors "github.com/Aman-CERP/podrag/internal/errors"
	"github.com/Aman-CERP/podrag/internal/generate"
	"github.com/Aman-CERP/podrag/internal/search"
)

// Inference is the set of memoized model handles shared by every request.
type Inference struct {
	Embedder embed.Embedder
	Router   *generate.Router

	// Reranker is nil when no scorer is configured.
	Reranker *search.Reranker
}

// NewInference builds the model handles described by cfg. Nothing is
// loaded yet; each handle loads on first use.
func NewInference(cfg *config.Config) (*Inference, error) {
	embedder, err := embed.NewEmbedder(embed.Config{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		OllamaHost: cfg.Embeddings.OllamaHost,
		Endpoint:   cfg.Embeddings.Endpoint,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Timeout:    config.Duration(cfg.Embeddings.Timeout, 0),
		CacheSize:  cfg.Embeddings.CacheSize,
	})
	if err != nil {
		return nil, poderrors.ConfigError("invalid embedding configuration", err)
	}

	router, err := NewRouter(cfg.Generation, generate.LangchainLoader(nil, 0))
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	load, err := search.NewScorerLoader(search.RerankConfig{
		Provider: cfg.Search.Rerank.Provider,
		Endpoint: cfg.Search.Rerank.Endpoint,
		Model:    cfg.Search.Rerank.Model,
		Timeout:  config.Duration(cfg.Search.Rerank.Timeout, 0),
	})
	if err != nil {
		_ = embedder.Close()
		return nil, poderrors.ConfigError("invalid rerank configuration", err)
	}

	return &Inference{
		Embedder: embedder,
		Router:   router,
		Reranker: search.NewReranker(load),
	}, nil
}

// NewRouter builds the generation router for cfg over load.
func NewRouter(cfg config.GenerationConfig, load generate.Loader) (*generate.Router, error) {
	backends := Backends(cfg)
	if len(backends) == 0 {
		return nil, poderrors.New(poderrors.ErrCodeNoBackendConfigured, "no generation backend is configured", nil)
	}

	var rc generate.RouterConfig
	for _, field := range []struct {
		name  string
		value string
		dst   *generate.BackendID
	}{
		{"primary", cfg.Primary, &rc.Primary},
		{"fallback", cfg.Fallback, &rc.Fallback},
		{"long_context", cfg.LongContext, &rc.LongContext},
	} {
		if field.value == "" {
			continue
		}
		id, err := generate.ParseBackendID(field.value)
		if err != nil {
			return nil, poderrors.ConfigError(fmt.Sprintf("generation.%s", field.name), err)
		}
		*field.dst = id
	}
	rc.UseLongContext = cfg.UseLongContext
	rc.LongContextThreshold = cfg.LongContextThreshold
	rc.MaxTokensOverride = cfg.MaxTokensOverride
	rc.TemperatureOverride = cfg.TemperatureOverride

	registry := generate.NewRegistry(backends, load, generate.WithSerializedCalls(cfg.SerializeCalls))
	return generate.NewRouter(registry, rc), nil
}

// Backends converts the configured backend table into backend variants.
// Entries whose key is not a known backend are skipped with a warning.
func Backends(cfg config.GenerationConfig) []generate.Backend {
	keys := make([]string, 0, len(cfg.Backends))
	for k := range cfg.Backends {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[generate.BackendID]bool)
	var out []generate.Backend
	for _, key := range keys {
		id, err := generate.ParseBackendID(key)
		if err != nil {
			slog.Warn("backend_ignored", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		bc := cfg.Backends[key]
		b := generate.DefaultBackend(id)
		if bc.Provider != "" {
			b.Provider = bc.Provider
		}
		if bc.Endpoint != "" {
			b.Endpoint = bc.Endpoint
		}
		if bc.Model != "" {
			b.Model = bc.Model
		}
		if bc.ContextSize > 0 {
			b.ContextSize = bc.ContextSize
		}
		if bc.MaxTokens > 0 {
			b.MaxTokens = bc.MaxTokens
		}
		b.Temperature = bc.Temperature
		out = append(out, b)
	}
	return out
}

// Close releases every loaded model.
func (inf *Inference) Close() error {
	var errs []error
	if inf.Embedder != nil {
		errs = append(errs, inf.Embedder.Close())
	}
	if inf.Router != nil {
		errs = append(errs, inf.Router.Registry().Close())
	}
	if inf.Reranker != nil {
		errs = append(errs, inf.Reranker.Close())
	}
	return errors.Join(errs...)
}
