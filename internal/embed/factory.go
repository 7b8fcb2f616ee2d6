package embed

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config selects and tunes an embedding provider.
type Config struct {
	// Provider is "ollama", "openai" or "static".
	Provider   string
	Model      string
	OllamaHost string

	// Endpoint is the OpenAI-compatible base URL for the "openai" provider.
	Endpoint string

	Dimensions int
	BatchSize  int
	Timeout    time.Duration

	// CacheSize bounds the LRU; negative disables caching.
	CacheSize int
}

// NewEmbedder returns a lazily loaded, cached embedder for cfg. Nothing
// touches the network until the first embedding or dimension request.
func NewEmbedder(cfg Config) (*LazyEmbedder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOllama
	}

	var load LoadFunc
	switch provider {
	case ProviderOllama:
		load = func(ctx context.Context) (Embedder, error) {
			ocfg := DefaultOllamaConfig()
			ocfg.Host = cfg.OllamaHost
			ocfg.Model = cfg.Model
			ocfg.Dimensions = cfg.Dimensions
			ocfg.BatchSize = cfg.BatchSize
			ocfg.Timeout = cfg.Timeout
			return NewOllamaEmbedder(ctx, ocfg)
		}
	case ProviderOpenAI:
		load = func(ctx context.Context) (Embedder, error) {
			return NewLangchainEmbedder(ctx, LangchainConfig{
				Endpoint:   cfg.Endpoint,
				Model:      cfg.Model,
				Dimensions: cfg.Dimensions,
				BatchSize:  cfg.BatchSize,
				Timeout:    cfg.Timeout,
			})
		}
	case ProviderStatic:
		load = func(context.Context) (Embedder, error) {
			return NewStaticEmbedder(), nil
		}
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if cfg.CacheSize >= 0 {
		inner := load
		load = func(ctx context.Context) (Embedder, error) {
			e, err := inner(ctx)
			if err != nil {
				return nil, err
			}
			return NewCachedEmbedder(e, cfg.CacheSize), nil
		}
	}

	name := cfg.Model
	if provider == ProviderStatic {
		name = "static-hash-256"
	}
	return NewLazyEmbedder(name, load), nil
}
