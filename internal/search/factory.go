package search

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Reranking providers.
const (
	ProviderHTTP    = "http"
	ProviderLexical = "lexical"
)

// RerankConfig selects the pairwise scorer.
type RerankConfig struct {
	Provider string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// NewScorerLoader returns a loader for the configured provider. The
// cross-encoder is contacted only when the loader runs.
func NewScorerLoader(cfg RerankConfig) (ScorerLoader, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderHTTP:
		return func(ctx context.Context) (PairScorer, error) {
			return NewHTTPCrossEncoder(ctx, CrossEncoderConfig{
				Endpoint: cfg.Endpoint,
				Model:    cfg.Model,
				Timeout:  cfg.Timeout,
			})
		}, nil
	case "", ProviderLexical:
		return func(context.Context) (PairScorer, error) {
			return LexicalScorer{}, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", cfg.Provider)
	}
}
