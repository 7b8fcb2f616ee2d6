package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

// LangchainConfig configures an OpenAI-compatible embedding endpoint
// (llama.cpp server, vLLM, LM Studio, or OpenAI itself).
type LangchainConfig struct {
	// Endpoint is the base URL including /v1
	Endpoint string
	Model    string

	// Token is sent as the bearer token. Local servers accept any value.
	Token string

	Dimensions int
	BatchSize  int
	Timeout    time.Duration
}

// LangchainEmbedder wraps a langchaingo embeddings.Embedder.
type LangchainEmbedder struct {
	model     embeddings.Embedder
	modelName string
	batchSize int
	timeout   time.Duration

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*LangchainEmbedder)(nil)

// NewLangchainEmbedder creates an OpenAI-compatible embedder and checks it
// once to learn the vector dimension.
func NewLangchainEmbedder(ctx context.Context, cfg LangchainConfig) (*LangchainEmbedder, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, poderrors.ConfigError("openai embedding provider needs an endpoint", nil)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Token == "" {
		cfg.Token = "none"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.Endpoint),
		openai.WithToken(cfg.Token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	model, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(max(cfg.BatchSize, 1)))
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}

	e := &LangchainEmbedder{
		model:     model,
		modelName: cfg.Model,
		batchSize: cfg.BatchSize,
		timeout:   cfg.Timeout,
		dims:      cfg.Dimensions,
	}
	if e.dims == 0 {
		loadCtx, cancel := context.WithTimeout(ctx, DefaultLoadTimeout)
		defer cancel()
		vec, err := e.Embed(loadCtx, "dimension detection")
		if err != nil {
			return nil, poderrors.New(poderrors.ErrCodeModelUnavailable, "embedding endpoint not available", err).
				WithDetail("endpoint", cfg.Endpoint)
		}
		e.dims = len(vec)
	}

	slog.Info("embedder_loaded",
		slog.String("provider", ProviderOpenAI),
		slog.String("model", e.modelName),
		slog.Int("dimensions", e.dims))
	return e, nil
}

// Embed generates an embedding vector for text.
func (e *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *LangchainEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed, dims := e.closed, e.dims
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	vectors, err := e.model.EmbedDocuments(callCtx, texts)
	if err != nil {
		slog.Warn("embedding_failed",
			slog.String("model", e.modelName),
			slog.Int("texts", len(texts)),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, poderrors.New(poderrors.ErrCodeEmbeddingFailed, "embedding request failed", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(texts))
	}

	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		if dims != 0 && len(v) != dims {
			return nil, poderrors.New(poderrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("embedding %d dimension mismatch: got %d, want %d", i, len(v), dims), nil)
		}
		out[i] = normalizeVector(v)
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *LangchainEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the embedding model name.
func (e *LangchainEmbedder) ModelName() string {
	return e.modelName
}

// Available embeds a short text.
func (e *LangchainEmbedder) Available(ctx context.Context) bool {
	_, err := e.Embed(ctx, "ping")
	return err == nil
}

// Close marks the embedder closed. The underlying client holds no resources.
func (e *LangchainEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
