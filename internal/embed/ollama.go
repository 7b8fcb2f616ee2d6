package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

// Ollama API constants
const (
	// DefaultOllamaHost is the default Ollama API endpoint
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel matches the 384-dim sentence model transcripts were indexed with
	DefaultOllamaModel = "all-minilm"

	// OllamaPoolSize for connection pool
	OllamaPoolSize = 4
)

// FallbackOllamaModels are tried in order if the configured model is not pulled.
var FallbackOllamaModels = []string{
	"nomic-embed-text",
	"mxbai-embed-large",
}

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	Host  string
	Model string

	// FallbackModels are tried in order if Model is not available
	FallbackModels []string

	// Dimensions overrides auto-detection (0 = auto-detect)
	Dimensions int

	BatchSize int
	Timeout   time.Duration

	// Retry governs transient failures of /api/embed
	Retry poderrors.RetryConfig

	// SkipHealthCheck skips model discovery (for tests)
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns sensible defaults
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:           DefaultOllamaHost,
		Model:          DefaultOllamaModel,
		FallbackModels: FallbackOllamaModels,
		BatchSize:      DefaultBatchSize,
		Timeout:        DefaultTimeout,
		Retry:          poderrors.DefaultRetryConfig(),
	}
}

type ollamaModelInfo struct {
	Name string `json:"name"`
}

type ollamaModelList struct {
	Models []ollamaModelInfo `json:"models"`
}

// OllamaEmbedder generates embeddings through langchaingo's Ollama client.
// Model discovery reads /api/tags directly, which langchaingo does not expose.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	llm       *ollama.LLM
	config    OllamaConfig
	modelName string
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is
// set it resolves the model against /api/tags and detects the dimension
// from a test embedding.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = def.FallbackModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = def.Retry
	}

	// Per-request deadlines come from context.WithTimeout, not http.Client.Timeout,
	// so caller cancellation always wins.
	transport := &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		IdleConnTimeout:     30 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if cfg.SkipHealthCheck {
		if err := e.connect(); err != nil {
			return nil, err
		}
		return e, nil
	}

	checkCtx, cancel := context.WithTimeout(ctx, DefaultLoadTimeout)
	defer cancel()

	modelName, err := e.findAvailableModel(checkCtx)
	if err != nil {
		transport.CloseIdleConnections()
		return nil, poderrors.New(poderrors.ErrCodeModelUnavailable, "embedding model not available in Ollama", err).
			WithDetail("host", cfg.Host).
			WithSuggestion(fmt.Sprintf("Run 'ollama pull %s'", cfg.Model))
	}
	e.modelName = modelName
	if err := e.connect(); err != nil {
		transport.CloseIdleConnections()
		return nil, err
	}

	if e.dims == 0 {
		vecs, err := e.doEmbed(checkCtx, []string{"dimension detection"})
		if err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
		}
		if len(vecs) == 0 || len(vecs[0]) == 0 {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to detect embedding dimensions: empty embedding returned")
		}
		e.dims = len(vecs[0])
	}

	slog.Info("embedder_loaded",
		slog.String("provider", ProviderOllama),
		slog.String("model", e.modelName),
		slog.Int("dimensions", e.dims))
	return e, nil
}

// connect creates the langchaingo client for the resolved model.
func (e *OllamaEmbedder) connect() error {
	llm, err := ollama.New(
		ollama.WithServerURL(e.config.Host),
		ollama.WithModel(e.modelName),
	)
	if err != nil {
		return poderrors.ConfigError("cannot create ollama client", err).WithDetail("host", e.config.Host)
	}
	e.llm = llm
	return nil
}

// listModels gets available models from Ollama
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]ollamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, poderrors.NetworkError("failed to connect to Ollama", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result ollamaModelList
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// findAvailableModel matches the configured model, then the fallbacks,
// by full name or by name without tag.
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base := strings.Split(name, ":")[0]
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, c := range candidates {
		name := strings.ToLower(c)
		if actual, ok := available[name]; ok {
			return actual, nil
		}
		if actual, ok := available[strings.Split(name, ":")[0]]; ok {
			return actual, nil
		}
	}
	return "", fmt.Errorf("no embedding model available (tried %v)", candidates)
}

// Embed generates embedding for a single text
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in BatchSize requests, retrying transient failures.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for i, batch := range batches(texts, e.config.BatchSize) {
		vecs, err := poderrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
			callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()
			return e.doEmbed(callCtx, batch)
		})
		if err != nil {
			slog.Warn("embedding_batch_failed",
				slog.Int("batch", i),
				slog.Int("texts", len(batch)),
				slog.String("error", err.Error()))
			return nil, poderrors.New(poderrors.ErrCodeEmbeddingFailed, "embedding request failed", err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("ollama returned %d vectors for %d texts", len(vecs), len(batch))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// doEmbed embeds one batch. Runtime failures are reported as network
// errors so the caller's retry covers a restarting server.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, poderrors.New(poderrors.ErrCodeNetworkTimeout, "ollama embedding timed out", err)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		return nil, poderrors.NetworkError("ollama embedding request failed", err)
	}

	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		out[i] = normalizeVector(v)
	}
	return out, nil
}

// Dimensions returns the embedding dimension
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier
func (e *OllamaEmbedder) ModelName() string {
	return e.modelName
}

// Available checks if Ollama is running and the model is pulled
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	models, err := e.listModels(ctx)
	if err != nil {
		return false
	}
	want := strings.Split(strings.ToLower(e.modelName), ":")[0]
	for _, m := range models {
		if strings.Split(strings.ToLower(m.Name), ":")[0] == want {
			return true
		}
	}
	return false
}

// Close releases resources
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
