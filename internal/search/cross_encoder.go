package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Cross-encoder defaults.
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	DefaultRerankerModel    = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	DefaultRerankerTimeout  = 30 * time.Second
)

// CrossEncoderConfig configures HTTPCrossEncoder.
type CrossEncoderConfig struct {
	// Endpoint is the rerank server URL. Requests go to Endpoint + "/rerank".
	Endpoint string
	Model    string
	Timeout  time.Duration

	// SkipHealthCheck skips the /health check during creation.
	SkipHealthCheck bool
}

// HTTPCrossEncoder scores pairs with a cross-encoder served over HTTP.
type HTTPCrossEncoder struct {
	client   *http.Client
	config   CrossEncoderConfig
	endpoint string

	mu     sync.RWMutex
	closed bool
}

var _ PairScorer = (*HTTPCrossEncoder)(nil)

// NewHTTPCrossEncoder creates a client and checks the server is healthy.
func NewHTTPCrossEncoder(ctx context.Context, cfg CrossEncoderConfig) (*HTTPCrossEncoder, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRerankerModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}

	c := &HTTPCrossEncoder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		config:   cfg,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := c.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("cross-encoder health check failed: %w", err)
		}
	}

	slog.Debug("cross_encoder_created",
		slog.String("endpoint", c.endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))
	return c, nil
}

func (c *HTTPCrossEncoder) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to rerank server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rerank server unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	Model            string  `json:"model"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Score posts the passages and maps the results back by index.
func (c *HTTPCrossEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("cross-encoder is closed")
	}
	if len(passages) == 0 {
		return []float64{}, nil
	}

	payload, err := json.Marshal(rerankRequest{Query: query, Documents: passages, Model: c.config.Model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpStart := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(passages))
	seen := make([]bool, len(passages))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(passages) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("rerank response missing passage %d", i)
		}
	}

	slog.Debug("cross_encoder_timing",
		slog.Int("doc_count", len(passages)),
		slog.Int("payload_bytes", len(payload)),
		slog.Duration("http_request", time.Since(httpStart)),
		slog.Float64("server_time_ms", result.ProcessingTimeMs))
	return scores, nil
}

// Name returns the model name.
func (c *HTTPCrossEncoder) Name() string {
	return c.config.Model
}

// Available checks if the rerank server answers /health.
func (c *HTTPCrossEncoder) Available(ctx context.Context) bool {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return false
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.healthCheck(checkCtx) == nil
}

// Close releases idle connections.
func (c *HTTPCrossEncoder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.client.CloseIdleConnections()
	return nil
}
