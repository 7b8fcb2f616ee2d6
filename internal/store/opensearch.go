package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

// DefaultOpenSearchHost is the cluster address used when none is configured.
const DefaultOpenSearchHost = "http://localhost:9200"

// OpenSearchConfig configures the OpenSearch client.
type OpenSearchConfig struct {
	Host               string
	Username           string
	Password           string
	InsecureSkipVerify bool

	// Timeout bounds each attempt, retries excluded.
	Timeout time.Duration
	Retry   poderrors.RetryConfig
}

// OpenSearchStore is a DocumentStore backed by an OpenSearch cluster with
// the k-NN plugin.
type OpenSearchStore struct {
	host      string
	cfg       OpenSearchConfig
	client    *opensearchapi.Client
	transport *http.Transport
	breaker   *poderrors.CircuitBreaker
}

var _ DocumentStore = (*OpenSearchStore)(nil)

// NewOpenSearchStore creates a client. It does not contact the cluster.
func NewOpenSearchStore(cfg OpenSearchConfig) (*OpenSearchStore, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOpenSearchHost
	}
	host := strings.TrimRight(cfg.Host, "/")
	base, err := url.Parse(host)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, poderrors.ConfigError(fmt.Sprintf("invalid opensearch host %q", cfg.Host), err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = poderrors.DefaultRetryConfig()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // local clusters ship self-signed certs
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: []string{host},
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: transport,
			// Retries go through poderrors.Retry and the circuit breaker.
			DisableRetry: true,
		},
	})
	if err != nil {
		return nil, poderrors.ConfigError("cannot create opensearch client", err)
	}

	return &OpenSearchStore{
		host:      base.Host,
		cfg:       cfg,
		client:    client,
		transport: transport,
		breaker:   poderrors.NewCircuitBreaker("opensearch"),
	}, nil
}

// reply is the outcome of one client call that reached the cluster.
// err is set for 4xx responses, which are neither retried nor counted
// by the breaker.
type reply[T any] struct {
	value  T
	status int
	err    error
}

// call runs op through the circuit breaker with retries. Transport
// failures, 429 and 5xx responses are retried; anything else is returned
// in the reply for the caller to map.
func call[T any](ctx context.Context, s *OpenSearchStore, op func(context.Context) (T, *opensearch.Response, error)) (reply[T], error) {
	return poderrors.RetryWithResult(ctx, s.cfg.Retry, func() (reply[T], error) {
		return poderrors.CircuitExecute(s.breaker, func() (reply[T], error) {
			attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()

			value, resp, err := op(attemptCtx)
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			if err == nil {
				return reply[T]{value: value, status: status}, nil
			}
			if unavailable := s.unavailable(ctx, status, err); unavailable != nil {
				return reply[T]{}, unavailable
			}
			return reply[T]{value: value, status: status, err: err}, nil
		})
	})
}

// unavailable maps transport failures and server-side statuses to
// retryable errors. It returns nil for client errors.
func (s *OpenSearchStore) unavailable(ctx context.Context, status int, err error) error {
	switch {
	case status == 0:
		var netErr net.Error
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.As(err, &netErr) && netErr.Timeout() {
			return poderrors.New(poderrors.ErrCodeNetworkTimeout, "search store timed out", err)
		}
		return poderrors.StoreUnavailable("cannot reach search store", err).WithDetail("host", s.host)
	case status >= 500 || status == http.StatusTooManyRequests:
		return poderrors.StoreUnavailable(fmt.Sprintf("search store returned %d", status), err)
	}
	return nil
}

// requestError converts a 4xx reply to a typed error.
func requestError[T any](index string, r reply[T], code, message string) error {
	if r.err == nil {
		return nil
	}
	if r.status == http.StatusNotFound {
		return indexNotFound(index)
	}
	return poderrors.New(code, message, r.err).WithDetail("status", fmt.Sprint(r.status))
}

func encode(body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, poderrors.InternalError("cannot encode request body", err)
	}
	return data, nil
}

func (s *OpenSearchStore) search(ctx context.Context, index string, body any) (*opensearchapi.SearchResp, error) {
	payload, err := encode(body)
	if err != nil {
		return nil, err
	}
	r, err := call(ctx, s, func(ctx context.Context) (*opensearchapi.SearchResp, *opensearch.Response, error) {
		resp, err := s.client.Search(ctx, &opensearchapi.SearchReq{
			Indices: []string{index},
			Body:    bytes.NewReader(payload),
		})
		if resp == nil {
			return nil, nil, err
		}
		return resp, resp.Inspect().Response, err
	})
	if err != nil {
		return nil, err
	}
	if err := requestError(index, r, poderrors.ErrCodeSearchFailed, "search failed"); err != nil {
		return nil, err
	}
	return r.value, nil
}

// Search runs q against /{index}/_search.
func (s *OpenSearchStore) Search(ctx context.Context, index string, q Query) ([]Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, poderrors.New(poderrors.ErrCodeInvalidQuery, "invalid query", err)
	}
	resp, err := s.search(ctx, index, q.Body())
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		var record ChunkRecord
		if err := json.Unmarshal(h.Source, &record); err != nil {
			return nil, poderrors.New(poderrors.ErrCodeSearchFailed, "cannot decode search hit", err).
				WithDetail("id", h.ID)
		}
		hits = append(hits, Hit{ID: h.ID, Score: float64(h.Score), Source: record})
	}
	return hits, nil
}

// IndexDocument upserts record under /{index}/_doc/{id}.
func (s *OpenSearchStore) IndexDocument(ctx context.Context, index, id string, record ChunkRecord) error {
	payload, err := encode(record)
	if err != nil {
		return err
	}
	r, err := call(ctx, s, func(ctx context.Context) (*opensearchapi.IndexResp, *opensearch.Response, error) {
		resp, err := s.client.Index(ctx, opensearchapi.IndexReq{
			Index:      index,
			DocumentID: id,
			Body:       bytes.NewReader(payload),
		})
		if resp == nil {
			return nil, nil, err
		}
		return resp, resp.Inspect().Response, err
	})
	if err != nil {
		return err
	}
	if r.err != nil && r.status != http.StatusNotFound && strings.Contains(r.err.Error(), "dimension") {
		return poderrors.New(poderrors.ErrCodeDimensionMismatch, "vector dimension does not match the index", r.err).
			WithSuggestion("Run 'podrag ingest --recreate' to rebuild the index")
	}
	if r.err != nil && r.status != http.StatusNotFound {
		return poderrors.New(poderrors.ErrCodeIndexFailed, "cannot index chunk", r.err).WithDetail("id", id)
	}
	return requestError(index, r, poderrors.ErrCodeIndexFailed, "cannot index chunk")
}

// IndexExists checks HEAD /{index}.
func (s *OpenSearchStore) IndexExists(ctx context.Context, index string) (bool, error) {
	r, err := call(ctx, s, func(ctx context.Context) (struct{}, *opensearch.Response, error) {
		resp, err := s.client.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{Indices: []string{index}})
		return struct{}{}, resp, err
	})
	if err != nil {
		return false, err
	}
	switch {
	case r.status == http.StatusNotFound:
		return false, nil
	case r.err == nil:
		return true, nil
	default:
		return false, poderrors.New(poderrors.ErrCodeSearchFailed, fmt.Sprintf("unexpected status %d", r.status), r.err)
	}
}

// CreateIndex creates the index with the rendered mapping.
func (s *OpenSearchStore) CreateIndex(ctx context.Context, index string, m Mapping) error {
	if err := m.Validate(); err != nil {
		return poderrors.ValidationError("invalid index mapping", err)
	}
	payload, err := encode(m.Body())
	if err != nil {
		return err
	}
	r, err := call(ctx, s, func(ctx context.Context) (*opensearchapi.IndicesCreateResp, *opensearch.Response, error) {
		resp, err := s.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
			Index: index,
			Body:  bytes.NewReader(payload),
		})
		if resp == nil {
			return nil, nil, err
		}
		return resp, resp.Inspect().Response, err
	})
	if err != nil {
		return err
	}
	if r.err != nil {
		return poderrors.New(poderrors.ErrCodeIndexFailed, "cannot create index", r.err).WithDetail("index", index)
	}
	slog.Info("index_created",
		slog.String("index", index),
		slog.Int("dimension", m.Dimension),
		slog.String("store", "opensearch"))
	return nil
}

// DeleteIndex removes the index.
func (s *OpenSearchStore) DeleteIndex(ctx context.Context, index string) error {
	r, err := call(ctx, s, func(ctx context.Context) (*opensearchapi.IndicesDeleteResp, *opensearch.Response, error) {
		resp, err := s.client.Indices.Delete(ctx, opensearchapi.IndicesDeleteReq{Indices: []string{index}})
		if resp == nil {
			return nil, nil, err
		}
		return resp, resp.Inspect().Response, err
	})
	if err != nil {
		return err
	}
	if err := requestError(index, r, poderrors.ErrCodeIndexFailed, "cannot delete index"); err != nil {
		return err
	}
	slog.Info("index_deleted", slog.String("index", index), slog.String("store", "opensearch"))
	return nil
}

// Refresh makes prior writes searchable.
func (s *OpenSearchStore) Refresh(ctx context.Context, index string) error {
	r, err := call(ctx, s, func(ctx context.Context) (*opensearchapi.IndicesRefreshResp, *opensearch.Response, error) {
		resp, err := s.client.Indices.Refresh(ctx, &opensearchapi.IndicesRefreshReq{Indices: []string{index}})
		if resp == nil {
			return nil, nil, err
		}
		return resp, resp.Inspect().Response, err
	})
	if err != nil {
		return err
	}
	return requestError(index, r, poderrors.ErrCodeIndexFailed, "cannot refresh index")
}

// Count returns the number of documents in the index.
func (s *OpenSearchStore) Count(ctx context.Context, index string) (int, error) {
	r, err := call(ctx, s, func(ctx context.Context) (*opensearchapi.IndicesCountResp, *opensearch.Response, error) {
		resp, err := s.client.Indices.Count(ctx, &opensearchapi.IndicesCountReq{Indices: []string{index}})
		if resp == nil {
			return nil, nil, err
		}
		return resp, resp.Inspect().Response, err
	})
	if err != nil {
		return 0, err
	}
	if err := requestError(index, r, poderrors.ErrCodeSearchFailed, "count failed"); err != nil {
		return 0, err
	}
	return r.value.Count, nil
}

// Aggregate runs the aggregations in a size-0 search.
func (s *OpenSearchStore) Aggregate(ctx context.Context, index string, aggs []Aggregation) (map[string]float64, error) {
	rendered := make(map[string]any, len(aggs))
	for _, a := range aggs {
		if a.Type != AggregationCardinality {
			return nil, poderrors.ValidationError(fmt.Sprintf("unsupported aggregation %q", a.Type), nil)
		}
		rendered[a.Name] = map[string]any{a.Type: map[string]any{"field": a.Field}}
	}

	resp, err := s.search(ctx, index, map[string]any{"size": 0, "aggs": rendered})
	if err != nil {
		return nil, err
	}

	var values map[string]struct {
		Value float64 `json:"value"`
	}
	if len(resp.Aggregations) > 0 {
		if err := json.Unmarshal(resp.Aggregations, &values); err != nil {
			return nil, poderrors.New(poderrors.ErrCodeSearchFailed, "cannot decode aggregation response", err)
		}
	}
	out := make(map[string]float64, len(aggs))
	for _, a := range aggs {
		out[a.Name] = values[a.Name].Value
	}
	return out, nil
}

// Close releases idle connections.
func (s *OpenSearchStore) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}
