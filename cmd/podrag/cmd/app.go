package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/podrag/internal/chunk"
	"github.com/Aman-CERP/podrag/internal/config"
	poderrors "github.com/Aman-CERP/podrag/internal/errors"
	"github.com/Aman-CERP/podrag/internal/ingest"
	"github.com/Aman-CERP/podrag/internal/rag"
	"github.com/Aman-CERP/podrag/internal/search"
	"github.com/Aman-CERP/podrag/internal/store"
)

// app holds the resources one command needs. Fields are nil until opened.
type app struct {
	cfg    *config.Config
	store  store.DocumentStore
	inf    *rag.Inference
	ledger *ingest.Ledger
}

// loadConfig loads the configuration for the working directory.
func loadConfig() (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	cfg, err := config.Load(wd)
	if err != nil {
		return nil, poderrors.ConfigError("failed to load configuration", err).
			WithSuggestion("Run 'podrag config show' to inspect the effective configuration")
	}
	return cfg, nil
}

// openApp loads configuration, opens the store and builds the model handles.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	a.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.inf, err = rag.NewInference(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// openLedger opens the ingestion ledger next to the local indexes.
func (a *app) openLedger() error {
	path := ""
	if a.cfg.Store.DataDir != "" {
		if err := os.MkdirAll(a.cfg.Store.DataDir, 0o755); err != nil {
			return poderrors.IOError("cannot create data directory", err)
		}
		path = filepath.Join(a.cfg.Store.DataDir, ingest.LedgerFile)
	}
	l, err := ingest.OpenLedger(path)
	if err != nil {
		return poderrors.IOError("cannot open ingestion ledger", err)
	}
	a.ledger = l
	return nil
}

func openStore(cfg *config.Config) (store.DocumentStore, error) {
	return store.Open(store.Options{
		Backend:  cfg.Store.Backend,
		DataDir:  cfg.Store.DataDir,
		EfSearch: cfg.Store.Vector.EfSearch,
		OpenSearch: store.OpenSearchConfig{
			Host:               cfg.Store.OpenSearch.Host,
			Username:           cfg.Store.OpenSearch.Username,
			Password:           cfg.Store.OpenSearch.Password,
			InsecureSkipVerify: cfg.Store.OpenSearch.InsecureSkipVerify,
			Timeout:            config.Duration(cfg.Store.OpenSearch.Timeout, 0),
		},
	})
}

// pipeline builds the question-answering pipeline from configuration.
func (a *app) pipeline() *rag.Pipeline {
	return rag.NewPipeline(a.store, a.inf, rag.Options{
		Index:            a.cfg.Store.Index,
		TopK:             a.cfg.Search.TopK,
		MaxContextChars:  a.cfg.Context.MaxChars,
		RerankCandidates: a.cfg.Search.Rerank.Candidates,
		Rerank:           a.cfg.Search.Rerank.Enabled,
		Weights: search.Weights{
			BM25:     a.cfg.Search.BM25Weight,
			Semantic: a.cfg.Search.SemanticWeight,
		},
	})
}

// ingester builds an ingester writing to the configured index.
func (a *app) ingester(opts ingest.Options) *ingest.Ingester {
	opts.Index = a.cfg.Store.Index
	if opts.Workers <= 0 {
		opts.Workers = a.cfg.Ingest.Workers
	}
	opts.BatchSize = a.cfg.Embeddings.BatchSize
	opts.StripTimestamps = opts.StripTimestamps || a.cfg.Chunking.StripTimestamps
	opts.SpaceType = store.SpaceType(a.cfg.Store.Vector.Metric)
	opts.M = a.cfg.Store.Vector.M

	chunker := chunk.NewTranscriptChunkerWithOptions(chunk.Options{
		MaxTokens:     a.cfg.Chunking.MaxTokens,
		OverlapTokens: a.cfg.Chunking.OverlapTokens,
	})
	return ingest.NewIngester(a.store, a.inf.Embedder, chunker, a.ledger, opts)
}

// Close releases everything the app opened.
func (a *app) Close() error {
	var errs []error
	if a.inf != nil {
		errs = append(errs, a.inf.Close())
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
