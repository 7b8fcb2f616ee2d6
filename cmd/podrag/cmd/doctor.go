package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
	"github.com/Aman-CERP/podrag/internal/output"
	"github.com/Aman-CERP/podrag/internal/search"
	"github.com/Aman-CERP/podrag/internal/store"
)

const doctorTimeout = 30 * time.Second

// checkResult is one doctor diagnostic.
type checkResult struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Detail   string `json:"detail"`
	Critical bool   `json:"critical"`
}

// dimensioner is implemented by embedders that can report their vector size.
type dimensioner interface {
	EnsureDimensions(ctx context.Context) (int, error)
}

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the store, embedder and generation backends",
		Long: `Run diagnostics against every configured collaborator:

  - Document store reachability and whether the index exists
  - Embedding model availability and vector dimension
  - Each generation backend (phi3_mini, tinyllama, llama3_8b)
  - The reranker, when reranking is enabled

The command fails when the store is unreachable or no generation backend
is available.`,
		Example: `  podrag doctor
  podrag doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDoctor(cmd *cobra.Command, jsonOutput bool) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
	defer cancel()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	results := []checkResult{checkStore(ctx, a.store, a.cfg.Store.Backend, a.cfg.Store.Index)}
	results = append(results, checkEmbedder(ctx, a)...)
	results = append(results, checkBackends(ctx, a)...)
	if a.cfg.Search.Rerank.Enabled {
		results = append(results, checkReranker(ctx, a))
	}

	if jsonOutput {
		if err := writeJSON(cmd, results); err != nil {
			return err
		}
	} else {
		out := output.New(cmd.OutOrStdout())
		for _, r := range results {
			if !r.OK && !r.Critical {
				out.Warningf("%s: %s", r.Name, r.Detail)
				continue
			}
			out.Check(r.Name, r.OK, r.Detail)
		}
	}

	return doctorVerdict(results)
}

func checkStore(ctx context.Context, st store.DocumentStore, backend, index string) checkResult {
	r := checkResult{Name: "store", Critical: true}
	exists, err := st.IndexExists(ctx, index)
	if err != nil {
		r.Detail = fmt.Sprintf("%s store unreachable: %v", backend, err)
		return r
	}
	r.OK = true
	if !exists {
		r.Detail = fmt.Sprintf("%s, index %q missing (run 'podrag ingest')", backend, index)
		return r
	}
	count, err := st.Count(ctx, index)
	if err != nil {
		r.OK = false
		r.Detail = fmt.Sprintf("%s, index %q unreadable: %v", backend, index, err)
		return r
	}
	r.Detail = fmt.Sprintf("%s, index %q holds %d chunks", backend, index, count)
	return r
}

func checkEmbedder(ctx context.Context, a *app) []checkResult {
	e := a.inf.Embedder
	r := checkResult{Name: "embedder", Critical: true}
	if !e.Available(ctx) {
		r.Detail = fmt.Sprintf("%s (%s) unavailable", e.ModelName(), a.cfg.Embeddings.Provider)
		return []checkResult{r}
	}
	dims := e.Dimensions()
	if d, ok := e.(dimensioner); ok {
		n, err := d.EnsureDimensions(ctx)
		if err != nil {
			r.Detail = fmt.Sprintf("%s: %v", e.ModelName(), err)
			return []checkResult{r}
		}
		dims = n
	}
	r.OK = true
	r.Detail = fmt.Sprintf("%s, %d dimensions", e.ModelName(), dims)
	return []checkResult{r}
}

func checkBackends(ctx context.Context, a *app) []checkResult {
	reg := a.inf.Router.Registry()
	var results []checkResult
	for _, b := range reg.Backends() {
		r := checkResult{Name: string(b.ID)}
		if err := reg.Load(ctx, b.ID); err != nil {
			r.Detail = err.Error()
		} else {
			r.OK = true
			r.Detail = fmt.Sprintf("%s via %s at %s (context %d)", b.Model, b.Provider, b.Endpoint, b.ContextSize)
		}
		results = append(results, r)
	}
	return results
}

func checkReranker(ctx context.Context, a *app) checkResult {
	r := checkResult{Name: "reranker"}
	sample := []search.SearchHit{{ID: "check", Chunk: store.ChunkRecord{ChunkText: "check"}}}
	if _, err := a.inf.Reranker.Rerank(ctx, "check", sample, 1); err != nil {
		r.Detail = err.Error()
		return r
	}
	r.OK = true
	r.Detail = a.cfg.Search.Rerank.Provider
	return r
}

// doctorVerdict fails when a critical check failed or no backend is usable.
func doctorVerdict(results []checkResult) error {
	backendOK := false
	for _, r := range results {
		if r.Critical && !r.OK {
			return poderrors.New(poderrors.ErrCodeInternal, r.Name+" check failed", nil).
				WithSuggestion(r.Detail)
		}
		if !r.Critical && r.OK && r.Name != "reranker" {
			backendOK = true
		}
	}
	if !backendOK {
		return poderrors.New(poderrors.ErrCodeModelUnavailable, "no generation backend is available", nil).
			WithSuggestion("Start ollama and pull a model, e.g. 'ollama pull phi3:mini'")
	}
	return nil
}
