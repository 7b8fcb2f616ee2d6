package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
	"github.com/Aman-CERP/podrag/internal/generate"
	"github.com/Aman-CERP/podrag/internal/prompt"
	"github.com/Aman-CERP/podrag/internal/search"
	"github.com/Aman-CERP/podrag/internal/store"
)

// NoResultsText is the answer when retrieval finds nothing.
const NoResultsText = "I couldn't find any relevant information in the podcast transcripts."

// DefaultRerankCandidates is how many hits are retrieved for reranking.
const DefaultRerankCandidates = 20

// Options configures a Pipeline.
type Options struct {
	Index string

	// TopK is the default number of hits used as context.
	TopK int

	// MaxContextChars bounds each chunk in the assembled context.
	MaxContextChars int

	// RerankCandidates is the retrieval depth when reranking.
	RerankCandidates int

	// Rerank enables reranking for requests that do not choose.
	Rerank bool

	// Weights are handed to the retriever. Zero means equal weights.
	Weights search.Weights
}

// AskOptions are per-question settings. Zero values use the pipeline
// defaults.
type AskOptions struct {
	Podcast string
	Topics  []string
	TopK    int

	// Rerank overrides Options.Rerank when non-nil.
	Rerank *bool

	// Backend is tried before the primary backend.
	Backend generate.BackendID

	// LongContext prefers the long-context backend for large prompts.
	LongContext bool
}

// Answer is the outcome of Ask.
type Answer struct {
	Question string

	// Text is the answer with any degradation notes appended.
	Text string

	// Hits are the passages the answer was generated from.
	Hits []search.SearchHit

	// Generation is the router result. Zero when retrieval found nothing.
	Generation generate.Result

	Reranked bool
}

// Found reports whether any passage was retrieved.
func (a Answer) Found() bool {
	return len(a.Hits) > 0
}

// Pipeline wires embedding, retrieval, reranking, context assembly and
// generation into one question-answering operation.
type Pipeline struct {
	inference *Inference
	retriever *search.HybridRetriever
	assembler *prompt.Assembler
	opts      Options
}

// NewPipeline creates a pipeline over st.
func NewPipeline(st store.DocumentStore, inf *Inference, opts Options) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = search.DefaultSize
	}
	if opts.RerankCandidates <= 0 {
		opts.RerankCandidates = DefaultRerankCandidates
	}
	if opts.Index == "" {
		opts.Index = store.DefaultIndex
	}
	var ropts []search.Option
	if opts.Weights != (search.Weights{}) {
		ropts = append(ropts, search.WithWeights(opts.Weights))
	}
	return &Pipeline{
		inference: inf,
		retriever: search.NewHybridRetriever(st, opts.Index, ropts...),
		assembler: prompt.NewAssembler(opts.MaxContextChars),
		opts:      opts,
	}
}

// Retriever returns the hybrid retriever.
func (p *Pipeline) Retriever() *search.HybridRetriever {
	return p.retriever
}

// Ask answers question from the indexed transcripts. Retrieval failures
// are returned as errors; generation failures are explained in the
// answer text.
func (p *Pipeline) Ask(ctx context.Context, question string, opts AskOptions) (Answer, error) {
	start := time.Now()
	question = strings.TrimSpace(question)
	ans := Answer{Question: question}

	hits, reranked, err := p.retrieve(ctx, question, opts)
	if err != nil {
		return ans, err
	}
	ans.Hits = hits
	ans.Reranked = reranked

	if len(hits) == 0 {
		ans.Text = NoResultsText
		slog.Info("ask_no_results",
			slog.String("podcast", opts.Podcast),
			slog.Duration("duration", time.Since(start)))
		return ans, nil
	}

	contextText := p.assembler.Assemble(hits)
	result := p.inference.Router.Generate(ctx, generate.Request{
		Prompt:            prompt.Build(question, contextText),
		Preferred:         opts.Backend,
		PreferLongContext: opts.LongContext,
	})
	ans.Generation = result
	ans.Text = result.Answer()

	slog.Info("ask_completed",
		slog.Int("hits", len(hits)),
		slog.Bool("reranked", reranked),
		slog.String("backend", string(result.Backend)),
		slog.Bool("ok", result.OK),
		slog.Int("context_chars", len(contextText)),
		slog.Duration("duration", time.Since(start)))
	return ans, nil
}

// Search runs retrieval, and reranking when enabled, without generating
// an answer.
func (p *Pipeline) Search(ctx context.Context, query string, opts AskOptions) ([]search.SearchHit, error) {
	hits, _, err := p.retrieve(ctx, strings.TrimSpace(query), opts)
	return hits, err
}

func (p *Pipeline) retrieve(ctx context.Context, question string, opts AskOptions) ([]search.SearchHit, bool, error) {
	if question == "" {
		return nil, false, poderrors.New(poderrors.ErrCodeQueryEmpty, "question must not be empty", nil)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = p.opts.TopK
	}
	rerank := p.opts.Rerank
	if opts.Rerank != nil {
		rerank = *opts.Rerank
	}
	if p.inference.Reranker == nil {
		rerank = false
	}

	embedding, err := p.inference.Embedder.Embed(ctx, question)
	if err != nil {
		return nil, false, embeddingError(err)
	}

	size := topK
	if rerank {
		size = max(topK, p.opts.RerankCandidates)
	}
	filters := search.Filters{Podcast: opts.Podcast, Topics: opts.Topics}
	hits, err := p.retriever.Search(ctx, question, embedding, size, filters)
	if err != nil {
		return nil, false, err
	}

	if !rerank || len(hits) == 0 {
		if len(hits) > topK {
			hits = hits[:topK]
		}
		return hits, false, nil
	}
	hits, err = p.inference.Reranker.Rerank(ctx, question, hits, topK)
	if err != nil {
		return nil, false, err
	}
	return hits, true, nil
}

func embeddingError(err error) error {
	if poderrors.GetCode(err) != "" {
		return err
	}
	return poderrors.New(poderrors.ErrCodeEmbeddingFailed, "failed to embed question", err)
}
