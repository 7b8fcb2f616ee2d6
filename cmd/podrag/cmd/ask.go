package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
	"github.com/Aman-CERP/podrag/internal/generate"
	"github.com/Aman-CERP/podrag/internal/output"
	"github.com/Aman-CERP/podrag/internal/rag"
)

// queryFlags are shared by ask and search.
type queryFlags struct {
	podcast     string
	topics      []string
	topK        int
	rerank      bool
	noRerank    bool
	backend     string
	longContext bool
	jsonOutput  bool
}

func (f *queryFlags) register(cmd *cobra.Command, generation bool) {
	cmd.Flags().StringVar(&f.podcast, "podcast", "", "Only search this podcast")
	cmd.Flags().StringSliceVar(&f.topics, "topic", nil, "Only search chunks tagged with these topics (repeatable)")
	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "Number of passages to use (default from config)")
	cmd.Flags().BoolVar(&f.rerank, "rerank", false, "Rerank retrieved passages")
	cmd.Flags().BoolVar(&f.noRerank, "no-rerank", false, "Disable reranking even if configured")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Output as JSON")
	if generation {
		cmd.Flags().StringVar(&f.backend, "backend", "", "Try this backend first: phi3_mini, tinyllama, llama3_8b")
		cmd.Flags().BoolVar(&f.longContext, "long-context", false, "Prefer the long-context backend for large prompts")
	}
}

func (f *queryFlags) options() (rag.AskOptions, error) {
	opts := rag.AskOptions{
		Podcast:     f.podcast,
		Topics:      f.topics,
		TopK:        f.topK,
		LongContext: f.longContext,
	}
	switch {
	case f.rerank && f.noRerank:
		return opts, poderrors.ValidationError("--rerank and --no-rerank are mutually exclusive", nil)
	case f.rerank:
		on := true
		opts.Rerank = &on
	case f.noRerank:
		off := false
		opts.Rerank = &off
	}
	if f.backend != "" {
		id, err := generate.ParseBackendID(f.backend)
		if err != nil {
			return opts, poderrors.ValidationError(err.Error(), nil)
		}
		opts.Backend = id
	}
	return opts, nil
}

func newAskCmd() *cobra.Command {
	var f queryFlags

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed transcripts",
		Long: `Retrieve the most relevant transcript passages and generate an answer
from them with the configured language model.

If the primary backend is unavailable or its context window is too small,
the answer is generated by the fallback backend and a note says so.`,
		Example: `  podrag ask "What did the guest say about hiring?"
  podrag ask "pricing strategy" --podcast "Founders" --rerank
  podrag ask "long question" --backend llama3_8b --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, strings.Join(args, " "), f)
		},
	}
	f.register(cmd, true)
	return cmd
}

func runAsk(cmd *cobra.Command, question string, f queryFlags) error {
	opts, err := f.options()
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	answer, err := a.pipeline().Ask(cmd.Context(), question, opts)
	if err != nil {
		return err
	}

	if f.jsonOutput {
		return writeJSON(cmd, answerJSON(answer))
	}
	output.New(cmd.OutOrStdout()).Answer(answer)
	return nil
}

type answerOutput struct {
	Question string      `json:"question"`
	Answer   string      `json:"answer"`
	Backend  string      `json:"backend,omitempty"`
	Notes    []string    `json:"notes,omitempty"`
	Reranked bool        `json:"reranked"`
	Sources  []hitOutput `json:"sources"`
}

type hitOutput struct {
	ChunkID     string   `json:"chunk_id"`
	Title       string   `json:"title"`
	Podcast     string   `json:"podcast"`
	Guest       string   `json:"guest,omitempty"`
	Date        string   `json:"date"`
	URL         string   `json:"url"`
	Score       float64  `json:"score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
	Text        string   `json:"text"`
}

func answerJSON(a rag.Answer) answerOutput {
	return answerOutput{
		Question: a.Question,
		Answer:   a.Text,
		Backend:  string(a.Generation.Backend),
		Notes:    a.Generation.Notes,
		Reranked: a.Reranked,
		Sources:  hitsJSON(a),
	}
}

func hitsJSON(a rag.Answer) []hitOutput {
	out := make([]hitOutput, 0, len(a.Hits))
	for _, h := range a.Hits {
		out = append(out, hitOutput{
			ChunkID:     h.ID,
			Title:       h.Chunk.Title,
			Podcast:     h.Chunk.PodcastName,
			Guest:       h.Chunk.Guest,
			Date:        h.Chunk.Date,
			URL:         h.Chunk.URL,
			Score:       h.Score,
			RerankScore: h.RerankScore,
			Text:        h.Chunk.ChunkText,
		})
	}
	return out
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
