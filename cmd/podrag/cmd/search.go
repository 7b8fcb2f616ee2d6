package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/podrag/internal/output"
	"github.com/Aman-CERP/podrag/internal/rag"
)

func newSearchCmd() *cobra.Command {
	var f queryFlags

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve matching transcript passages without generating an answer",
		Long: `Run hybrid (keyword + vector) retrieval and print the ranked passages.

No language model is loaded, so this is a quick way to check what ask
would use as context.`,
		Example: `  podrag search "hiring engineers"
  podrag search "pricing" --podcast "Founders" -k 10 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), f)
		},
	}
	f.register(cmd, false)
	return cmd
}

func runSearch(cmd *cobra.Command, query string, f queryFlags) error {
	opts, err := f.options()
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	hits, err := a.pipeline().Search(cmd.Context(), query, opts)
	if err != nil {
		return err
	}

	if f.jsonOutput {
		return writeJSON(cmd, hitsJSON(rag.Answer{Hits: hits}))
	}
	output.New(cmd.OutOrStdout()).Hits(hits)
	return nil
}
