package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/podrag/internal/output"
	"github.com/Aman-CERP/podrag/internal/rag"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Long:  `Show the number of indexed chunks, episodes and podcasts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			stats, err := rag.IndexStats(cmd.Context(), st, cfg.Store.Index)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, stats)
			}
			output.New(cmd.OutOrStdout()).Stats(stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
