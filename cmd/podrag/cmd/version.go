package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/podrag/internal/output"
	"github.com/Aman-CERP/podrag/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var (
		jsonOutput bool
		short      bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case short:
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return err
			case jsonOutput:
				return writeJSON(cmd, version.GetInfo())
			case verbose:
				info := version.GetInfo()
				out := output.New(cmd.OutOrStdout())
				out.Header("podrag " + info.Version)
				out.Field("commit", info.Commit)
				out.Field("built", info.Date)
				out.Field("go", info.GoVersion)
				out.Field("platform", info.OS+"/"+info.Arch)
				return nil
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&short, "short", false, "Output only the version number")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Output one field per line")

	return cmd
}
