package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/podrag/internal/ingest"
	"github.com/Aman-CERP/podrag/internal/output"
)

type ingestFlags struct {
	watch           bool
	force           bool
	recreate        bool
	stripTimestamps bool
	workers         int
	podcast         string
	host            string
	date            string
	jsonOutput      bool
}

func newIngestCmd() *cobra.Command {
	var f ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest [dir]",
		Short: "Index a directory of transcripts",
		Long: `Index every .txt transcript in a directory.

Each file becomes one episode (ep-001, ep-002, ... in file name order). The
title comes from the file name; the guest is parsed from the title. Episodes
whose content has not changed since the last run are skipped.

The directory defaults to ingest.transcripts_dir from the configuration.`,
		Example: `  # Index the configured directory
  podrag ingest

  # Index a directory and keep watching it for changes
  podrag ingest ./transcripts --watch

  # Rebuild the index from scratch
  podrag ingest ./transcripts --recreate`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runIngest(cmd, dir, f)
		},
	}

	cmd.Flags().BoolVar(&f.watch, "watch", false, "Keep running and re-ingest when transcripts change")
	cmd.Flags().BoolVar(&f.force, "force", false, "Re-index episodes even when unchanged")
	cmd.Flags().BoolVar(&f.recreate, "recreate", false, "Delete and recreate the index first")
	cmd.Flags().BoolVar(&f.stripTimestamps, "strip-timestamps", false, "Remove [hh:mm:ss] markers before chunking")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Episodes processed in parallel (default from config)")
	cmd.Flags().StringVar(&f.podcast, "podcast", "", "Podcast name recorded on every episode")
	cmd.Flags().StringVar(&f.host, "host", "", "Host name recorded on every episode")
	cmd.Flags().StringVar(&f.date, "date", "", "Publication date recorded on every episode")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Output the run report as JSON")

	return cmd
}

func runIngest(cmd *cobra.Command, dir string, f ingestFlags) error {
	ctx := cmd.Context()
	out := output.New(cmd.OutOrStdout())

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	if err := a.openLedger(); err != nil {
		return err
	}

	if dir == "" {
		dir = a.cfg.Ingest.TranscriptsDir
	}
	defaults := ingest.Defaults{
		PodcastName: firstNonEmpty(f.podcast, a.cfg.Ingest.PodcastName),
		Host:        firstNonEmpty(f.host, a.cfg.Ingest.Host),
		Date:        firstNonEmpty(f.date, a.cfg.Ingest.Date),
	}

	opts := ingest.Options{
		Workers:         f.workers,
		Force:           f.force,
		Recreate:        f.recreate,
		StripTimestamps: f.stripTimestamps,
	}
	if !f.jsonOutput {
		opts.OnProgress = func(done, total int) {
			out.Progress(done, total, "episodes")
		}
	}
	in := a.ingester(opts)

	if !f.jsonOutput {
		out.Statusf("📂", "Ingesting %s into %s", dir, a.cfg.Store.Index)
	}
	report, err := in.IngestDirectory(ctx, dir, defaults)
	if err != nil {
		return err
	}
	if f.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		out.IngestReport(report)
	}

	if !f.watch {
		return nil
	}

	// Later runs must not delete the index again.
	opts.Recreate = false
	opts.Force = false
	opts.OnProgress = nil
	watchIn := a.ingester(opts)

	w, err := ingest.NewWatcher(dir, ingest.DefaultDebounceWindow, func(ctx context.Context, _ []string) error {
		report, err := watchIn.IngestDirectory(ctx, dir, defaults)
		if err != nil {
			return err
		}
		if report.Episodes > 0 {
			out.IngestReport(report)
		}
		return nil
	})
	if err != nil {
		return err
	}
	out.Statusf("👀", "Watching %s for changes (Ctrl+C to stop)", dir)
	return w.Run(ctx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
