package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/podrag/internal/ingest"
	"github.com/Aman-CERP/podrag/internal/output"
	"github.com/Aman-CERP/podrag/internal/rag"
	"github.com/Aman-CERP/podrag/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		host  string
		port  int
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API:

  POST /api/search   answer a question with sources
  GET  /api/stats    index statistics
  GET  /health       liveness

With --watch the configured transcripts directory is ingested and watched
by the same process, since the local store can only be opened by one
process at a time.`,
		Example: `  podrag serve
  podrag serve --port 9000 --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, host, port, watch)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen address (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from config)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Ingest and watch the transcripts directory")

	return cmd
}

func runServe(cmd *cobra.Command, host string, port int, watch bool) error {
	out := output.New(cmd.ErrOrStderr())

	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	host = firstNonEmpty(host, a.cfg.Server.Host)
	if port <= 0 {
		port = a.cfg.Server.Port
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	index := a.cfg.Store.Index
	srv := server.New(a.pipeline(), func(ctx context.Context) (rag.Stats, error) {
		return rag.IndexStats(ctx, a.store, index)
	})

	g, ctx := errgroup.WithContext(cmd.Context())
	if watch {
		if err := a.openLedger(); err != nil {
			return err
		}
		dir := a.cfg.Ingest.TranscriptsDir
		defaults := ingest.Defaults{
			PodcastName: a.cfg.Ingest.PodcastName,
			Host:        a.cfg.Ingest.Host,
			Date:        a.cfg.Ingest.Date,
		}
		in := a.ingester(ingest.Options{})
		if _, err := in.IngestDirectory(ctx, dir, defaults); err != nil {
			return err
		}
		w, err := ingest.NewWatcher(dir, ingest.DefaultDebounceWindow, func(ctx context.Context, _ []string) error {
			_, err := in.IngestDirectory(ctx, dir, defaults)
			return err
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
		out.Statusf("👀", "Watching %s", dir)
	}

	g.Go(func() error { return srv.ListenAndServe(ctx, addr) })
	out.Statusf("🚀", "Serving on http://%s", addr)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
