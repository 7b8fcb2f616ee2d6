package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/podrag/internal/chunk"
	"github.com/Aman-CERP/podrag/internal/embed"
	poderrors "github.com/Aman-CERP/podrag/internal/errors"
	"github.com/Aman-CERP/podrag/internal/store"
	"github.com/Aman-CERP/podrag/internal/text"
)

// Defaults for Options.
const (
	DefaultWorkers   = 4
	DefaultBatchSize = 32
)

// Options configures an Ingester.
type Options struct {
	Index string

	// Workers bounds how many episodes are chunked and embedded at once.
	Workers   int
	BatchSize int

	// StripTimestamps removes [hh:mm:ss] markers before chunking.
	StripTimestamps bool

	// Force re-indexes episodes whose content has not changed.
	Force bool

	// Recreate deletes the index before ingesting.
	Recreate bool

	// SpaceType and M configure the vector field of a new index.
	SpaceType string
	M         int

	// OnProgress, when set, is called after each episode finishes.
	OnProgress func(done, total int)
}

// Report summarizes one Ingest call.
type Report struct {
	RunID    string        `json:"run_id,omitempty"`
	Episodes int           `json:"episodes"`
	Skipped  int           `json:"skipped"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration_ns"`
}

// dimensioner is implemented by embedders that can discover their vector
// size without embedding real content.
type dimensioner interface {
	EnsureDimensions(ctx context.Context) (int, error)
}

// Ingester chunks, embeds and indexes episodes.
type Ingester struct {
	store    store.DocumentStore
	embedder embed.Embedder
	chunker  *chunk.TranscriptChunker
	ledger   *Ledger
	opts     Options

	// mu serializes runs; the watcher and a manual run may overlap.
	mu sync.Mutex
}

// NewIngester creates an ingester. ledger may be nil, in which case every
// episode is indexed on every run.
func NewIngester(st store.DocumentStore, embedder embed.Embedder, chunker *chunk.TranscriptChunker, ledger *Ledger, opts Options) *Ingester {
	if opts.Index == "" {
		opts.Index = store.DefaultIndex
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if chunker == nil {
		chunker = chunk.NewTranscriptChunker()
	}
	return &Ingester{store: st, embedder: embedder, chunker: chunker, ledger: ledger, opts: opts}
}

// Ingest indexes episodes and refreshes the index. Any store or embedding
// failure aborts the run; episodes indexed before the failure stay indexed.
func (in *Ingester) Ingest(ctx context.Context, episodes []Episode) (Report, error) {
	return in.ingest(ctx, episodes, false)
}

// ingest runs one ingestion. complete marks episodes as the whole corpus,
// so ledger entries missing from it belong to removed transcripts.
func (in *Ingester) ingest(ctx context.Context, episodes []Episode, complete bool) (Report, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	start := time.Now()
	var report Report

	recreate := in.opts.Recreate
	if !recreate && in.ledger != nil {
		reason, err := in.staleReason(ctx, episodes, complete)
		if err != nil {
			return report, err
		}
		if reason != "" {
			slog.Info("index_rebuild", slog.String("index", in.opts.Index), slog.String("reason", reason))
			recreate = true
		}
	}
	if err := in.ensureIndex(ctx, recreate); err != nil {
		return report, err
	}

	if in.ledger != nil {
		runID, err := in.ledger.BeginRun(ctx, in.opts.Index)
		if err != nil {
			return report, poderrors.IOError("cannot start ingestion run", err)
		}
		report.RunID = runID
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.Workers)
	for _, ep := range episodes {
		g.Go(func() error {
			chunks, skipped, err := in.ingestEpisode(gctx, ep, report.RunID)
			if err != nil {
				return fmt.Errorf("episode %s: %w", ep.ID, err)
			}
			mu.Lock()
			if skipped {
				report.Skipped++
			} else {
				report.Episodes++
				report.Chunks += chunks
			}
			done++
			if in.opts.OnProgress != nil {
				in.opts.OnProgress(done, len(episodes))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if err := in.store.Refresh(ctx, in.opts.Index); err != nil {
		return report, err
	}
	if in.ledger != nil {
		if err := in.ledger.FinishRun(ctx, report.RunID, report.Episodes, report.Skipped, report.Chunks); err != nil {
			slog.Warn("ingest_ledger_failed", slog.String("error", err.Error()))
		}
	}

	report.Duration = time.Since(start)
	slog.Info("ingest_completed",
		slog.String("index", in.opts.Index),
		slog.String("run_id", report.RunID),
		slog.Int("episodes", report.Episodes),
		slog.Int("skipped", report.Skipped),
		slog.Int("chunks", report.Chunks),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// staleReason reports why chunks already in the index would outlive this
// run, or "" when upserting is enough. Chunks are removed only by
// rebuilding the index, which happens when an indexed episode id now names
// another file or, for a complete corpus, no file at all, or when a
// changed episode yields fewer chunks than are indexed for it.
func (in *Ingester) staleReason(ctx context.Context, episodes []Episode, complete bool) (string, error) {
	entries, err := in.ledger.Entries(ctx, in.opts.Index)
	if err != nil {
		return "", poderrors.IOError("cannot read ingestion ledger", err)
	}
	if len(entries) == 0 {
		return "", nil
	}

	byID := make(map[string]Episode, len(episodes))
	for _, ep := range episodes {
		byID[ep.ID] = ep
	}
	for _, e := range entries {
		ep, ok := byID[e.EpisodeID]
		if !ok {
			if complete {
				return fmt.Sprintf("episode %s was removed", e.EpisodeID), nil
			}
			continue
		}
		if e.Path != "" && ep.Path != "" && e.Path != ep.Path {
			return fmt.Sprintf("episode %s moved from %s to %s", e.EpisodeID, e.Path, ep.Path), nil
		}
		if e.ContentHash != ep.ContentHash() && len(in.split(ep)) < e.Chunks {
			return fmt.Sprintf("episode %s has fewer chunks", e.EpisodeID), nil
		}
	}
	return "", nil
}

// split chunks the transcript of ep as ingestion indexes it.
func (in *Ingester) split(ep Episode) []chunk.Chunk {
	transcript := ep.Transcript
	if in.opts.StripTimestamps {
		transcript = text.CleanLines(transcript, true)
	}
	return in.chunker.Chunk(transcript)
}

// ensureIndex creates the index with the embedder's dimension, deleting
// it first when recreate is set.
func (in *Ingester) ensureIndex(ctx context.Context, recreate bool) error {
	index := in.opts.Index
	if recreate {
		if err := in.store.DeleteIndex(ctx, index); err != nil && !store.IsIndexNotFound(err) {
			return err
		}
		if in.ledger != nil {
			if err := in.ledger.Reset(ctx, index); err != nil {
				return poderrors.IOError("cannot reset ingestion ledger", err)
			}
		}
	}

	exists, err := in.store.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	dim, err := in.dimensions(ctx)
	if err != nil {
		return err
	}
	mapping := store.DefaultMapping(dim)
	if in.opts.SpaceType != "" {
		mapping.SpaceType = in.opts.SpaceType
	}
	if in.opts.M > 0 {
		mapping.M = in.opts.M
	}
	if err := in.store.CreateIndex(ctx, index, mapping); err != nil {
		return err
	}
	slog.Info("index_created", slog.String("index", index), slog.Int("dimension", dim))
	return nil
}

func (in *Ingester) dimensions(ctx context.Context) (int, error) {
	if d, ok := in.embedder.(dimensioner); ok {
		dim, err := d.EnsureDimensions(ctx)
		if err != nil {
			return 0, embeddingError(err)
		}
		return dim, nil
	}
	if dim := in.embedder.Dimensions(); dim > 0 {
		return dim, nil
	}
	vec, err := in.embedder.Embed(ctx, "dimension check")
	if err != nil {
		return 0, embeddingError(err)
	}
	return len(vec), nil
}

// ingestEpisode indexes one episode and reports its chunk count, or
// skipped when the ledger shows the same content already indexed.
func (in *Ingester) ingestEpisode(ctx context.Context, ep Episode, runID string) (int, bool, error) {
	hash := ep.ContentHash()
	if in.ledger != nil && !in.opts.Force {
		entry, ok, err := in.ledger.Lookup(ctx, in.opts.Index, ep.ID)
		if err != nil {
			return 0, false, poderrors.IOError("cannot read ingestion ledger", err)
		}
		if ok && entry.ContentHash == hash {
			slog.Debug("episode_unchanged", slog.String("episode", ep.ID))
			return 0, true, nil
		}
	}

	chunks := in.split(ep)

	title, guest, _ := chunk.ExtractGuest(ep.Title)
	if ep.Guest != "" {
		guest = ep.Guest
	}
	topics := ep.Topics
	if topics == nil {
		topics = []string{}
	}

	for startIdx := 0; startIdx < len(chunks); startIdx += in.opts.BatchSize {
		batch := chunks[startIdx:min(startIdx+in.opts.BatchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := in.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, false, embeddingError(err)
		}
		if len(vectors) != len(batch) {
			return 0, false, poderrors.New(poderrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(batch)), nil)
		}

		for i, c := range batch {
			id := chunk.ChunkID(ep.ID, c.Position)
			rec := store.ChunkRecord{
				ChunkID:     id,
				EpisodeID:   ep.ID,
				Title:       title,
				PodcastName: ep.PodcastName,
				Host:        ep.Host,
				Guest:       guest,
				Date:        ep.Date,
				ChunkText:   c.Text,
				ChunkIndex:  c.Position,
				Timestamp:   c.Timestamp,
				Topics:      topics,
				URL:         ep.URL,
				Embedding:   vectors[i],
			}
			if err := in.store.IndexDocument(ctx, in.opts.Index, id, rec); err != nil {
				return 0, false, err
			}
		}
	}

	if in.ledger != nil {
		err := in.ledger.Record(ctx, Entry{
			EpisodeID:   ep.ID,
			Index:       in.opts.Index,
			Path:        ep.Path,
			ContentHash: hash,
			Chunks:      len(chunks),
			RunID:       runID,
		})
		if err != nil {
			return 0, false, poderrors.IOError("cannot update ingestion ledger", err)
		}
	}

	attrs := []any{
		slog.String("episode", ep.ID),
		slog.String("title", title),
		slog.Int("chunks", len(chunks)),
	}
	if guest != "" {
		attrs = append(attrs, slog.String("guest", guest))
	}
	slog.Info("episode_ingested", attrs...)
	return len(chunks), false, nil
}

func embeddingError(err error) error {
	if poderrors.GetCode(err) != "" {
		return err
	}
	return poderrors.New(poderrors.ErrCodeEmbeddingFailed, "embedding failed", err)
}

// IngestDirectory loads every transcript of dir and ingests it. Unchanged
// episodes are skipped through the ledger, so it is cheap to call again
// after a single file changes. A removed or renamed transcript shifts the
// positional ids of the files after it and rebuilds the index.
func (in *Ingester) IngestDirectory(ctx context.Context, dir string, d Defaults) (Report, error) {
	episodes, err := LoadDirectory(dir, d)
	if err != nil {
		return Report{}, err
	}
	return in.ingest(ctx, episodes, true)
}
