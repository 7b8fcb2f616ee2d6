package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

const (
	mappingFile = "mapping.json"
	lexicalDir  = "lexical.bleve"
	vectorFile  = "vectors.hnsw"
)

var indexNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// LocalConfig configures the embedded store.
type LocalConfig struct {
	// DataDir holds one directory per index. Empty keeps everything in memory.
	DataDir string

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// LocalStore is an embedded DocumentStore: bleve for the lexical fields
// and stored records, coder/hnsw for vectors.
//
// Query evaluation follows OpenSearch bool semantics. The must clause and
// the filters define the candidates; a should kNN clause adds the vector
// score of the k nearest neighbors that are candidates; a must kNN clause
// limits the candidates to the k nearest neighbors. Hits are ordered by
// lexical plus vector score, ties by id.
type LocalStore struct {
	mu      sync.RWMutex
	cfg     LocalConfig
	lock    *DirLock
	indexes map[string]*localIndex
	closed  bool
}

type localIndex struct {
	dir     string
	mapping Mapping
	lexical *lexicalIndex
	vectors *VectorIndex
	dirty   bool
}

var _ DocumentStore = (*LocalStore)(nil)

// NewLocalStore opens the store, taking the data directory lock.
func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	s := &LocalStore{cfg: cfg, indexes: make(map[string]*localIndex)}
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, poderrors.IOError("cannot create data directory", err).WithDetail("path", cfg.DataDir)
		}
		s.lock = NewDirLock(cfg.DataDir)
		if err := s.lock.TryLock(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func validIndexName(name string) error {
	if !indexNamePattern.MatchString(name) {
		return poderrors.ValidationError(fmt.Sprintf("invalid index name %q", name), nil)
	}
	return nil
}

func (s *LocalStore) indexDir(name string) string {
	if s.cfg.DataDir == "" {
		return ""
	}
	return filepath.Join(s.cfg.DataDir, name)
}

// open returns the named index, loading it from disk if needed.
// Callers hold s.mu for writing.
func (s *LocalStore) open(name string) (*localIndex, error) {
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if err := validIndexName(name); err != nil {
		return nil, err
	}
	if idx, ok := s.indexes[name]; ok {
		return idx, nil
	}

	dir := s.indexDir(name)
	if dir == "" {
		return nil, indexNotFound(name)
	}
	raw, err := os.ReadFile(filepath.Join(dir, mappingFile))
	if os.IsNotExist(err) {
		return nil, indexNotFound(name)
	}
	if err != nil {
		return nil, poderrors.IOError("cannot read index mapping", err)
	}
	var m Mapping
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, poderrors.New(poderrors.ErrCodeCorruptIndex, "index mapping is corrupt", err).WithDetail("index", name)
	}

	lex, err := openLexicalIndex(filepath.Join(dir, lexicalDir), m)
	if err != nil {
		return nil, poderrors.New(poderrors.ErrCodeCorruptIndex, "cannot open lexical index", err).WithDetail("index", name)
	}

	vecPath := filepath.Join(dir, vectorFile)
	var vecs *VectorIndex
	if _, statErr := os.Stat(vecPath + ".meta"); statErr == nil {
		vecs, err = LoadVectorIndex(vecPath)
	} else {
		vecs, err = NewVectorIndex(s.vectorConfig(m))
	}
	if err != nil {
		_ = lex.close()
		return nil, poderrors.New(poderrors.ErrCodeCorruptIndex, "cannot open vector index", err).WithDetail("index", name)
	}

	idx := &localIndex{dir: dir, mapping: m, lexical: lex, vectors: vecs}
	s.indexes[name] = idx
	return idx, nil
}

func (s *LocalStore) vectorConfig(m Mapping) VectorConfig {
	return VectorConfig{
		Dimensions: m.Dimension,
		SpaceType:  m.SpaceType,
		M:          m.M,
		EfSearch:   s.cfg.EfSearch,
	}
}

// IndexExists reports whether the index has been created.
func (s *LocalStore) IndexExists(_ context.Context, index string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.open(index)
	if IsIndexNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// CreateIndex creates an empty index with mapping.
func (s *LocalStore) CreateIndex(_ context.Context, index string, m Mapping) error {
	if err := m.Validate(); err != nil {
		return poderrors.ValidationError("invalid index mapping", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.open(index); err == nil {
		return poderrors.ValidationError(fmt.Sprintf("index %q already exists", index), nil)
	} else if !IsIndexNotFound(err) {
		return err
	}

	dir := s.indexDir(index)
	lexPath := ""
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return poderrors.IOError("cannot create index directory", err)
		}
		raw, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, mappingFile), raw, 0644); err != nil {
			return poderrors.IOError("cannot write index mapping", err)
		}
		lexPath = filepath.Join(dir, lexicalDir)
	}

	lex, err := openLexicalIndex(lexPath, m)
	if err != nil {
		return err
	}
	vecs, err := NewVectorIndex(s.vectorConfig(m))
	if err != nil {
		_ = lex.close()
		return err
	}
	s.indexes[index] = &localIndex{dir: dir, mapping: m, lexical: lex, vectors: vecs}

	slog.Info("index_created",
		slog.String("index", index),
		slog.Int("dimension", m.Dimension),
		slog.String("space_type", m.SpaceType))
	return nil
}

// DeleteIndex closes the index and removes its files.
func (s *LocalStore) DeleteIndex(_ context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.open(index)
	if err != nil {
		return err
	}
	_ = idx.lexical.close()
	_ = idx.vectors.Close()
	delete(s.indexes, index)

	if idx.dir != "" {
		if err := os.RemoveAll(idx.dir); err != nil {
			return poderrors.IOError("cannot remove index directory", err)
		}
	}
	slog.Info("index_deleted", slog.String("index", index))
	return nil
}

// IndexDocument upserts record under id.
func (s *LocalStore) IndexDocument(_ context.Context, index, id string, record ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.open(index)
	if err != nil {
		return err
	}
	if len(record.Embedding) > 0 && len(record.Embedding) != idx.mapping.Dimension {
		return poderrors.New(poderrors.ErrCodeDimensionMismatch,
			ErrDimensionMismatch{Expected: idx.mapping.Dimension, Got: len(record.Embedding)}.Error(), nil)
	}

	if err := idx.lexical.put(id, record); err != nil {
		return poderrors.New(poderrors.ErrCodeIndexFailed, "cannot index chunk", err).WithDetail("id", id)
	}
	if len(record.Embedding) > 0 {
		if err := idx.vectors.Add(id, record.Embedding); err != nil {
			return poderrors.New(poderrors.ErrCodeIndexFailed, "cannot index chunk vector", err).WithDetail("id", id)
		}
	} else {
		idx.vectors.Delete(id)
	}
	idx.dirty = true
	return nil
}

// Refresh persists the vector graph. Bleve writes are visible immediately.
func (s *LocalStore) Refresh(_ context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.open(index)
	if err != nil {
		return err
	}
	return idx.persist()
}

func (idx *localIndex) persist() error {
	if idx.dir == "" || !idx.dirty {
		return nil
	}
	if err := idx.vectors.Save(filepath.Join(idx.dir, vectorFile)); err != nil {
		return poderrors.IOError("cannot save vector index", err)
	}
	idx.dirty = false
	return nil
}

// Count returns the number of documents in the index.
func (s *LocalStore) Count(_ context.Context, index string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.open(index)
	if err != nil {
		return 0, err
	}
	return idx.lexical.count()
}

// Aggregate computes cardinality aggregations from stored records.
func (s *LocalStore) Aggregate(ctx context.Context, index string, aggs []Aggregation) (map[string]float64, error) {
	s.mu.Lock()
	idx, err := s.open(index)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, a := range aggs {
		if a.Type != AggregationCardinality {
			return nil, poderrors.ValidationError(fmt.Sprintf("unsupported aggregation %q", a.Type), nil)
		}
		if !isKeywordLike(idx.mapping, a.Field) {
			return nil, poderrors.ValidationError(fmt.Sprintf("field %q cannot be aggregated", a.Field), nil)
		}
	}

	records, err := idx.lexical.allRecords(ctx)
	if err != nil {
		return nil, poderrors.New(poderrors.ErrCodeSearchFailed, "aggregation failed", err)
	}

	out := make(map[string]float64, len(aggs))
	for _, a := range aggs {
		distinct := make(map[string]struct{})
		for _, rec := range records {
			for _, v := range fieldValues(rec, a.Field) {
				distinct[v] = struct{}{}
			}
		}
		out[a.Name] = float64(len(distinct))
	}
	return out, nil
}

// Search evaluates q against the index.
func (s *LocalStore) Search(ctx context.Context, index string, q Query) ([]Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, poderrors.New(poderrors.ErrCodeInvalidQuery, "invalid query", err)
	}

	s.mu.Lock()
	idx, err := s.open(index)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if q.Size == 0 {
		return []Hit{}, nil
	}

	scores, err := s.evaluate(ctx, idx, q)
	if err != nil {
		return nil, poderrors.New(poderrors.ErrCodeSearchFailed, "search failed", err)
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > q.Size {
		ids = ids[:q.Size]
	}

	records, err := idx.lexical.records(ctx, ids)
	if err != nil {
		return nil, poderrors.New(poderrors.ErrCodeSearchFailed, "search failed", err)
	}
	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		rec, ok := records[id]
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: scores[id], Source: rec})
	}
	return hits, nil
}

// evaluate returns the score of every matching document.
func (s *LocalStore) evaluate(ctx context.Context, idx *localIndex, q Query) (map[string]float64, error) {
	var candidates map[string]float64
	if fq := filterQuery(q.activeFilters()); fq != nil {
		var err error
		candidates, err = idx.lexical.scored(ctx, fq)
		if err != nil {
			return nil, err
		}
	}
	inCandidates := func(id string) bool {
		if candidates == nil {
			return true
		}
		_, ok := candidates[id]
		return ok
	}

	var neighbors []VectorResult
	if q.KNN != nil {
		if len(q.KNN.Vector) != idx.mapping.Dimension {
			return nil, ErrDimensionMismatch{Expected: idx.mapping.Dimension, Got: len(q.KNN.Vector)}
		}
		var err error
		neighbors, err = idx.vectors.Search(q.KNN.Vector, q.KNN.K)
		if err != nil {
			return nil, err
		}
	}

	mustKNN := q.KNN != nil && q.KNN.Occur == OccurMust
	scores := make(map[string]float64)

	if mustKNN {
		var lexical map[string]float64
		if !q.MatchAll() {
			var err error
			lexical, err = idx.lexical.scored(ctx, lexicalQuery(q))
			if err != nil {
				return nil, err
			}
		}
		for _, n := range neighbors {
			if !inCandidates(n.ID) {
				continue
			}
			if lexical != nil {
				ls, ok := lexical[n.ID]
				if !ok {
					continue
				}
				scores[n.ID] = n.Score + ls
				continue
			}
			scores[n.ID] = n.Score
		}
		return scores, nil
	}

	lexical, err := idx.lexical.scored(ctx, lexicalQuery(q))
	if err != nil {
		return nil, err
	}
	for id, score := range lexical {
		if inCandidates(id) {
			scores[id] = score
		}
	}
	for _, n := range neighbors {
		if _, ok := scores[n.ID]; ok {
			scores[n.ID] += n.Score
		}
	}
	return scores, nil
}

// Close persists pending vectors, closes every index and releases the lock.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for name, idx := range s.indexes {
		if err := idx.persist(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := idx.lexical.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close index %s: %w", name, err)
		}
		_ = idx.vectors.Close()
	}
	s.indexes = nil

	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
