package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorConfig tunes a vector index.
type VectorConfig struct {
	Dimensions int
	// SpaceType is "l2" or "cosinesimil".
	SpaceType string
	M         int
	EfSearch  int
}

// VectorResult is one nearest neighbor.
type VectorResult struct {
	ID       string
	Distance float32
	Score    float64
}

// VectorIndex is an HNSW graph keyed by chunk id, built on coder/hnsw.
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// vectorMetadata stores ID mappings for persistence.
type vectorMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorConfig
}

// NewVectorIndex creates an empty vector index.
func NewVectorIndex(cfg VectorConfig) (*VectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector index needs positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.SpaceType == "" {
		cfg.SpaceType = "l2"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	return &VectorIndex{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

func newGraph(cfg VectorConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	if cfg.SpaceType == "cosinesimil" {
		graph.Distance = hnsw.CosineDistance
	} else {
		graph.Distance = hnsw.EuclideanDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Add inserts or replaces one vector.
func (s *VectorIndex) Add(id string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}
	if len(vector) != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vector)}
	}

	// Replaced vectors are orphaned rather than deleted from the graph;
	// coder/hnsw breaks when its last node is deleted.
	if existingKey, exists := s.idMap[id]; exists {
		delete(s.keyMap, existingKey)
		delete(s.idMap, id)
	}

	key := s.nextKey
	s.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if s.config.SpaceType == "cosinesimil" {
		normalizeVectorInPlace(vec)
	}

	s.graph.Add(hnsw.MakeNode(key, vec))
	s.idMap[id] = key
	s.keyMap[key] = id
	return nil
}

// Search returns up to k nearest neighbors, closest first.
func (s *VectorIndex) Search(query []float32, k int) ([]VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if s.graph.Len() == 0 || k <= 0 {
		return []VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.SpaceType == "cosinesimil" {
		normalizeVectorInPlace(q)
	}

	// Ask for extra neighbors so orphaned nodes do not crowd out live ones.
	orphans := s.graph.Len() - len(s.idMap)
	nodes := s.graph.Search(q, k+orphans)

	results := make([]VectorResult, 0, k)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := s.graph.Distance(q, node.Value)
		results = append(results, VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.SpaceType),
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Delete removes vectors by ID.
func (s *VectorIndex) Delete(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
}

// Contains checks if ID exists.
func (s *VectorIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live vectors.
func (s *VectorIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Dimensions returns the vector dimension.
func (s *VectorIndex) Dimensions() int {
	return s.config.Dimensions
}

// Save writes the graph to path and the ID mappings to path+".meta",
// each through a temp file and rename.
func (s *VectorIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpIndexPath, path); err != nil {
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *VectorIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := vectorMetadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("vector_meta_close_failed", slog.String("error", closeErr.Error()))
		}
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// LoadVectorIndex reads an index written by Save.
func LoadVectorIndex(path string) (*VectorIndex, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta vectorMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode vector metadata: %w", err)
	}

	s, err := NewVectorIndex(meta.Config)
	if err != nil {
		return nil, err
	}
	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires an io.ByteReader
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("failed to import graph: %w", err)
	}
	return s, nil
}

// Close releases the graph.
func (s *VectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts a distance to the similarity score OpenSearch
// reports for the same space type: 1/(1+d^2) for l2 and (2-d)/2 for
// cosine distance.
func distanceToScore(distance float32, spaceType string) float64 {
	d := float64(distance)
	if spaceType == "cosinesimil" {
		return (2 - d) / 2
	}
	return 1 / (1 + d*d)
}
