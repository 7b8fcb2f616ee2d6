package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// recordField stores the JSON record so hits can be rendered without a
// second lookup.
const recordField = "record"

// textAnalyzer tokenizes on Unicode word boundaries and lowercases, like
// the OpenSearch standard analyzer. Stop words are kept, so a question
// such as "who is he?" still matches.
const textAnalyzer = "podrag_text"

// lexicalIndex wraps a bleve index holding the text, keyword and stored
// record fields of every chunk.
type lexicalIndex struct {
	index bleve.Index
	path  string
}

// validateIndexIntegrity checks if a bleve index directory is usable.
// Returns nil when the directory is missing or looks intact.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// openLexicalIndex opens or creates a bleve index at path. An empty path
// gives an in-memory index. A corrupted directory is cleared and recreated;
// its chunks must be re-ingested.
func openLexicalIndex(path string, m Mapping) (*lexicalIndex, error) {
	indexMapping, err := buildBleveMapping(m)
	if err != nil {
		return nil, err
	}

	if path == "" {
		idx, err := bleve.NewMemOnly(indexMapping)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index: %w", err)
		}
		return &lexicalIndex{index: idx}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Warn("lexical_index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w", path, err)
		}
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, indexMapping)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}
	return &lexicalIndex{index: idx, path: path}, nil
}

// buildBleveMapping translates a store mapping: text fields use
// textAnalyzer, keyword and date fields are indexed verbatim, and the
// record is stored but not indexed.
func buildBleveMapping(m Mapping) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(textAnalyzer, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("register text analyzer: %w", err)
	}

	doc := bleve.NewDocumentStaticMapping()

	for name, typ := range m.Fields {
		switch typ {
		case TypeText:
			fm := bleve.NewTextFieldMapping()
			fm.Analyzer = textAnalyzer
			fm.Store = false
			doc.AddFieldMappingsAt(name, fm)
		case TypeKeyword, TypeDate:
			fm := bleve.NewTextFieldMapping()
			fm.Analyzer = keyword.Name
			fm.Store = false
			fm.IncludeInAll = false
			doc.AddFieldMappingsAt(name, fm)
		case TypeInteger:
			fm := bleve.NewNumericFieldMapping()
			fm.Store = false
			fm.IncludeInAll = false
			doc.AddFieldMappingsAt(name, fm)
		}
	}

	rec := bleve.NewTextFieldMapping()
	rec.Index = false
	rec.Store = true
	rec.IncludeInAll = false
	rec.IncludeTermVectors = false
	doc.AddFieldMappingsAt(recordField, rec)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = textAnalyzer
	return im, nil
}

// bleveDocument flattens a record into the fields the mapping indexes.
func bleveDocument(rec ChunkRecord) (map[string]any, error) {
	stored := rec
	stored.Embedding = nil
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	doc := map[string]any{
		FieldEpisodeID:   rec.EpisodeID,
		FieldTitle:       rec.Title,
		FieldPodcastName: rec.PodcastName,
		FieldHost:        rec.Host,
		FieldDate:        rec.Date,
		FieldChunkText:   rec.ChunkText,
		FieldChunkID:     rec.ChunkID,
		FieldChunkIndex:  float64(rec.ChunkIndex),
		FieldURL:         rec.URL,
		recordField:      string(raw),
	}
	if rec.Guest != "" {
		doc[FieldGuest] = rec.Guest
	}
	if rec.Timestamp != nil {
		doc[FieldTimestamp] = *rec.Timestamp
	}
	if len(rec.Topics) > 0 {
		doc[FieldTopics] = rec.Topics
	}
	return doc, nil
}

func (l *lexicalIndex) put(id string, rec ChunkRecord) error {
	doc, err := bleveDocument(rec)
	if err != nil {
		return err
	}
	if err := l.index.Index(id, doc); err != nil {
		return fmt.Errorf("failed to index document %s: %w", id, err)
	}
	return nil
}

func (l *lexicalIndex) count() (int, error) {
	n, err := l.index.DocCount()
	return int(n), err
}

// scored runs q over every document and returns id -> score.
func (l *lexicalIndex) scored(ctx context.Context, q query.Query) (map[string]float64, error) {
	total, err := l.count()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	if total == 0 {
		return out, nil
	}

	req := bleve.NewSearchRequestOptions(q, total, 0, false)
	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	for _, hit := range res.Hits {
		out[hit.ID] = hit.Score
	}
	return out, nil
}

// records loads stored records for ids.
func (l *lexicalIndex) records(ctx context.Context, ids []string) (map[string]ChunkRecord, error) {
	out := make(map[string]ChunkRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(ids), len(ids), 0, false)
	req.Fields = []string{recordField}
	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	for _, hit := range res.Hits {
		raw, ok := hit.Fields[recordField].(string)
		if !ok {
			continue
		}
		var rec ChunkRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", hit.ID, err)
		}
		out[hit.ID] = rec
	}
	return out, nil
}

// allRecords loads every stored record.
func (l *lexicalIndex) allRecords(ctx context.Context) ([]ChunkRecord, error) {
	total, err := l.count()
	if err != nil || total == 0 {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), total, 0, false)
	req.Fields = []string{recordField}
	res, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	out := make([]ChunkRecord, 0, len(res.Hits))
	for _, hit := range res.Hits {
		raw, ok := hit.Fields[recordField].(string)
		if !ok {
			continue
		}
		var rec ChunkRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", hit.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (l *lexicalIndex) close() error {
	return l.index.Close()
}

// lexicalQuery builds the match or match-all clause.
func lexicalQuery(q Query) query.Query {
	if q.MatchAll() {
		return bleve.NewMatchAllQuery()
	}
	mq := bleve.NewMatchQuery(q.Match.Text)
	mq.SetField(q.matchField())
	return mq
}

// filterQuery builds a conjunction of term and terms filters, or nil.
func filterQuery(filters []Filter) query.Query {
	if len(filters) == 0 {
		return nil
	}
	clauses := make([]query.Query, 0, len(filters))
	for _, f := range filters {
		terms := make([]query.Query, 0, len(f.Values))
		for _, v := range f.Values {
			tq := bleve.NewTermQuery(v)
			tq.SetField(f.Field)
			terms = append(terms, tq)
		}
		if len(terms) == 1 {
			clauses = append(clauses, terms[0])
		} else {
			clauses = append(clauses, bleve.NewDisjunctionQuery(terms...))
		}
	}
	return bleve.NewConjunctionQuery(clauses...)
}

// fieldValues returns the keyword values of field in rec.
func fieldValues(rec ChunkRecord, field string) []string {
	switch field {
	case FieldEpisodeID:
		return []string{rec.EpisodeID}
	case FieldTitle:
		return []string{rec.Title}
	case FieldPodcastName:
		return []string{rec.PodcastName}
	case FieldHost:
		return []string{rec.Host}
	case FieldGuest:
		if rec.Guest == "" {
			return nil
		}
		return []string{rec.Guest}
	case FieldDate:
		return []string{rec.Date}
	case FieldChunkID:
		return []string{rec.ChunkID}
	case FieldChunkIndex:
		return []string{strconv.Itoa(rec.ChunkIndex)}
	case FieldTimestamp:
		if rec.Timestamp == nil {
			return nil
		}
		return []string{*rec.Timestamp}
	case FieldURL:
		return []string{rec.URL}
	case FieldTopics:
		return rec.Topics
	default:
		return nil
	}
}

// isKeywordLike reports whether a field can be aggregated on.
func isKeywordLike(m Mapping, field string) bool {
	switch strings.ToLower(m.Fields[field]) {
	case TypeKeyword, TypeDate, TypeInteger:
		return true
	default:
		return false
	}
}
