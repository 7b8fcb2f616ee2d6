package store

import (
	"fmt"
	"strings"
)

// Occur places a vector clause in the bool query.
type Occur int

const (
	// OccurShould adds vector similarity to hits that already match.
	OccurShould Occur = iota
	// OccurMust restricts hits to the nearest neighbors.
	OccurMust
)

// Match is a full-text clause on one field.
type Match struct {
	Field string
	Text  string
}

// KNN is an approximate nearest-neighbor clause.
type KNN struct {
	Field  string
	Vector []float32
	K      int
	Occur  Occur
}

// Filter is an exact-match filter. One value renders as a term filter,
// several as a terms (set membership) filter. Filters never affect scores.
type Filter struct {
	Field  string
	Values []string
}

// Query is a bool query: a match or match-all clause, an optional kNN
// clause and optional filters.
type Query struct {
	Size    int
	Match   *Match
	KNN     *KNN
	Filters []Filter
}

// MatchAll reports whether the lexical clause matches every document.
func (q Query) MatchAll() bool {
	return q.Match == nil || strings.TrimSpace(q.Match.Text) == ""
}

// Validate checks the query shape before it reaches a store.
func (q Query) Validate() error {
	if q.Size < 0 {
		return fmt.Errorf("size must be non-negative, got %d", q.Size)
	}
	if q.KNN != nil {
		if len(q.KNN.Vector) == 0 {
			return fmt.Errorf("knn clause needs a vector")
		}
		if q.KNN.K <= 0 {
			return fmt.Errorf("knn k must be positive, got %d", q.KNN.K)
		}
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("filter needs a field")
		}
	}
	return nil
}

// activeFilters drops filters without values.
func (q Query) activeFilters() []Filter {
	out := make([]Filter, 0, len(q.Filters))
	for _, f := range q.Filters {
		if len(f.Values) > 0 {
			out = append(out, f)
		}
	}
	return out
}

func (q Query) matchField() string {
	if q.Match != nil && q.Match.Field != "" {
		return q.Match.Field
	}
	return FieldChunkText
}

func (k KNN) field() string {
	if k.Field != "" {
		return k.Field
	}
	return FieldEmbedding
}

// Body renders the OpenSearch request body.
func (q Query) Body() map[string]any {
	var lexical map[string]any
	if q.MatchAll() {
		lexical = map[string]any{"match_all": map[string]any{}}
	} else {
		lexical = map[string]any{"match": map[string]any{q.matchField(): q.Match.Text}}
	}

	boolQuery := map[string]any{}
	must := []any{}

	if q.KNN != nil {
		knn := map[string]any{"knn": map[string]any{
			q.KNN.field(): map[string]any{
				"vector": q.KNN.Vector,
				"k":      q.KNN.K,
			},
		}}
		if q.KNN.Occur == OccurMust {
			must = append(must, knn)
			if !q.MatchAll() {
				must = append(must, lexical)
			}
		} else {
			must = append(must, lexical)
			boolQuery["should"] = []any{knn}
		}
	} else {
		must = append(must, lexical)
	}
	boolQuery["must"] = must

	if filters := q.activeFilters(); len(filters) > 0 {
		rendered := make([]any, 0, len(filters))
		for _, f := range filters {
			if len(f.Values) == 1 {
				rendered = append(rendered, map[string]any{"term": map[string]any{f.Field: f.Values[0]}})
			} else {
				rendered = append(rendered, map[string]any{"terms": map[string]any{f.Field: f.Values}})
			}
		}
		boolQuery["filter"] = rendered
	}

	return map[string]any{
		"size":    q.Size,
		"_source": map[string]any{"excludes": []string{FieldEmbedding}},
		"query":   map[string]any{"bool": boolQuery},
	}
}
