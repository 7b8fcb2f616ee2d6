package store

import "fmt"

// Field types a mapping can declare.
const (
	TypeKeyword = "keyword"
	TypeText    = "text"
	TypeDate    = "date"
	TypeInteger = "integer"
	TypeVector  = "knn_vector"
)

// Mapping declares the field types of an index and its vector method.
type Mapping struct {
	Dimension      int               `json:"dimension"`
	SpaceType      string            `json:"space_type"`
	EfConstruction int               `json:"ef_construction"`
	M              int               `json:"m"`
	Fields         map[string]string `json:"fields"`
}

// DefaultMapping returns the chunk mapping for vectors of dimension dim.
func DefaultMapping(dim int) Mapping {
	return Mapping{
		Dimension:      dim,
		SpaceType:      "l2",
		EfConstruction: 128,
		M:              16,
		Fields: map[string]string{
			FieldEpisodeID:   TypeKeyword,
			FieldTitle:       TypeText,
			FieldPodcastName: TypeKeyword,
			FieldHost:        TypeKeyword,
			FieldGuest:       TypeKeyword,
			FieldDate:        TypeDate,
			FieldChunkText:   TypeText,
			FieldChunkID:     TypeKeyword,
			FieldChunkIndex:  TypeInteger,
			FieldTimestamp:   TypeKeyword,
			FieldURL:         TypeKeyword,
			FieldTopics:      TypeKeyword,
			FieldEmbedding:   TypeVector,
		},
	}
}

// Validate checks that the mapping can back a vector index.
func (m Mapping) Validate() error {
	if m.Dimension <= 0 {
		return fmt.Errorf("mapping needs a positive vector dimension, got %d", m.Dimension)
	}
	switch m.SpaceType {
	case "l2", "cosinesimil":
	default:
		return fmt.Errorf("unsupported space type %q", m.SpaceType)
	}
	return nil
}

// Body renders the OpenSearch create-index body.
func (m Mapping) Body() map[string]any {
	props := make(map[string]any, len(m.Fields))
	for name, typ := range m.Fields {
		switch typ {
		case TypeDate:
			props[name] = map[string]any{"type": TypeDate, "format": "strict_date_optional_time||yyyy-MM-dd"}
		case TypeVector:
			props[name] = map[string]any{
				"type":      TypeVector,
				"dimension": m.Dimension,
				"method": map[string]any{
					"name":       "hnsw",
					"space_type": m.SpaceType,
					"engine":     "lucene",
					"parameters": map[string]any{"ef_construction": m.EfConstruction, "m": m.M},
				},
			}
		default:
			props[name] = map[string]any{"type": typ}
		}
	}
	return map[string]any{
		"settings": map[string]any{"index.knn": true},
		"mappings": map[string]any{"properties": props},
	}
}
