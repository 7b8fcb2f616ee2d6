package store

import (
	"fmt"
	"strings"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

// Store backends.
const (
	BackendLocal      = "local"
	BackendOpenSearch = "opensearch"
)

// Options selects and configures a DocumentStore.
type Options struct {
	Backend    string
	DataDir    string
	EfSearch   int
	OpenSearch OpenSearchConfig
}

// Open returns the configured DocumentStore.
func Open(opts Options) (DocumentStore, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendLocal:
		return NewLocalStore(LocalConfig{DataDir: opts.DataDir, EfSearch: opts.EfSearch})
	case BackendOpenSearch:
		return NewOpenSearchStore(opts.OpenSearch)
	default:
		return nil, poderrors.ConfigError(fmt.Sprintf("unknown store backend %q", opts.Backend), nil)
	}
}

// SpaceType maps a configured metric name to the k-NN space type.
func SpaceType(metric string) string {
	switch strings.ToLower(metric) {
	case "cosine", "cosinesimil":
		return "cosinesimil"
	default:
		return "l2"
	}
}
