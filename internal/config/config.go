// Package config loads podrag configuration from defaults, YAML files,
// .env files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-directory config file name.
const ProjectConfigName = ".podrag.yaml"

// Config represents the complete podrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Context    ContextConfig    `yaml:"context" json:"context"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	// Backend is "local" (embedded bleve + hnsw) or "opensearch".
	Backend string `yaml:"backend" json:"backend"`

	// Index is the index name shared by ingestion and search.
	Index string `yaml:"index" json:"index"`

	// DataDir holds local indexes and the ingestion ledger.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	OpenSearch OpenSearchConfig `yaml:"opensearch" json:"opensearch"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
}

// OpenSearchConfig configures the remote store.
type OpenSearchConfig struct {
	Host               string `yaml:"host" json:"host"`
	Username           string `yaml:"username" json:"username"`
	Password           string `yaml:"password" json:"-"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
	Timeout            string `yaml:"timeout" json:"timeout"`
}

// VectorConfig tunes the local HNSW graph.
type VectorConfig struct {
	Metric   string `yaml:"metric" json:"metric"`
	M        int    `yaml:"m" json:"m"`
	EfSearch int    `yaml:"ef_search" json:"ef_search"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "openai" (any OpenAI-compatible server) or "static".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`

	// Dimensions pins the vector size. Zero discovers it from the first embedding.
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	Timeout    string `yaml:"timeout" json:"timeout"`
}

// ChunkingConfig controls transcript chunking.
type ChunkingConfig struct {
	MaxTokens       int  `yaml:"max_tokens" json:"max_tokens"`
	OverlapTokens   int  `yaml:"overlap_tokens" json:"overlap_tokens"`
	StripTimestamps bool `yaml:"strip_timestamps" json:"strip_timestamps"`
}

// SearchConfig controls retrieval and reranking.
type SearchConfig struct {
	TopK int `yaml:"top_k" json:"top_k"`

	// BM25Weight and SemanticWeight are carried for manual fusion.
	// The default path uses the store's combined score.
	BM25Weight     float64 `yaml:"bm25_weight" json:"bm25_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	Rerank RerankConfig `yaml:"rerank" json:"rerank"`
}

// RerankConfig configures the optional reranking stage.
type RerankConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Provider is "http" (cross-encoder endpoint) or "lexical".
	Provider   string `yaml:"provider" json:"provider"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	Model      string `yaml:"model" json:"model"`
	Candidates int    `yaml:"candidates" json:"candidates"`
	Timeout    string `yaml:"timeout" json:"timeout"`
}

// ContextConfig bounds prompt context.
type ContextConfig struct {
	MaxChars int `yaml:"max_chars" json:"max_chars"`
}

// GenerationConfig configures the generation backends and routing.
type GenerationConfig struct {
	Primary              string                   `yaml:"primary" json:"primary"`
	Fallback             string                   `yaml:"fallback" json:"fallback"`
	LongContext          string                   `yaml:"long_context" json:"long_context"`
	UseLongContext       bool                     `yaml:"use_long_context" json:"use_long_context"`
	LongContextThreshold int                      `yaml:"long_context_threshold" json:"long_context_threshold"`
	MaxTokensOverride    int                      `yaml:"max_tokens_override" json:"max_tokens_override"`
	TemperatureOverride  *float64                 `yaml:"temperature_override,omitempty" json:"temperature_override,omitempty"`
	SerializeCalls       bool                     `yaml:"serialize_calls" json:"serialize_calls"`
	Backends             map[string]BackendConfig `yaml:"backends" json:"backends"`
}

// BackendConfig is one generation backend variant.
type BackendConfig struct {
	// Provider is "ollama" or "openai" (llama.cpp server, vLLM, LM Studio).
	Provider    string  `yaml:"provider" json:"provider"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	Model       string  `yaml:"model" json:"model"`
	ContextSize int     `yaml:"context_size" json:"context_size"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
}

// IngestConfig holds episode defaults for directory ingestion.
type IngestConfig struct {
	TranscriptsDir string `yaml:"transcripts_dir" json:"transcripts_dir"`
	PodcastName    string `yaml:"podcast_name" json:"podcast_name"`
	Host           string `yaml:"host" json:"host"`
	Date           string `yaml:"date" json:"date"`
	Workers        int    `yaml:"workers" json:"workers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns a configuration with built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Backend: "local",
			Index:   "podcast-transcripts",
			DataDir: defaultDataDir(),
			OpenSearch: OpenSearchConfig{
				Host:               "http://localhost:9200",
				Username:           "admin",
				Password:           "admin",
				InsecureSkipVerify: true,
				Timeout:            "30s",
			},
			Vector: VectorConfig{Metric: "l2", M: 16, EfSearch: 64},
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "all-minilm",
			OllamaHost: "http://localhost:11434",
			CacheSize:  1000,
			BatchSize:  32,
			Timeout:    "60s",
		},
		Chunking: ChunkingConfig{MaxTokens: 240, OverlapTokens: 40},
		Search: SearchConfig{
			TopK:           5,
			BM25Weight:     0.5,
			SemanticWeight: 0.5,
			Rerank: RerankConfig{
				Provider:   "lexical",
				Endpoint:   "http://localhost:9659",
				Model:      "cross-encoder/ms-marco-MiniLM-L-6-v2",
				Candidates: 20,
				Timeout:    "30s",
			},
		},
		Context: ContextConfig{MaxChars: 800},
		Generation: GenerationConfig{
			Primary:              "phi3_mini",
			Fallback:             "tinyllama",
			LongContext:          "llama3_8b",
			LongContextThreshold: 4000,
			SerializeCalls:       true,
			Backends:             DefaultBackends(),
		},
		Ingest: IngestConfig{
			TranscriptsDir: "./transcripts",
			PodcastName:    "Local Transcripts",
			Host:           "Unknown",
			Date:           "2024-01-01",
			Workers:        4,
		},
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080, LogLevel: "info"},
	}
}

// DefaultBackends returns the three built-in generation backends.
func DefaultBackends() map[string]BackendConfig {
	return map[string]BackendConfig{
		"phi3_mini": {
			Provider: "ollama", Endpoint: "http://localhost:11434", Model: "phi3:mini",
			ContextSize: 4096, MaxTokens: 500, Temperature: 0.2,
		},
		"tinyllama": {
			Provider: "ollama", Endpoint: "http://localhost:11434", Model: "tinyllama",
			ContextSize: 2048, MaxTokens: 250, Temperature: 0.2,
		},
		"llama3_8b": {
			Provider: "ollama", Endpoint: "http://localhost:11434", Model: "llama3.1:8b",
			ContextSize: 8192, MaxTokens: 1000, Temperature: 0.2,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".podrag", "data")
	}
	return filepath.Join(home, ".podrag", "data")
}

// GetUserConfigPath returns the user configuration file path:
//   - $XDG_CONFIG_HOME/podrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/podrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "podrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "podrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "podrag", "config.yaml")
}

// Load loads configuration for the given working directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/podrag/config.yaml)
//  3. Project config (.podrag.yaml or .podrag.yml in dir)
//  4. .env in dir (never overrides variables already set)
//  5. Environment variables (PODRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	for _, name := range []string{ProjectConfigName, ".podrag.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path on top of the current values, so keys absent
// from the file keep their previous value.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	previous := c.Generation.Backends
	c.Generation.Backends = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		c.Generation.Backends = previous
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.Generation.Backends = mergeBackends(previous, c.Generation.Backends)
	return nil
}

// mergeBackends overlays partial backend entries onto base, field by field.
func mergeBackends(base, overlay map[string]BackendConfig) map[string]BackendConfig {
	merged := make(map[string]BackendConfig, len(base)+len(overlay))
	for id, b := range base {
		merged[id] = b
	}
	for id, o := range overlay {
		id = strings.ToLower(strings.TrimSpace(id))
		b := merged[id]
		if o.Provider != "" {
			b.Provider = o.Provider
		}
		if o.Endpoint != "" {
			b.Endpoint = o.Endpoint
		}
		if o.Model != "" {
			b.Model = o.Model
		}
		if o.ContextSize != 0 {
			b.ContextSize = o.ContextSize
		}
		if o.MaxTokens != 0 {
			b.MaxTokens = o.MaxTokens
		}
		if o.Temperature != 0 {
			b.Temperature = o.Temperature
		}
		merged[id] = b
	}
	return merged
}

// applyEnvOverrides applies PODRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = parseBool(v)
		}
	}

	setString("PODRAG_STORE_BACKEND", &c.Store.Backend)
	setString("PODRAG_INDEX", &c.Store.Index)
	setString("PODRAG_DATA_DIR", &c.Store.DataDir)
	setString("PODRAG_OPENSEARCH_HOST", &c.Store.OpenSearch.Host)
	setString("PODRAG_OPENSEARCH_USER", &c.Store.OpenSearch.Username)
	setString("PODRAG_OPENSEARCH_PASS", &c.Store.OpenSearch.Password)

	setString("PODRAG_EMBEDDER", &c.Embeddings.Provider)
	setString("PODRAG_EMBED_MODEL", &c.Embeddings.Model)
	setString("PODRAG_OLLAMA_HOST", &c.Embeddings.OllamaHost)

	setBool("PODRAG_RERANK", &c.Search.Rerank.Enabled)
	setString("PODRAG_RERANK_ENDPOINT", &c.Search.Rerank.Endpoint)
	setInt("PODRAG_TOP_K", &c.Search.TopK)

	setInt("PODRAG_CONTEXT_MAX_CHARS", &c.Context.MaxChars)

	setString("PODRAG_PRIMARY_BACKEND", &c.Generation.Primary)
	setString("PODRAG_FALLBACK_BACKEND", &c.Generation.Fallback)
	setString("PODRAG_LONG_CONTEXT_BACKEND", &c.Generation.LongContext)
	setBool("PODRAG_USE_LONG_CONTEXT", &c.Generation.UseLongContext)
	setInt("PODRAG_MAX_TOKENS", &c.Generation.MaxTokensOverride)
	if v := os.Getenv("PODRAG_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f >= 0 {
			c.Generation.TemperatureOverride = &f
		}
	}
	for id, b := range c.Generation.Backends {
		if v := os.Getenv("PODRAG_" + strings.ToUpper(id) + "_MODEL"); v != "" {
			b.Model = v
			c.Generation.Backends[id] = b
		}
	}

	setString("PODRAG_TRANSCRIPTS_DIR", &c.Ingest.TranscriptsDir)
	setString("PODRAG_PODCAST_NAME", &c.Ingest.PodcastName)

	setInt("PODRAG_PORT", &c.Server.Port)
	setString("PODRAG_LOG_LEVEL", &c.Server.LogLevel)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Backend) {
	case "local", "opensearch":
	default:
		return fmt.Errorf("store.backend must be 'local' or 'opensearch', got %s", c.Store.Backend)
	}
	if strings.TrimSpace(c.Store.Index) == "" {
		return fmt.Errorf("store.index must not be empty")
	}
	switch strings.ToLower(c.Store.Vector.Metric) {
	case "l2", "cosine":
	default:
		return fmt.Errorf("store.vector.metric must be 'l2' or 'cosine', got %s", c.Store.Vector.Metric)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "openai", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama', 'openai' or 'static', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}

	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.overlap_tokens must be in [0, max_tokens), got %d", c.Chunking.OverlapTokens)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	switch strings.ToLower(c.Search.Rerank.Provider) {
	case "http", "lexical":
	default:
		return fmt.Errorf("search.rerank.provider must be 'http' or 'lexical', got %s", c.Search.Rerank.Provider)
	}
	if c.Context.MaxChars <= 0 {
		return fmt.Errorf("context.max_chars must be positive, got %d", c.Context.MaxChars)
	}

	if c.Generation.Primary == "" && c.Generation.Fallback == "" {
		return fmt.Errorf("generation needs a primary or fallback backend")
	}
	if c.Generation.TemperatureOverride != nil && *c.Generation.TemperatureOverride < 0 {
		return fmt.Errorf("generation.temperature_override must be non-negative")
	}
	for id, b := range c.Generation.Backends {
		switch strings.ToLower(b.Provider) {
		case "ollama", "openai":
		default:
			return fmt.Errorf("generation.backends.%s.provider must be 'ollama' or 'openai', got %s", id, b.Provider)
		}
		if b.MaxTokens <= 0 || b.ContextSize <= 0 {
			return fmt.Errorf("generation.backends.%s needs positive max_tokens and context_size", id)
		}
	}

	for _, d := range []struct{ name, value string }{
		{"store.opensearch.timeout", c.Store.OpenSearch.Timeout},
		{"embeddings.timeout", c.Embeddings.Timeout},
		{"search.rerank.timeout", c.Search.Rerank.Timeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	return nil
}

// Duration parses a duration field, falling back to def when empty or invalid.
func Duration(value string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return def
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
