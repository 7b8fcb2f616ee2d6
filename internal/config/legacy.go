package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LegacyVariables are the single-path environment variables of the older
// deployment. The runtime never reads them; MigrateLegacy translates them once.
var LegacyVariables = []string{
	"LLAMA_MODEL_PATH",
	"PHI3_MODEL_PATH",
	"TINYLLAMA_MODEL_PATH",
	"LLAMA3_8B_MODEL_PATH",
	"PRIMARY_MODEL",
	"FALLBACK_MODEL",
	"USE_BIGGER_MODEL",
	"LLAMA_MAX_TOKENS",
	"LLAMA_TEMPERATURE",
	"OPENSEARCH_HOST",
	"OPENSEARCH_USER",
	"OPENSEARCH_PASS",
	"PODCAST_INDEX",
	"EMBEDDING_MODEL",
	"CONTEXT_CHUNK_MAX_CHARS",
	"TRANSCRIPTS_DIR",
	"PODCAST_NAME",
	"PORT",
}

// Migration records one legacy setting applied to the new configuration.
type Migration struct {
	Variable string
	Field    string
	Value    string
}

// String renders the migration for CLI output.
func (m Migration) String() string {
	return fmt.Sprintf("%s -> %s = %s", m.Variable, m.Field, m.Value)
}

// LegacyEnv collects the legacy variables that are set in the process environment.
func LegacyEnv() map[string]string {
	env := make(map[string]string)
	for _, key := range LegacyVariables {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			env[key] = v
		}
	}
	return env
}

// backendForModelFile guesses the backend a model file belongs to from its name.
func backendForModelFile(path string) string {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(name, "phi"):
		return "phi3_mini"
	case strings.Contains(name, "tiny"):
		return "tinyllama"
	case strings.Contains(name, "llama") || strings.Contains(name, "8b"):
		return "llama3_8b"
	default:
		return ""
	}
}

// modelName derives a served model name from a model file path,
// e.g. /models/Phi-3-mini-4k-instruct-q4.gguf -> Phi-3-mini-4k-instruct-q4.
func modelName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// MigrateLegacy applies legacy variables from env onto cfg and returns what changed.
// The per-backend path variables win over the single LLAMA_MODEL_PATH.
func MigrateLegacy(cfg *Config, env map[string]string) []Migration {
	var applied []Migration
	record := func(variable, field, value string) {
		applied = append(applied, Migration{Variable: variable, Field: field, Value: value})
	}
	setModel := func(variable, backend, path string) {
		b, ok := cfg.Generation.Backends[backend]
		if !ok {
			b = DefaultBackends()[backend]
		}
		b.Model = modelName(path)
		if cfg.Generation.Backends == nil {
			cfg.Generation.Backends = make(map[string]BackendConfig)
		}
		cfg.Generation.Backends[backend] = b
		record(variable, "generation.backends."+backend+".model", b.Model)
	}

	if path := env["LLAMA_MODEL_PATH"]; path != "" {
		if backend := backendForModelFile(path); backend != "" {
			setModel("LLAMA_MODEL_PATH", backend, path)
		}
	}
	for variable, backend := range map[string]string{
		"PHI3_MODEL_PATH":      "phi3_mini",
		"TINYLLAMA_MODEL_PATH": "tinyllama",
		"LLAMA3_8B_MODEL_PATH": "llama3_8b",
	} {
		if path := env[variable]; path != "" {
			setModel(variable, backend, path)
		}
	}

	if v := env["PRIMARY_MODEL"]; v != "" {
		cfg.Generation.Primary = strings.ToLower(v)
		record("PRIMARY_MODEL", "generation.primary", cfg.Generation.Primary)
	}
	if v := env["FALLBACK_MODEL"]; v != "" {
		cfg.Generation.Fallback = strings.ToLower(v)
		record("FALLBACK_MODEL", "generation.fallback", cfg.Generation.Fallback)
	}
	if v := env["USE_BIGGER_MODEL"]; v != "" {
		cfg.Generation.UseLongContext = parseBool(v)
		record("USE_BIGGER_MODEL", "generation.use_long_context", strconv.FormatBool(cfg.Generation.UseLongContext))
	}
	if v := env["LLAMA_MAX_TOKENS"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Generation.MaxTokensOverride = n
			record("LLAMA_MAX_TOKENS", "generation.max_tokens_override", v)
		}
	}
	if v := env["LLAMA_TEMPERATURE"]; v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Generation.TemperatureOverride = &f
			record("LLAMA_TEMPERATURE", "generation.temperature_override", v)
		}
	}

	if v := env["OPENSEARCH_HOST"]; v != "" {
		cfg.Store.Backend = "opensearch"
		cfg.Store.OpenSearch.Host = v
		record("OPENSEARCH_HOST", "store.opensearch.host", v)
	}
	if v := env["OPENSEARCH_USER"]; v != "" {
		cfg.Store.OpenSearch.Username = v
		record("OPENSEARCH_USER", "store.opensearch.username", v)
	}
	if v := env["OPENSEARCH_PASS"]; v != "" {
		cfg.Store.OpenSearch.Password = v
		record("OPENSEARCH_PASS", "store.opensearch.password", "********")
	}
	if v := env["PODCAST_INDEX"]; v != "" {
		cfg.Store.Index = v
		record("PODCAST_INDEX", "store.index", v)
	}
	if v := env["EMBEDDING_MODEL"]; v != "" {
		cfg.Embeddings.Model = v
		record("EMBEDDING_MODEL", "embeddings.model", v)
	}
	if v := env["CONTEXT_CHUNK_MAX_CHARS"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Context.MaxChars = n
			record("CONTEXT_CHUNK_MAX_CHARS", "context.max_chars", v)
		}
	}
	if v := env["TRANSCRIPTS_DIR"]; v != "" {
		cfg.Ingest.TranscriptsDir = v
		record("TRANSCRIPTS_DIR", "ingest.transcripts_dir", v)
	}
	if v := env["PODCAST_NAME"]; v != "" {
		cfg.Ingest.PodcastName = v
		record("PODCAST_NAME", "ingest.podcast_name", v)
	}
	if v := env["PORT"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
			record("PORT", "server.port", v)
		}
	}

	return applied
}
