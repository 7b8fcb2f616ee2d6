// Package generate routes prompts to a closed set of local generation
// backends, recovering from context-window overflows and unavailable
// backends without ever failing the caller.
package generate

import (
	"fmt"
	"strings"
)

// BackendID names one of the supported generation backends.
type BackendID string

// The supported backends.
const (
	Phi3Mini  BackendID = "phi3_mini"
	TinyLlama BackendID = "tinyllama"
	Llama3_8B BackendID = "llama3_8b"
)

// AllBackends lists every backend in display order.
var AllBackends = []BackendID{Phi3Mini, TinyLlama, Llama3_8B}

// Providers a backend can run on.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

var aliases = map[string]BackendID{
	"phi3":         Phi3Mini,
	"phi3_mini":    Phi3Mini,
	"phi-3-mini":   Phi3Mini,
	"tinyllama":    TinyLlama,
	"tiny-llama":   TinyLlama,
	"llama3":       Llama3_8B,
	"llama3_8b":    Llama3_8B,
	"llama-3.1-8b": Llama3_8B,
	"llama-3-8b":   Llama3_8B,
}

// ParseBackendID resolves an id or alias, case-insensitively.
func ParseBackendID(s string) (BackendID, error) {
	if id, ok := aliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return id, nil
	}
	return "", fmt.Errorf("unknown backend %q (want one of phi3_mini, tinyllama, llama3_8b)", s)
}

// Description returns the human-readable backend name.
func (id BackendID) Description() string {
	switch id {
	case Phi3Mini:
		return "Phi-3 Mini (Main LLM)"
	case TinyLlama:
		return "TinyLlama (Fast Fallback)"
	case Llama3_8B:
		return "Llama-3.1-8B (Bigger Option)"
	default:
		return string(id)
	}
}

// Backend is one configured generation backend variant.
type Backend struct {
	ID       BackendID
	Provider string
	Endpoint string
	Model    string

	// ContextSize is the backend's context window in tokens.
	ContextSize int

	// MaxTokens and Temperature are the backend's default sampling settings.
	MaxTokens   int
	Temperature float64
}

// DefaultBackend returns the built-in configuration of id.
func DefaultBackend(id BackendID) Backend {
	b := Backend{ID: id, Provider: ProviderOllama, Endpoint: "http://localhost:11434", Temperature: 0.2}
	switch id {
	case Phi3Mini:
		b.Model, b.ContextSize, b.MaxTokens = "phi3:mini", 4096, 500
	case TinyLlama:
		b.Model, b.ContextSize, b.MaxTokens = "tinyllama", 2048, 250
	case Llama3_8B:
		b.Model, b.ContextSize, b.MaxTokens = "llama3.1:8b", 8192, 1000
	}
	return b
}

// Validate checks the backend can be loaded.
func (b Backend) Validate() error {
	switch b.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("backend %s: unknown provider %q", b.ID, b.Provider)
	}
	if strings.TrimSpace(b.Model) == "" {
		return fmt.Errorf("backend %s: no model configured", b.ID)
	}
	if b.MaxTokens <= 0 || b.ContextSize <= 0 {
		return fmt.Errorf("backend %s: max tokens and context size must be positive", b.ID)
	}
	return nil
}
