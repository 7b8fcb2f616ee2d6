package generate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackendID(t *testing.T) {
	tests := []struct {
		in   string
		want BackendID
	}{
		{"phi3_mini", Phi3Mini},
		{"PHI3", Phi3Mini},
		{" tinyllama ", TinyLlama},
		{"Llama-3.1-8B", Llama3_8B},
		{"llama3", Llama3_8B},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackendID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseBackendID("gpt-9")
	assert.Error(t, err)
}

func TestBackend_DescriptionsAndDefaults(t *testing.T) {
	assert.Equal(t, "Phi-3 Mini (Main LLM)", Phi3Mini.Description())
	assert.Equal(t, "TinyLlama (Fast Fallback)", TinyLlama.Description())
	assert.Equal(t, "Llama-3.1-8B (Bigger Option)", Llama3_8B.Description())
	assert.Equal(t, "custom", BackendID("custom").Description())

	for _, id := range AllBackends {
		b := DefaultBackend(id)
		assert.NoError(t, b.Validate(), id)
		assert.Less(t, b.MaxTokens, b.ContextSize, id)
	}
	assert.Greater(t, DefaultBackend(Llama3_8B).ContextSize, DefaultBackend(Phi3Mini).ContextSize)
}

func TestBackend_Validate(t *testing.T) {
	b := DefaultBackend(Phi3Mini)
	b.Provider = "llamacpp"
	assert.Error(t, b.Validate())

	b = DefaultBackend(Phi3Mini)
	b.Model = " "
	assert.Error(t, b.Validate())

	b = DefaultBackend(Phi3Mini)
	b.ContextSize = 0
	assert.Error(t, b.Validate())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"overflow", errors.New("Requested tokens (600) exceed context window of 512"), KindOverflow},
		{"context length", errors.New("maximum context length is 2048"), KindOverflow},
		{"refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), KindUnavailable},
		{"missing model", errors.New(`model "phi3:mini" not found, try pulling it first`), KindUnavailable},
		{"other", errors.New("invalid utf-8 in output"), KindRuntime},
		{"deadline", context.DeadlineExceeded, KindRuntime},
		{"wrapped typed", fmt.Errorf("outer: %w", NewError(KindInvalidInput, TinyLlama, errors.New("x"))), KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(Phi3Mini, tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.True(t, IsKind(got, tt.want))
		})
	}
	assert.Nil(t, Classify(Phi3Mini, nil))
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := fmt.Errorf("ctx: %w", NewError(KindOverflow, Phi3Mini, inner))

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, KindOverflow, KindOf(err))
	assert.Contains(t, err.Error(), "phi3_mini")
	assert.Equal(t, KindRuntime, KindOf(errors.New("plain")))
}
