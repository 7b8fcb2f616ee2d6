package generate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(farm *fakeFarm, cfg RouterConfig) *Router {
	if cfg.Primary == "" {
		cfg.Primary = Phi3Mini
	}
	if cfg.Fallback == "" {
		cfg.Fallback = TinyLlama
	}
	if cfg.LongContext == "" {
		cfg.LongContext = Llama3_8B
	}
	return NewRouter(NewRegistry(defaultBackends(), farm.load), cfg)
}

func TestRouter_PrimaryAnswers(t *testing.T) {
	// Given: every backend healthy
	farm := newFakeFarm()
	r := newTestRouter(farm, RouterConfig{})

	// When: generating
	res := r.Generate(context.Background(), Request{Prompt: "question"})

	// Then: the primary answers with its own defaults and nothing is degraded
	require.True(t, res.OK)
	assert.Equal(t, Phi3Mini, res.Backend)
	assert.Equal(t, "answer from phi3_mini", res.Text)
	assert.False(t, res.Degraded())
	assert.Equal(t, res.Text, res.Answer())
	assert.Equal(t, "Phi-3 Mini (Main LLM)", res.Description())
	assert.Equal(t, []call{{Backend: Phi3Mini, MaxTokens: 500, Temperature: 0.2}}, farm.Calls())
	assert.Equal(t, 0, farm.Loads(TinyLlama))
}

func TestRouter_PrimaryUnavailableUsesFallback(t *testing.T) {
	// Given: the primary cannot load
	farm := newFakeFarm()
	farm.down[Phi3Mini] = true
	r := newTestRouter(farm, RouterConfig{})

	// When: generating
	res := r.Generate(context.Background(), Request{Prompt: "question"})

	// Then: the fallback answers and the result names it
	require.True(t, res.OK)
	assert.Equal(t, TinyLlama, res.Backend)
	assert.Equal(t, "TinyLlama (Fast Fallback)", res.Description())
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "Phi-3 Mini (Main LLM) was unavailable")
	assert.Contains(t, res.Answer(), "answered with TinyLlama (Fast Fallback)")
	assert.Equal(t, StateSelecting, res.Attempts[0].State)
}

func TestRouter_NoBackendAvailable(t *testing.T) {
	// Given: every backend is down
	farm := newFakeFarm()
	for _, id := range AllBackends {
		farm.down[id] = true
	}
	r := newTestRouter(farm, RouterConfig{})

	// When: generating
	res := r.Generate(context.Background(), Request{Prompt: "question"})

	// Then: a no-models message comes back without any completion call
	assert.False(t, res.OK)
	assert.True(t, strings.HasPrefix(res.Text, NoBackendText))
	assert.Contains(t, res.Text, "phi3_mini, tinyllama")
	assert.Empty(t, farm.Calls())
	assert.Equal(t, "none", res.Description())
}

func TestRouter_OverflowRetriesWithReducedBudget(t *testing.T) {
	// Given: a primary that overflows above 300 tokens
	farm := newFakeFarm()
	farm.respond[Phi3Mini] = overflowAbove(300)
	r := newTestRouter(farm, RouterConfig{})

	// When: generating
	res := r.Generate(context.Background(), Request{Prompt: "question"})

	// Then: the same backend answers at the reduced budget with a note
	require.True(t, res.OK)
	assert.Equal(t, Phi3Mini, res.Backend)
	assert.Equal(t, "short answer", res.Text)
	require.Len(t, res.Notes, 1)
	assert.Equal(t,
		"(Note: output was generated with a reduced max token limit due to Phi-3 Mini (Main LLM)'s context window.)",
		res.Notes[0])
	calls := farm.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 500, calls[0].MaxTokens)
	assert.Equal(t, ReducedMaxTokens, calls[1].MaxTokens)
	assert.Equal(t, StateRetrying, res.Attempts[1].State)
}

func TestRouter_RetryFailureFallsBack(t *testing.T) {
	// Given: a primary that overflows at any budget
	farm := newFakeFarm()
	farm.respond[Phi3Mini] = alwaysOverflow
	r := newTestRouter(farm, RouterConfig{MaxTokensOverride: 400})

	// When: generating
	res := r.Generate(context.Background(), Request{Prompt: "question"})

	// Then: the fallback answers with its own defaults and says so
	require.True(t, res.OK)
	assert.Equal(t, TinyLlama, res.Backend)
	assert.Equal(t, []string{"(Note: Generated using fallback model due to context limitations.)"}, res.Notes)
	calls := farm.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, call{Backend: Phi3Mini, MaxTokens: 400, Temperature: 0.2}, calls[0])
	assert.Equal(t, call{Backend: Phi3Mini, MaxTokens: 256, Temperature: 0.2}, calls[1])
	assert.Equal(t, call{Backend: TinyLlama, MaxTokens: 250, Temperature: 0.2}, calls[2])
}

func TestRouter_FallbackAlsoOverflows(t *testing.T) {
	farm := newFakeFarm()
	farm.respond[Phi3Mini] = alwaysOverflow
	farm.respond[TinyLlama] = alwaysOverflow
	r := newTestRouter(farm, RouterConfig{})

	res := r.Generate(context.Background(), Request{Prompt: "question"})

	assert.False(t, res.OK)
	assert.Contains(t, res.Text, "fallback TinyLlama (Fast Fallback) also failed")
	assert.Len(t, farm.Calls(), 3)
	assert.Equal(t, StateFallingBack, res.Attempts[len(res.Attempts)-1].State)
}

func TestRouter_FallbackOverflowDoesNotFallBackToItself(t *testing.T) {
	// Given: the fallback is also the primary
	farm := newFakeFarm()
	farm.respond[TinyLlama] = alwaysOverflow
	r := newTestRouter(farm, RouterConfig{Primary: TinyLlama, Fallback: TinyLlama})

	// When: generating
	res := r.Generate(context.Background(), Request{Prompt: "question"})

	// Then: one retry and then the error
	assert.False(t, res.OK)
	assert.True(t, strings.HasPrefix(res.Text, "Error generating answer after reducing tokens:"))
	assert.Len(t, farm.Calls(), 2)
}

func TestRouter_RuntimeErrorStops(t *testing.T) {
	farm := newFakeFarm()
	farm.respond[Phi3Mini] = func(int) (string, error) { return "", errors.New("sampler crashed") }
	r := newTestRouter(farm, RouterConfig{})

	res := r.Generate(context.Background(), Request{Prompt: "question"})

	assert.False(t, res.OK)
	assert.Equal(t, "Error generating answer with Phi-3 Mini (Main LLM): sampler crashed", res.Text)
	assert.Len(t, farm.Calls(), 1)
}

func TestRouter_UnavailableAtCallTimeMovesOn(t *testing.T) {
	// Given: a primary that loads but whose server refuses calls
	farm := newFakeFarm()
	farm.respond[Phi3Mini] = func(int) (string, error) { return "", errors.New("connection refused") }
	r := newTestRouter(farm, RouterConfig{})

	// When: generating
	res := r.Generate(context.Background(), Request{Prompt: "question"})

	// Then: the next candidate answers
	require.True(t, res.OK)
	assert.Equal(t, TinyLlama, res.Backend)
	assert.Contains(t, res.Notes[0], "was unavailable")
}

func TestRouter_EmptyOutput(t *testing.T) {
	farm := newFakeFarm()
	farm.respond[Phi3Mini] = func(int) (string, error) { return "  \n", nil }
	r := newTestRouter(farm, RouterConfig{})

	res := r.Generate(context.Background(), Request{Prompt: "question"})

	require.True(t, res.OK)
	assert.Equal(t, "Phi-3 Mini (Main LLM) returned no output.", res.Text)
}

func TestRouter_Candidates(t *testing.T) {
	r := newTestRouter(newFakeFarm(), RouterConfig{LongContextThreshold: 10})
	long := strings.Repeat("x", 11)

	assert.Equal(t, []BackendID{Phi3Mini, TinyLlama}, r.Candidates(Request{Prompt: long}))
	assert.Equal(t, []BackendID{Llama3_8B, Phi3Mini, TinyLlama},
		r.Candidates(Request{Prompt: long, PreferLongContext: true}))
	assert.Equal(t, []BackendID{Phi3Mini, TinyLlama},
		r.Candidates(Request{Prompt: "short", PreferLongContext: true}))
	assert.Equal(t, []BackendID{TinyLlama, Phi3Mini},
		r.Candidates(Request{Prompt: "short", Preferred: TinyLlama}))

	always := newTestRouter(newFakeFarm(), RouterConfig{LongContextThreshold: 10, UseLongContext: true})
	assert.Equal(t, Llama3_8B, always.Candidates(Request{Prompt: long})[0])
	assert.Equal(t, 10, always.Config().LongContextThreshold)
	assert.Equal(t, DefaultLongContextThreshold, newTestRouter(newFakeFarm(), RouterConfig{}).Config().LongContextThreshold)
}

func TestRouter_LongContextAnswersLargePrompts(t *testing.T) {
	farm := newFakeFarm()
	r := newTestRouter(farm, RouterConfig{UseLongContext: true, LongContextThreshold: 5})

	res := r.Generate(context.Background(), Request{Prompt: "a rather long prompt"})

	require.True(t, res.OK)
	assert.Equal(t, Llama3_8B, res.Backend)
	assert.Equal(t, 1000, farm.Calls()[0].MaxTokens)
}

func TestRouter_Overrides(t *testing.T) {
	farm := newFakeFarm()
	temp := 0.7
	r := newTestRouter(farm, RouterConfig{MaxTokensOverride: 123, TemperatureOverride: &temp})

	res := r.Generate(context.Background(), Request{Prompt: "question"})

	require.True(t, res.OK)
	assert.Equal(t, []call{{Backend: Phi3Mini, MaxTokens: 123, Temperature: 0.7}}, farm.Calls())
}

func TestRouter_CancelledContext(t *testing.T) {
	farm := newFakeFarm()
	r := newTestRouter(farm, RouterConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Generate(ctx, Request{Prompt: "question"})

	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Text)
	assert.Empty(t, farm.Calls())
}
