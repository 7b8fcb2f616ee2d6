package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultLongContextThreshold is the prompt length, in characters,
	// above which the long-context backend is preferred when enabled.
	DefaultLongContextThreshold = 4000

	// ReducedMaxTokens caps the token budget of the overflow retry.
	ReducedMaxTokens = 256

	// NoBackendText is returned when no backend could be loaded.
	NoBackendText = "Error: No models available. Configure at least one generation backend and run 'podrag doctor'."
)

// State is a step of the routing state machine.
type State int

const (
	StateSelecting State = iota
	StateAttempting
	StateRetrying
	StateFallingBack
	StateSucceeded
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateSelecting:
		return "selecting"
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateFallingBack:
		return "falling_back"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Request is one generation request.
type Request struct {
	Prompt string

	// Preferred is tried before the primary backend when set.
	Preferred BackendID

	// PreferLongContext tries the long-context backend first for prompts
	// longer than the threshold.
	PreferLongContext bool
}

// Attempt records one call or load in the routing chain.
type Attempt struct {
	Backend   BackendID
	State     State
	MaxTokens int
	Err       error
}

// Result is the outcome of Generate. Text is never empty.
type Result struct {
	Text    string
	Backend BackendID

	// Notes disclose degraded paths, in the order they happened.
	Notes []string

	// Attempts is the full routing trace.
	Attempts []Attempt

	// OK is false when Text describes a failure instead of an answer.
	OK bool
}

// Description returns the human-readable name of the backend that answered.
func (r Result) Description() string {
	if r.Backend == "" {
		return "none"
	}
	return r.Backend.Description()
}

// Degraded reports whether any fallback or budget reduction happened.
func (r Result) Degraded() bool {
	return len(r.Notes) > 0
}

// RouterConfig orders the candidate backends.
type RouterConfig struct {
	Primary     BackendID
	Fallback    BackendID
	LongContext BackendID

	// UseLongContext enables the long-context backend for large prompts
	// regardless of the request flag.
	UseLongContext       bool
	LongContextThreshold int

	// MaxTokensOverride and TemperatureOverride replace every backend's
	// defaults before dispatch. Zero and nil leave them unchanged.
	MaxTokensOverride   int
	TemperatureOverride *float64
}

// Router selects a backend for each request and recovers from failures:
//
//	Selecting -> Attempting(b) -> Succeeded
//	                           -> Retrying(reduced budget) -> Succeeded
//	                                                       -> FallingBack(fallback) -> Succeeded | Exhausted
//	                           -> Selecting (b unavailable at call time)
//	Selecting -> Exhausted (no candidate loads)
type Router struct {
	registry *Registry
	cfg      RouterConfig
}

// NewRouter creates a router over registry.
func NewRouter(registry *Registry, cfg RouterConfig) *Router {
	if cfg.LongContextThreshold <= 0 {
		cfg.LongContextThreshold = DefaultLongContextThreshold
	}
	return &Router{registry: registry, cfg: cfg}
}

// Registry returns the backend registry.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Config returns the routing configuration.
func (r *Router) Config() RouterConfig {
	return r.cfg
}

// Candidates returns the ordered, de-duplicated backends tried for req.
func (r *Router) Candidates(req Request) []BackendID {
	var ordered []BackendID
	if (req.PreferLongContext || r.cfg.UseLongContext) && len(req.Prompt) > r.cfg.LongContextThreshold {
		ordered = append(ordered, r.cfg.LongContext)
	}
	ordered = append(ordered, req.Preferred, r.cfg.Primary, r.cfg.Fallback)

	seen := make(map[BackendID]bool, len(ordered))
	out := make([]BackendID, 0, len(ordered))
	for _, id := range ordered {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// settings returns the sampling settings for b with overrides applied.
func (r *Router) settings(b Backend) (int, float64) {
	maxTokens, temperature := b.MaxTokens, b.Temperature
	if r.cfg.MaxTokensOverride > 0 {
		maxTokens = r.cfg.MaxTokensOverride
	}
	if r.cfg.TemperatureOverride != nil {
		temperature = *r.cfg.TemperatureOverride
	}
	return maxTokens, temperature
}

// routing carries the state of one Generate call.
type routing struct {
	result Result
	// skipped holds candidates that could not serve the request.
	skipped []BackendID
}

func (rt *routing) record(id BackendID, state State, maxTokens int, err error) {
	rt.result.Attempts = append(rt.result.Attempts, Attempt{Backend: id, State: state, MaxTokens: maxTokens, Err: err})
}

// Generate runs the routing state machine. It never returns an error:
// when no backend can answer, Result.Text explains why and OK is false.
func (r *Router) Generate(ctx context.Context, req Request) Result {
	start := time.Now()
	rt := &routing{}
	candidates := r.Candidates(req)

	state := StateSelecting
	next := 0
	var current BackendID
	var maxTokens int
	var temperature float64
	var lastErr error

	for state != StateSucceeded && state != StateExhausted {
		switch state {
		case StateSelecting:
			if ctx.Err() != nil {
				rt.result.Text = fmt.Sprintf("Error generating answer: %v", ctx.Err())
				state = StateExhausted
				continue
			}
			if next >= len(candidates) {
				rt.result.Text = r.exhaustedText(rt, lastErr)
				state = StateExhausted
				continue
			}
			current = candidates[next]
			next++
			if err := r.registry.Load(ctx, current); err != nil {
				rt.record(current, StateSelecting, 0, err)
				rt.skipped = append(rt.skipped, current)
				lastErr = err
				continue
			}
			b, _ := r.registry.Backend(current)
			maxTokens, temperature = r.settings(b)
			state = StateAttempting

		case StateAttempting:
			text, err := r.registry.Complete(ctx, current, req.Prompt, maxTokens, temperature)
			rt.record(current, StateAttempting, maxTokens, err)
			switch {
			case err == nil:
				r.succeed(rt, current, text)
				state = StateSucceeded
			case IsKind(err, KindOverflow):
				state = StateRetrying
			case IsKind(err, KindUnavailable):
				rt.skipped = append(rt.skipped, current)
				lastErr = err
				state = StateSelecting
			default:
				rt.result.Text = fmt.Sprintf("Error generating answer with %s: %s", current.Description(), errText(err))
				rt.result.Backend = current
				state = StateExhausted
			}

		case StateRetrying:
			reduced := min(ReducedMaxTokens, maxTokens)
			slog.Warn("generation_overflow_retry",
				slog.String("backend", string(current)),
				slog.Int("max_tokens", reduced))
			text, err := r.registry.Complete(ctx, current, req.Prompt, reduced, temperature)
			rt.record(current, StateRetrying, reduced, err)
			if err == nil {
				r.succeed(rt, current, text)
				rt.result.Notes = append(rt.result.Notes, fmt.Sprintf(
					"(Note: output was generated with a reduced max token limit due to %s's context window.)",
					current.Description()))
				state = StateSucceeded
				continue
			}
			lastErr = err
			if r.cfg.Fallback == "" || current == r.cfg.Fallback {
				rt.result.Text = "Error generating answer after reducing tokens: " + errText(err)
				rt.result.Backend = current
				state = StateExhausted
				continue
			}
			state = StateFallingBack

		case StateFallingBack:
			fallback := r.cfg.Fallback
			b, ok := r.registry.Backend(fallback)
			if !ok {
				b = DefaultBackend(fallback)
			}
			slog.Warn("generation_falling_back",
				slog.String("from", string(current)),
				slog.String("to", string(fallback)))
			text, err := r.registry.Complete(ctx, fallback, req.Prompt, b.MaxTokens, b.Temperature)
			rt.record(fallback, StateFallingBack, b.MaxTokens, err)
			if err == nil {
				r.succeed(rt, fallback, text)
				rt.result.Notes = append(rt.result.Notes,
					"(Note: Generated using fallback model due to context limitations.)")
				state = StateSucceeded
				continue
			}
			rt.result.Text = fmt.Sprintf("Error generating answer after reducing tokens: %s; fallback %s also failed: %s",
				errText(lastErr), fallback.Description(), errText(err))
			rt.result.Backend = current
			state = StateExhausted
		}
	}

	rt.result.OK = state == StateSucceeded
	if rt.result.OK && len(rt.skipped) > 0 {
		note := fmt.Sprintf("(Note: %s was unavailable; answered with %s.)",
			rt.skipped[0].Description(), rt.result.Backend.Description())
		rt.result.Notes = append([]string{note}, rt.result.Notes...)
	}

	slog.Info("generation_completed",
		slog.String("backend", string(rt.result.Backend)),
		slog.Bool("ok", rt.result.OK),
		slog.Int("attempts", len(rt.result.Attempts)),
		slog.Int("notes", len(rt.result.Notes)),
		slog.Int("prompt_chars", len(req.Prompt)),
		slog.Duration("duration", time.Since(start)))
	return rt.result
}

func (r *Router) succeed(rt *routing, id BackendID, text string) {
	rt.result.Backend = id
	text = strings.TrimSpace(text)
	if text == "" {
		text = id.Description() + " returned no output."
	}
	rt.result.Text = text
}

// exhaustedText explains why every candidate was skipped.
func (r *Router) exhaustedText(rt *routing, lastErr error) string {
	if len(rt.skipped) == 0 || lastErr == nil {
		return NoBackendText
	}
	names := make([]string, len(rt.skipped))
	for i, id := range rt.skipped {
		names[i] = string(id)
	}
	return fmt.Sprintf("%s Tried: %s. Last error: %s", NoBackendText, strings.Join(names, ", "), errText(lastErr))
}

// errText renders the innermost message of a generation error.
func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	var ge *Error
	if errors.As(err, &ge) && ge.Err != nil {
		return ge.Err.Error()
	}
	return err.Error()
}

// Answer joins the result text and its notes, the way callers display it.
func (r Result) Answer() string {
	if len(r.Notes) == 0 {
		return r.Text
	}
	return r.Text + "\n\n" + strings.Join(r.Notes, "\n")
}
