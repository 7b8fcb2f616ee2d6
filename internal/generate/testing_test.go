package generate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// call is one recorded Complete invocation.
type call struct {
	Backend     BackendID
	MaxTokens   int
	Temperature float64
}

// fakeRuntime answers with a scripted function.
type fakeRuntime struct {
	id     BackendID
	farm   *fakeFarm
	closed atomic.Bool
}

func (f *fakeRuntime) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	f.farm.mu.Lock()
	f.farm.calls = append(f.farm.calls, call{Backend: f.id, MaxTokens: maxTokens, Temperature: temperature})
	respond := f.farm.respond[f.id]
	f.farm.mu.Unlock()
	if respond == nil {
		return "answer from " + string(f.id), nil
	}
	return respond(maxTokens)
}

func (f *fakeRuntime) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeFarm is a Loader over fake runtimes with per-backend behavior.
type fakeFarm struct {
	mu      sync.Mutex
	calls   []call
	loads   map[BackendID]int
	down    map[BackendID]bool
	respond map[BackendID]func(maxTokens int) (string, error)
}

func newFakeFarm() *fakeFarm {
	return &fakeFarm{
		loads:   make(map[BackendID]int),
		down:    make(map[BackendID]bool),
		respond: make(map[BackendID]func(int) (string, error)),
	}
}

func (f *fakeFarm) load(_ context.Context, b Backend) (Runtime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads[b.ID]++
	if f.down[b.ID] {
		return nil, NewError(KindUnavailable, b.ID, errors.New("connection refused"))
	}
	return &fakeRuntime{id: b.ID, farm: f}, nil
}

func (f *fakeFarm) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeFarm) Loads(id BackendID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[id]
}

func defaultBackends() []Backend {
	out := make([]Backend, 0, len(AllBackends))
	for _, id := range AllBackends {
		out = append(out, DefaultBackend(id))
	}
	return out
}

// overflowAbove fails with a context overflow when maxTokens exceeds limit.
func overflowAbove(limit int) func(int) (string, error) {
	return func(maxTokens int) (string, error) {
		if maxTokens > limit {
			return "", errors.New("requested tokens exceed context window")
		}
		return "short answer", nil
	}
}

func alwaysOverflow(int) (string, error) {
	return "", errors.New("maximum context length exceeded")
}
