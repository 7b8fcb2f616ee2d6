package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Runtime is a loaded generation backend.
type Runtime interface {
	// Complete generates text for prompt. Failures should be *Error values;
	// untyped errors are classified by the registry.
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)

	Close() error
}

// Loader creates the Runtime for a backend. It should fail with a
// KindUnavailable error when the backend cannot serve requests.
type Loader func(ctx context.Context, b Backend) (Runtime, error)

// handle is a loaded runtime. mu serializes calls when the runtime is not
// safe for concurrent inference.
type handle struct {
	runtime Runtime
	mu      sync.Mutex
}

// Registry memoizes one runtime per backend. A backend loads at most once
// while it stays healthy; failed loads are not cached.
type Registry struct {
	backends  map[BackendID]Backend
	load      Loader
	serialize bool

	group  singleflight.Group
	mu     sync.RWMutex
	loaded map[BackendID]*handle
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSerializedCalls controls whether calls to one backend run one at a time.
func WithSerializedCalls(on bool) RegistryOption {
	return func(r *Registry) {
		r.serialize = on
	}
}

// NewRegistry creates a registry over the configured backends.
func NewRegistry(backends []Backend, load Loader, opts ...RegistryOption) *Registry {
	r := &Registry{
		backends:  make(map[BackendID]Backend, len(backends)),
		load:      load,
		serialize: true,
		loaded:    make(map[BackendID]*handle),
	}
	for _, b := range backends {
		r.backends[b.ID] = b
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backend returns the configuration of id.
func (r *Registry) Backend(id BackendID) (Backend, bool) {
	b, ok := r.backends[id]
	return b, ok
}

// Backends returns every configured backend sorted by id.
func (r *Registry) Backends() []Backend {
	out := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Loaded reports whether id has a live runtime.
func (r *Registry) Loaded(id BackendID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaded[id]
	return ok
}

// Load returns the runtime handle for id, loading it on first use.
// Concurrent first callers share one load.
func (r *Registry) Load(ctx context.Context, id BackendID) error {
	_, err := r.handle(ctx, id)
	return err
}

func (r *Registry) handle(ctx context.Context, id BackendID) (*handle, error) {
	r.mu.RLock()
	h, ok := r.loaded[id]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	b, ok := r.backends[id]
	if !ok {
		return nil, NewError(KindUnavailable, id, errors.New("backend not configured"))
	}
	if err := b.Validate(); err != nil {
		return nil, NewError(KindUnavailable, id, err)
	}
	if r.load == nil {
		return nil, NewError(KindUnavailable, id, errors.New("no runtime loader"))
	}

	v, err, _ := r.group.Do(string(id), func() (any, error) {
		r.mu.RLock()
		existing, ok := r.loaded[id]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		start := time.Now()
		rt, err := r.load(ctx, b)
		if err != nil {
			slog.Warn("backend_load_failed",
				slog.String("backend", string(id)),
				slog.String("model", b.Model),
				slog.String("error", err.Error()))
			return nil, err
		}
		h := &handle{runtime: rt}
		r.mu.Lock()
		r.loaded[id] = h
		r.mu.Unlock()

		slog.Info("backend_loaded",
			slog.String("backend", string(id)),
			slog.String("provider", b.Provider),
			slog.String("model", b.Model),
			slog.Int("context_size", b.ContextSize),
			slog.Duration("duration", time.Since(start)))
		return h, nil
	})
	if err != nil {
		ge := Classify(id, err)
		if ge.Kind == KindRuntime {
			ge = NewError(KindUnavailable, id, err)
		}
		return nil, ge
	}
	return v.(*handle), nil
}

// Complete runs one completion on id, loading it if needed. The error, if
// any, is always a *Error.
func (r *Registry) Complete(ctx context.Context, id BackendID, prompt string, maxTokens int, temperature float64) (string, error) {
	h, err := r.handle(ctx, id)
	if err != nil {
		return "", err
	}
	if r.serialize {
		h.mu.Lock()
		defer h.mu.Unlock()
	}

	text, err := h.runtime.Complete(ctx, prompt, maxTokens, temperature)
	if err != nil {
		ge := Classify(id, err)
		if ge.Kind == KindUnavailable {
			r.evict(id, h)
		}
		return "", ge
	}
	return text, nil
}

// evict drops a runtime that stopped serving so the next call reloads it.
func (r *Registry) evict(id BackendID, h *handle) {
	r.mu.Lock()
	if r.loaded[id] == h {
		delete(r.loaded, id)
	}
	r.mu.Unlock()
	if err := h.runtime.Close(); err != nil {
		slog.Debug("backend_close_failed", slog.String("backend", string(id)), slog.String("error", err.Error()))
	}
}

// Close closes every loaded runtime.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, h := range r.loaded {
		if err := h.runtime.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	r.loaded = make(map[BackendID]*handle)
	return errors.Join(errs...)
}
