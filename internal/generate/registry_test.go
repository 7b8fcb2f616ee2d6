package generate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LoadsOnceUnderConcurrency(t *testing.T) {
	// Given: a registry over a counting loader
	farm := newFakeFarm()
	reg := NewRegistry(defaultBackends(), farm.load)
	defer func() { _ = reg.Close() }()

	// When: many goroutines load the same backend
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, reg.Load(context.Background(), Phi3Mini))
		}()
	}
	wg.Wait()

	// Then: the loader ran once and the backend is live
	assert.Equal(t, 1, farm.Loads(Phi3Mini))
	assert.True(t, reg.Loaded(Phi3Mini))
	assert.False(t, reg.Loaded(TinyLlama))
}

func TestRegistry_LoadFailureNotCached(t *testing.T) {
	// Given: a backend that is down
	farm := newFakeFarm()
	farm.down[TinyLlama] = true
	reg := NewRegistry(defaultBackends(), farm.load)

	// When: loading fails, the backend comes up, and we load again
	err := reg.Load(context.Background(), TinyLlama)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnavailable))

	farm.mu.Lock()
	farm.down[TinyLlama] = false
	farm.mu.Unlock()

	// Then: the second attempt loads
	require.NoError(t, reg.Load(context.Background(), TinyLlama))
	assert.Equal(t, 2, farm.Loads(TinyLlama))
}

func TestRegistry_UnknownAndInvalidBackends(t *testing.T) {
	bad := DefaultBackend(Llama3_8B)
	bad.Model = ""
	reg := NewRegistry([]Backend{bad}, newFakeFarm().load)

	err := reg.Load(context.Background(), Phi3Mini)
	assert.True(t, IsKind(err, KindUnavailable))

	err = reg.Load(context.Background(), Llama3_8B)
	assert.True(t, IsKind(err, KindUnavailable))

	noLoader := NewRegistry(defaultBackends(), nil)
	assert.True(t, IsKind(noLoader.Load(context.Background(), Phi3Mini), KindUnavailable))
}

func TestRegistry_UntypedLoadErrorBecomesUnavailable(t *testing.T) {
	reg := NewRegistry(defaultBackends(), func(context.Context, Backend) (Runtime, error) {
		return nil, errors.New("weights are corrupt")
	})

	err := reg.Load(context.Background(), Phi3Mini)

	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestRegistry_CompleteEvictsUnavailableRuntime(t *testing.T) {
	// Given: a loaded backend whose server then goes away
	farm := newFakeFarm()
	reg := NewRegistry(defaultBackends(), farm.load)
	_, err := reg.Complete(context.Background(), Phi3Mini, "p", 10, 0)
	require.NoError(t, err)
	farm.respond[Phi3Mini] = func(int) (string, error) {
		return "", errors.New("dial tcp: connection refused")
	}

	// When: completing again
	_, err = reg.Complete(context.Background(), Phi3Mini, "p", 10, 0)

	// Then: the error is typed and the runtime was dropped for reload
	assert.True(t, IsKind(err, KindUnavailable))
	assert.False(t, reg.Loaded(Phi3Mini))
}

// slowRuntime tracks how many calls run at the same time.
type slowRuntime struct {
	active, peak atomic.Int32
}

func (s *slowRuntime) Complete(context.Context, string, int, float64) (string, error) {
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.active.Add(-1)
	return "ok", nil
}

func (s *slowRuntime) Close() error { return nil }

func TestRegistry_SerializedCalls(t *testing.T) {
	run := func(serialize bool) int32 {
		rt := &slowRuntime{}
		reg := NewRegistry(defaultBackends(), func(context.Context, Backend) (Runtime, error) {
			return rt, nil
		}, WithSerializedCalls(serialize))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := reg.Complete(context.Background(), Phi3Mini, "p", 10, 0)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		return rt.peak.Load()
	}

	assert.Equal(t, int32(1), run(true))
	assert.GreaterOrEqual(t, run(false), int32(1))
}

func TestRegistry_CloseClosesRuntimes(t *testing.T) {
	farm := newFakeFarm()
	var rts []*fakeRuntime
	reg := NewRegistry(defaultBackends(), func(ctx context.Context, b Backend) (Runtime, error) {
		rt, err := farm.load(ctx, b)
		if err == nil {
			rts = append(rts, rt.(*fakeRuntime))
		}
		return rt, err
	})
	require.NoError(t, reg.Load(context.Background(), Phi3Mini))
	require.NoError(t, reg.Load(context.Background(), TinyLlama))

	require.NoError(t, reg.Close())

	require.Len(t, rts, 2)
	for _, rt := range rts {
		assert.True(t, rt.closed.Load())
	}
	assert.False(t, reg.Loaded(Phi3Mini))
	assert.Len(t, reg.Backends(), 3)
	assert.Equal(t, Llama3_8B, reg.Backends()[0].ID)
}
