package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_DebouncesTranscriptChanges(t *testing.T) {
	// Given: a watcher over an empty directory
	dir := t.TempDir()
	var mu sync.Mutex
	var batches [][]string
	w, err := NewWatcher(dir, 100*time.Millisecond, func(_ context.Context, paths []string) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, paths)
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// When: a transcript is written several times and a non-transcript once
	path := writeFile(t, dir, "episode.txt", "one")
	writeFile(t, dir, "episode.txt", "two")
	writeFile(t, dir, "cover.png", "png")

	// Then: one batch arrives naming only the transcript
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) > 0
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{filepath.Clean(path)}, batches[0])
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestNewWatcher_MissingDirectory(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), 0, nil)
	assert.Error(t, err)
}
