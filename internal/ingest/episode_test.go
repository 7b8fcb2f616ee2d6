package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDirectory(t *testing.T) {
	// Given: transcripts plus an empty file, a binary file and a non-transcript
	dir := t.TempDir()
	writeFile(t, dir, "b_second-episode.txt", "Host: hi\nGuest: hello")
	writeFile(t, dir, "a_first.txt", "  Some words.  ")
	writeFile(t, dir, "c_empty.txt", "   \n")
	writeFile(t, dir, "d_binary.txt", string([]byte{0xff, 0xfe, 0x00}))
	writeFile(t, dir, "notes.md", "ignored")

	// When: loading with default metadata
	episodes, err := LoadDirectory(dir, Defaults{})

	// Then: valid files become episodes numbered by their sorted position
	require.NoError(t, err)
	require.Len(t, episodes, 2)

	first := episodes[0]
	assert.Equal(t, "ep-001", first.ID)
	assert.Equal(t, "A First", first.Title)
	assert.Equal(t, "Some words.", first.Transcript)
	assert.Equal(t, "Local Transcripts", first.PodcastName)
	assert.Equal(t, "Unknown", first.Host)
	assert.Equal(t, "2024-01-01", first.Date)
	assert.Empty(t, first.Topics)
	assert.True(t, strings.HasPrefix(first.URL, "file:///"))
	assert.True(t, filepath.IsAbs(first.Path))

	assert.Equal(t, "ep-002", episodes[1].ID)
	assert.Equal(t, "B Second Episode", episodes[1].Title)
}

func TestLoadDirectory_CustomDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ep.txt", "text")

	episodes, err := LoadDirectory(dir, Defaults{PodcastName: "Founders", Host: "Sam", Date: "2025-02-03"})

	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.Equal(t, "Founders", episodes[0].PodcastName)
	assert.Equal(t, "Sam", episodes[0].Host)
	assert.Equal(t, "2025-02-03", episodes[0].Date)
}

func TestLoadDirectory_Missing(t *testing.T) {
	_, err := LoadDirectory(filepath.Join(t.TempDir(), "nope"), Defaults{})
	assert.Equal(t, poderrors.ErrCodeFileNotFound, poderrors.GetCode(err))

	file := writeFile(t, t.TempDir(), "x.txt", "x")
	_, err = LoadDirectory(file, Defaults{})
	assert.Equal(t, poderrors.ErrCodeInvalidPath, poderrors.GetCode(err))
}

func TestTitleFromStem(t *testing.T) {
	tests := map[string]string{
		"ai_and-the_future":         "Ai And The Future",
		"INTERVIEW_with_jane_smith": "Interview With Jane Smith",
		"ep01abc":                   "Ep01Abc",
		"plain":                     "Plain",
		"":                          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, TitleFromStem(in), in)
	}
}

func TestEpisode_ContentHash(t *testing.T) {
	a := Episode{ID: "ep-001", Title: "T", Transcript: "hello"}
	b := a
	b.ID = "ep-099"
	c := a
	c.Transcript = "hello!"

	assert.Equal(t, a.ContentHash(), b.ContentHash())
	assert.NotEqual(t, a.ContentHash(), c.ContentHash())
}
