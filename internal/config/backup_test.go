package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupFile_MissingFileIsNoop(t *testing.T) {
	path, err := BackupFile(filepath.Join(t.TempDir(), ProjectConfigName))

	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupFile_KeepsNewestBackups(t *testing.T) {
	// Given: an existing config file
	path := filepath.Join(t.TempDir(), ProjectConfigName)
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	// When: backing up more times than MaxBackups
	var last string
	for i := 0; i < MaxBackups+2; i++ {
		b, err := BackupFile(path)
		require.NoError(t, err)
		last = b
		time.Sleep(2 * time.Millisecond)
	}

	// Then: only MaxBackups remain and the newest is first
	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
	assert.Equal(t, last, backups[0])

	data, err := os.ReadFile(last)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}
