package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupFile_MissingIsNoOp(t *testing.T) {
	path, err := BackupFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupFile_KeepsNewest(t *testing.T) {
	// Given: an existing config file
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	// When: backing it up more often than MaxBackups
	var made []string
	for i := 0; i < MaxBackups+2; i++ {
		b, err := BackupFile(path)
		require.NoError(t, err)
		made = append(made, b)
		time.Sleep(2 * time.Millisecond)
	}

	// Then: only the newest MaxBackups remain, newest first
	backups, err := ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, MaxBackups)
	assert.Equal(t, made[len(made)-1], backups[0])
	_, err = os.Stat(made[0])
	assert.True(t, os.IsNotExist(err))
}

func TestRestoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /old\n"), 0o644))
	backup, err := BackupFile(path)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /new\n"), 0o644))

	require.NoError(t, RestoreFile(path, backup))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data_dir: /old\n", string(data))

	// the replaced content was backed up too
	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	// Given: no file, When: init, Then: defaults are written and load back
	backup, err := Init(path, false)
	require.NoError(t, err)
	assert.Empty(t, backup)
	cfg, err := loadFile(t, path)
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Workers, cfg.Workers)

	// a second init refuses to overwrite
	_, err = Init(path, false)
	assert.Error(t, err)

	// unless forced, which backs up first
	backup, err = Init(path, true)
	require.NoError(t, err)
	assert.FileExists(t, backup)
}

func loadFile(t *testing.T, path string) (*Config, error) {
	t.Helper()
	cfg := NewConfig()
	return cfg, cfg.loadYAML(path)
}
