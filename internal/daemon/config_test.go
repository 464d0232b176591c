package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/var/lib/repoindex")

	assert.Equal(t, "/var/lib/repoindex/repoindex.sock", cfg.SocketPath)
	assert.Equal(t, "/var/lib/repoindex/repoindex.pid", cfg.PIDPath)
	assert.Equal(t, "/var/lib/repoindex/locks", cfg.LockDir)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGracePeriod)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "empty socket path", mutate: func(c *Config) { c.SocketPath = "" }, errMsg: "socket path"},
		{name: "empty pid path", mutate: func(c *Config) { c.PIDPath = "" }, errMsg: "PID path"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, errMsg: "timeout"},
		{name: "negative grace", mutate: func(c *Config) { c.ShutdownGracePeriod = -time.Second }, errMsg: "grace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(t.TempDir())
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_EnsureDir(t *testing.T) {
	// Given: paths under directories that do not exist
	root := t.TempDir()
	cfg := Config{
		SocketPath: filepath.Join(root, "run", "repoindex.sock"),
		PIDPath:    filepath.Join(root, "pid", "repoindex.pid"),
		LockDir:    filepath.Join(root, "locks"),
	}

	// When: ensuring directories
	require.NoError(t, cfg.EnsureDir())

	// Then: every parent exists
	for _, dir := range []string{"run", "pid", "locks"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
