package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config somewhere empty.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: the production defaults apply
	for kind, ic := range cfg.Indexes.All() {
		assert.Equal(t, 30*time.Minute, ic.Interval, kind)
		assert.Equal(t, 1000, ic.PageSize, kind)
		assert.Equal(t, 1000, ic.BatchSize, kind)
	}
	assert.Equal(t, []string{"content", "filename"}, cfg.Indexes.Enabled())

	assert.Equal(t, 1800*time.Second, cfg.Coordination.LeaseTTL)
	assert.Equal(t, 600*time.Second, cfg.Coordination.RenewInterval)
	assert.Equal(t, "v2_", cfg.Coordination.KeyPrefix)

	assert.Equal(t, 2, cfg.Workers.Count)
	assert.Equal(t, "index_task", cfg.Workers.Queue)
	assert.Equal(t, 30*time.Second, cfg.Workers.PopTimeout)

	assert.Equal(t, int64(1), cfg.Limits.TextSizeMB)
	assert.Equal(t, int64(10), cfg.Limits.OfficeSizeMB)
	assert.Equal(t, int64(5), cfg.Limits.PageSizeMB)
	assert.Equal(t, 10000, cfg.Limits.ContentRunes)
	assert.Equal(t, []string{"images", "_Internal"}, cfg.SkipTopDirs)

	require.NoError(t, cfg.Validate())
}

func TestLoad_Precedence(t *testing.T) {
	xdg := isolate(t)

	// Given: a user config, an explicit file and an env override
	writeFile(t, filepath.Join(xdg, "repoindex", "config.yaml"), `
data_dir: /srv/user
backend:
  type: sqlite
workers:
  count: 4
`)
	explicit := filepath.Join(t.TempDir(), "repoindex.yaml")
	writeFile(t, explicit, `
data_dir: /srv/explicit
indexes:
  page:
    enabled: true
    interval: 5m
`)
	t.Setenv("REPOINDEX_WORKERS_COUNT", "8")

	// When
	cfg, err := Load(explicit)
	require.NoError(t, err)

	// Then: each layer wins over the one before, untouched keys keep defaults
	assert.Equal(t, "/srv/explicit", cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.Backend.Type)
	assert.Equal(t, 8, cfg.Workers.Count)
	assert.True(t, cfg.Indexes.Page.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Indexes.Page.Interval)
	assert.Equal(t, 1000, cfg.Indexes.Page.BatchSize)
	assert.Equal(t, "index_task", cfg.Workers.Queue)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("REPOINDEX_BACKEND_TYPE", "seasearch")
	t.Setenv("REPOINDEX_BACKEND_URL", "http://search:4080")
	t.Setenv("REPOINDEX_COORDINATION_TYPE", "redis")
	t.Setenv("REPOINDEX_REDIS_ADDR", "redis:6379")
	t.Setenv("REPOINDEX_WORKERS_ENABLED", "true")
	t.Setenv("REPOINDEX_INTERVAL", "10m")
	t.Setenv("REPOINDEX_SKIP_TOP_DIRS", "images, tmp ,")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "seasearch", cfg.Backend.Type)
	assert.Equal(t, "redis:6379", cfg.Coordination.RedisAddr)
	assert.True(t, cfg.Workers.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Indexes.Content.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Indexes.Page.Interval)
	assert.Equal(t, []string{"images", "tmp"}, cfg.SkipTopDirs)
}

func TestLoad_BadEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("REPOINDEX_WORKERS_COUNT", "many")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, bad, "workers: [not a map")
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	writeFile(t, invalid, "backend:\n  type: elastic\n")
	_, err = Load(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.type")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"seasearch without url", func(c *Config) { c.Backend.Type = "seasearch" }, "backend.url"},
		{"negative rate", func(c *Config) { c.Backend.RateLimit = -1 }, "rate_limit"},
		{"unknown status", func(c *Config) { c.Status.Type = "mysql" }, "status.type"},
		{"redis without addr", func(c *Config) { c.Coordination.Type = "redis" }, "redis_addr"},
		{"ttl below renewal", func(c *Config) { c.Coordination.LeaseTTL = time.Minute }, "lease_ttl"},
		{"zero interval", func(c *Config) { c.Indexes.Content.Interval = 0 }, "indexes.content.interval"},
		{"zero interval on disabled kind", func(c *Config) { c.Indexes.Page.Interval = 0 }, ""},
		{"zero batch", func(c *Config) { c.Indexes.Filename.BatchSize = 0 }, "indexes.filename"},
		{"nothing enabled", func(c *Config) {
			c.Indexes.Content.Enabled = false
			c.Indexes.Filename.Enabled = false
		}, "at least one"},
		{"workers without redis", func(c *Config) {
			c.Workers.Enabled = true
		}, "need redis coordination"},
		{"workers with redis", func(c *Config) {
			c.Workers.Enabled = true
			c.Coordination.Type = "redis"
			c.Coordination.RedisAddr = "localhost:6379"
		}, ""},
		{"zero workers", func(c *Config) {
			c.Workers.Enabled = true
			c.Workers.Count = 0
		}, "workers.count"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"upper case log level", func(c *Config) { c.Logging.Level = "DEBUG" }, ""},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := NewConfig()
	cfg.DataDir = "/data"
	cfg.Backend.Dir = "/fast/indices"
	cfg.Resolve()

	assert.Equal(t, "/data/objects", cfg.Objects.Root)
	assert.Equal(t, "/data/repos.db", cfg.Repos.Path)
	assert.Equal(t, "/fast/indices", cfg.Backend.Dir)
	assert.Equal(t, "/data/leases.db", cfg.Coordination.Path)
	assert.Equal(t, "/data/status.db", cfg.StatusPath("content"))

	peb := NewConfig()
	peb.DataDir = "/data"
	peb.Status.Type = "pebble"
	peb.Resolve()
	assert.Equal(t, "/data/status/filename", peb.StatusPath("filename"))
}

func TestGetUserConfigPath(t *testing.T) {
	xdg := isolate(t)
	assert.Equal(t, filepath.Join(xdg, "repoindex", "config.yaml"), GetUserConfigPath())
	assert.False(t, UserConfigExists())
}
