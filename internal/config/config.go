package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete repoindex configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`

	// DataDir is the root for every on-disk default below.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Objects      ObjectsConfig      `yaml:"objects" json:"objects"`
	Repos        ReposConfig        `yaml:"repos" json:"repos"`
	Backend      BackendConfig      `yaml:"backend" json:"backend"`
	Status       StatusConfig       `yaml:"status" json:"status"`
	Coordination CoordinationConfig `yaml:"coordination" json:"coordination"`
	Indexes      IndexesConfig      `yaml:"indexes" json:"indexes"`
	Limits       LimitsConfig       `yaml:"limits" json:"limits"`
	Workers      WorkersConfig      `yaml:"workers" json:"workers"`
	Metrics      MetricsConfig      `yaml:"metrics" json:"metrics"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`

	// SkipTopDirs are top-level directories never indexed.
	SkipTopDirs []string `yaml:"skip_top_dirs" json:"skip_top_dirs"`
}

// ObjectsConfig locates the content-addressed object store.
type ObjectsConfig struct {
	// Root is the object store directory. Empty means <data_dir>/objects.
	Root string `yaml:"root" json:"root"`
	// DirCacheSize is the number of directory listings kept in memory.
	DirCacheSize int `yaml:"dir_cache_size" json:"dir_cache_size"`
}

// ReposConfig locates the repository listing database.
type ReposConfig struct {
	// Path is the SQLite file. Empty means <data_dir>/repos.db.
	Path string `yaml:"path" json:"path"`
}

// BackendConfig selects the search backend.
type BackendConfig struct {
	// Type is bleve, sqlite, seasearch or memory.
	Type string `yaml:"type" json:"type"`
	// Dir holds bleve indices or the SQLite file. Empty means <data_dir>/indices.
	Dir   string `yaml:"dir" json:"dir"`
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token" json:"token"`
	// Timeout bounds one HTTP call to a remote backend.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// RateLimit caps backend write calls per second. Zero is unlimited.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	// BreakerFailures consecutive transient failures open the circuit.
	BreakerFailures int `yaml:"breaker_failures" json:"breaker_failures"`
	// BreakerReset is how long the circuit stays open.
	BreakerReset time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// StatusConfig selects the index status store.
type StatusConfig struct {
	// Type is sqlite or pebble.
	Type string `yaml:"type" json:"type"`
	// Path is the SQLite file or pebble directory. Empty means
	// <data_dir>/status.db or <data_dir>/status.
	Path string `yaml:"path" json:"path"`
}

// CoordinationConfig selects the lease store and its settings.
type CoordinationConfig struct {
	// Type is redis, sqlite or memory.
	Type          string        `yaml:"type" json:"type"`
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" json:"redis_password"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	// Path is the SQLite lease file. Empty means <data_dir>/leases.db.
	Path          string        `yaml:"path" json:"path"`
	LeaseTTL      time.Duration `yaml:"lease_ttl" json:"lease_ttl"`
	RenewInterval time.Duration `yaml:"renew_interval" json:"renew_interval"`
	KeyPrefix     string        `yaml:"key_prefix" json:"key_prefix"`
}

// IndexesConfig configures each index kind.
type IndexesConfig struct {
	Content  IndexConfig `yaml:"content" json:"content"`
	Filename IndexConfig `yaml:"filename" json:"filename"`
	Page     IndexConfig `yaml:"page" json:"page"`
}

// IndexConfig configures the scheduler and manager of one index kind.
type IndexConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Interval   time.Duration `yaml:"interval" json:"interval"`
	PageSize   int           `yaml:"page_size" json:"page_size"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	RunOnStart bool          `yaml:"run_on_start" json:"run_on_start"`
}

// LimitsConfig bounds what the content and page kinds read.
type LimitsConfig struct {
	TextSizeMB   int64 `yaml:"text_size_mb" json:"text_size_mb"`
	OfficeSizeMB int64 `yaml:"office_size_mb" json:"office_size_mb"`
	PageSizeMB   int64 `yaml:"page_size_mb" json:"page_size_mb"`
	ContentRunes int   `yaml:"content_runes" json:"content_runes"`
}

// WorkersConfig configures the lease-guarded task workers.
type WorkersConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Count is the number of workers per enabled index kind.
	Count int `yaml:"count" json:"count"`
	// Queue is the base Redis list name; each kind consumes <queue>:<kind>.
	Queue               string        `yaml:"queue" json:"queue"`
	PopTimeout          time.Duration `yaml:"pop_timeout" json:"pop_timeout"`
	RequeueOnContention bool          `yaml:"requeue_on_contention" json:"requeue_on_contention"`
	RequeueDelay        time.Duration `yaml:"requeue_delay" json:"requeue_delay"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	Format    string `yaml:"format" json:"format"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// Known enum values.
var (
	backendTypes      = []string{"bleve", "sqlite", "seasearch", "memory"}
	statusTypes       = []string{"sqlite", "pebble"}
	coordinationTypes = []string{"redis", "sqlite", "memory"}
	logLevels         = []string{"debug", "info", "warn", "error"}
	logFormats        = []string{"auto", "json", "text"}
)

// NewConfig creates a new Config with the production defaults.
func NewConfig() *Config {
	index := func(enabled bool) IndexConfig {
		return IndexConfig{
			Enabled:   enabled,
			Interval:  30 * time.Minute,
			PageSize:  1000,
			BatchSize: 1000,
		}
	}
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Objects: ObjectsConfig{DirCacheSize: 10000},
		Backend: BackendConfig{
			Type:            "bleve",
			Timeout:         30 * time.Second,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Status: StatusConfig{Type: "sqlite"},
		Coordination: CoordinationConfig{
			Type:          "sqlite",
			Timeout:       5 * time.Second,
			LeaseTTL:      1800 * time.Second,
			RenewInterval: 600 * time.Second,
			KeyPrefix:     "v2_",
		},
		Indexes: IndexesConfig{
			Content:  index(true),
			Filename: index(true),
			Page:     index(false),
		},
		Limits: LimitsConfig{
			TextSizeMB:   1,
			OfficeSizeMB: 10,
			PageSizeMB:   5,
			ContentRunes: 10000,
		},
		Workers: WorkersConfig{
			Count:        2,
			Queue:        "index_task",
			PopTimeout:   30 * time.Second,
			RequeueDelay: 500 * time.Millisecond,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9464"},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "auto",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		SkipTopDirs: []string{"images", "_Internal"},
	}
}

// defaultDataDir returns ~/.repoindex, or a temp directory without a home.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".repoindex")
	}
	return filepath.Join(home, ".repoindex")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/repoindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/repoindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "repoindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "repoindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "repoindex", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration. It applies, in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/repoindex/config.yaml)
//  3. The explicit file at path, when path is not empty
//  4. Environment variables (REPOINDEX_*)
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if UserConfigExists() {
		if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path over c. Keys absent from the file keep their
// current value, so files only need to name what they change.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies REPOINDEX_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"REPOINDEX_DATA_DIR":          &c.DataDir,
		"REPOINDEX_OBJECTS_ROOT":      &c.Objects.Root,
		"REPOINDEX_REPOS_PATH":        &c.Repos.Path,
		"REPOINDEX_BACKEND_TYPE":      &c.Backend.Type,
		"REPOINDEX_BACKEND_DIR":       &c.Backend.Dir,
		"REPOINDEX_BACKEND_URL":       &c.Backend.URL,
		"REPOINDEX_BACKEND_TOKEN":     &c.Backend.Token,
		"REPOINDEX_STATUS_TYPE":       &c.Status.Type,
		"REPOINDEX_STATUS_PATH":       &c.Status.Path,
		"REPOINDEX_COORDINATION_TYPE": &c.Coordination.Type,
		"REPOINDEX_REDIS_ADDR":        &c.Coordination.RedisAddr,
		"REPOINDEX_REDIS_PASSWORD":    &c.Coordination.RedisPassword,
		"REPOINDEX_WORKERS_QUEUE":     &c.Workers.Queue,
		"REPOINDEX_METRICS_ADDR":      &c.Metrics.Addr,
		"REPOINDEX_LOG_LEVEL":         &c.Logging.Level,
		"REPOINDEX_LOG_FORMAT":        &c.Logging.Format,
		"REPOINDEX_LOG_FILE":          &c.Logging.File,
	}
	for env, dst := range str {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REPOINDEX_REDIS_DB":      &c.Coordination.RedisDB,
		"REPOINDEX_WORKERS_COUNT": &c.Workers.Count,
		"REPOINDEX_CONTENT_RUNES": &c.Limits.ContentRunes,
	}
	for env, dst := range ints {
		if v := os.Getenv(env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"REPOINDEX_WORKERS_ENABLED":  &c.Workers.Enabled,
		"REPOINDEX_METRICS_ENABLED":  &c.Metrics.Enabled,
		"REPOINDEX_CONTENT_ENABLED":  &c.Indexes.Content.Enabled,
		"REPOINDEX_FILENAME_ENABLED": &c.Indexes.Filename.Enabled,
		"REPOINDEX_PAGE_ENABLED":     &c.Indexes.Page.Enabled,
	}
	for env, dst := range bools {
		if v := os.Getenv(env); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
			*dst = b
		}
	}

	if v := os.Getenv("REPOINDEX_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REPOINDEX_INTERVAL: %w", err)
		}
		for _, ic := range c.Indexes.All() {
			ic.Interval = d
		}
	}
	if v := os.Getenv("REPOINDEX_SKIP_TOP_DIRS"); v != "" {
		c.SkipTopDirs = splitList(v)
	}
	return nil
}

// All returns the per-kind configs keyed by kind name.
func (ic *IndexesConfig) All() map[string]*IndexConfig {
	return map[string]*IndexConfig{
		"content":  &ic.Content,
		"filename": &ic.Filename,
		"page":     &ic.Page,
	}
}

// Enabled returns the names of enabled kinds in a fixed order.
func (ic *IndexesConfig) Enabled() []string {
	var kinds []string
	for _, k := range []string{"content", "filename", "page"} {
		if ic.All()[k].Enabled {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Resolve fills empty paths from DataDir.
func (c *Config) Resolve() {
	def := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(c.DataDir, name)
		}
	}
	def(&c.Objects.Root, "objects")
	def(&c.Repos.Path, "repos.db")
	def(&c.Backend.Dir, "indices")
	def(&c.Coordination.Path, "leases.db")
	if c.Status.Type == "pebble" {
		def(&c.Status.Path, "status")
	} else {
		def(&c.Status.Path, "status.db")
	}
}

// StatusPath returns the status store location for one index kind.
// Pebble keeps one directory per kind; SQLite shares a file across kinds.
func (c *Config) StatusPath(kind string) string {
	if c.Status.Type == "pebble" {
		return filepath.Join(c.Status.Path, kind)
	}
	return c.Status.Path
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if err := oneOf("backend.type", c.Backend.Type, backendTypes); err != nil {
		return err
	}
	if c.Backend.Type == "seasearch" && c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required for seasearch")
	}
	if c.Backend.RateLimit < 0 {
		return fmt.Errorf("backend.rate_limit must be non-negative, got %g", c.Backend.RateLimit)
	}
	if err := oneOf("status.type", c.Status.Type, statusTypes); err != nil {
		return err
	}
	if err := oneOf("coordination.type", c.Coordination.Type, coordinationTypes); err != nil {
		return err
	}
	if c.Coordination.Type == "redis" && c.Coordination.RedisAddr == "" {
		return fmt.Errorf("coordination.redis_addr is required for redis")
	}
	if c.Coordination.RenewInterval <= 0 {
		return fmt.Errorf("coordination.renew_interval must be positive")
	}
	if c.Coordination.LeaseTTL <= c.Coordination.RenewInterval {
		return fmt.Errorf("coordination.lease_ttl (%s) must exceed renew_interval (%s)",
			c.Coordination.LeaseTTL, c.Coordination.RenewInterval)
	}

	for kind, ic := range c.Indexes.All() {
		if !ic.Enabled {
			continue
		}
		if ic.Interval <= 0 {
			return fmt.Errorf("indexes.%s.interval must be positive", kind)
		}
		if ic.PageSize <= 0 || ic.BatchSize <= 0 {
			return fmt.Errorf("indexes.%s page_size and batch_size must be positive", kind)
		}
	}
	if len(c.Indexes.Enabled()) == 0 {
		return fmt.Errorf("at least one index kind must be enabled")
	}

	if c.Limits.TextSizeMB < 0 || c.Limits.OfficeSizeMB < 0 || c.Limits.PageSizeMB < 0 || c.Limits.ContentRunes < 0 {
		return fmt.Errorf("limits must be non-negative")
	}

	if c.Workers.Enabled {
		if c.Workers.Count <= 0 {
			return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
		}
		if c.Coordination.Type != "redis" {
			return fmt.Errorf("workers consume a redis queue and need redis coordination, got %s", c.Coordination.Type)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	if err := oneOf("logging.level", strings.ToLower(c.Logging.Level), logLevels); err != nil {
		return err
	}
	return oneOf("logging.format", c.Logging.Format, logFormats)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func oneOf(field, v string, allowed []string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), v)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
