// Package daemon runs the long-lived index service: one scheduler per
// enabled index kind, the lease-guarded worker pools, lease renewal, the
// Prometheus endpoint and a Unix-socket control server for the CLI.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the process-level settings of the daemon.
type Config struct {
	// SocketPath is the Unix domain socket of the control server.
	// Default: <data_dir>/repoindex.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: <data_dir>/repoindex.pid
	PIDPath string

	// LockDir holds the per-kind scheduler host locks.
	// Default: <data_dir>/locks
	LockDir string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod bounds the drain after a stop signal.
	// Default: 30s
	ShutdownGracePeriod time.Duration
}

// DefaultConfig returns a Config rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		SocketPath:          filepath.Join(dataDir, "repoindex.sock"),
		PIDPath:             filepath.Join(dataDir, "repoindex.pid"),
		LockDir:             filepath.Join(dataDir, "locks"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 30 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the directories of the socket, PID file and locks.
func (c Config) EnsureDir() error {
	for _, dir := range []string{filepath.Dir(c.SocketPath), filepath.Dir(c.PIDPath), c.LockDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
