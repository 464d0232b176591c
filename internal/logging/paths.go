package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.repoindex/logs/).
// Falls back to the temp directory if the home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".repoindex", "logs")
	}
	return filepath.Join(home, ".repoindex", "logs")
}

// DefaultLogPath returns the default daemon log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "repoindex.log")
}
