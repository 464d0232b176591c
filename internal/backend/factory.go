package backend

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

// Backend types accepted by New.
const (
	TypeBleve     = "bleve"
	TypeSQLite    = "sqlite"
	TypeSeaSearch = "seasearch"
	TypeMemory    = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Type    string
	Dir     string
	URL     string
	Token   string
	Timeout time.Duration
}

// New creates the backend described by cfg.
func New(cfg Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Type {
	case TypeBleve, "":
		return NewBleve(cfg.Dir, logger)
	case TypeSQLite:
		path := ""
		if cfg.Dir != "" {
			path = filepath.Join(cfg.Dir, "search.db")
		}
		return OpenSQLite(path)
	case TypeSeaSearch:
		return NewSeaSearch(SeaSearchConfig{URL: cfg.URL, Token: cfg.Token, Timeout: cfg.Timeout})
	case TypeMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}
