package repolist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/sqlitedb"
)

// SQLite reads repositories from a repos table and virtual repository
// membership from a virtual_repos table.
type SQLite struct {
	db     *sql.DB
	ownsDB bool
}

var _ Lister = (*SQLite)(nil)

// InitSchema creates the listing tables if they don't exist.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS repos (
		repo_id TEXT PRIMARY KEY,
		head_commit TEXT NOT NULL DEFAULT '',
		repo_type TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS virtual_repos (
		repo_id TEXT PRIMARY KEY,
		origin_repo TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create repo schema: %w", err)
	}
	return nil
}

// NewSQLite uses an existing database. The caller keeps ownership of db.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := InitSchema(db); err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// OpenSQLite opens the listing database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlitedb.Open(path, sqlitedb.Options{})
	if err != nil {
		return nil, err
	}
	s, err := NewSQLite(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

func (s *SQLite) ListRepos(ctx context.Context, offset, limit int) ([]Repo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo_id, head_commit, repo_type, name FROM repos
		ORDER BY repo_id LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeNetworkUnavailable, "list repositories", err)
	}
	defer rows.Close()

	var repos []Repo
	for rows.Next() {
		var r Repo
		if err := rows.Scan(&r.ID, &r.HeadCommit, &r.Type, &r.Name); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *SQLite) VirtualRepos(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT repo_id FROM virtual_repos WHERE repo_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeNetworkUnavailable, "list virtual repositories", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan virtual repository: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (s *SQLite) HeadCommit(ctx context.Context, repoID string) (string, error) {
	var head string
	err := s.db.QueryRowContext(ctx, `SELECT head_commit FROM repos WHERE repo_id = ?`, repoID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return "", rerrors.NotFound("repository "+repoID+" not found", nil).WithDetail("repo_id", repoID)
	}
	if err != nil {
		return "", fmt.Errorf("load head of %s: %w", repoID, err)
	}
	return head, nil
}

// Upsert records a repository and its head, used by the import command
// and tests.
func (s *SQLite) Upsert(ctx context.Context, r Repo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repos (repo_id, head_commit, repo_type, name) VALUES (?, ?, ?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET
			head_commit = excluded.head_commit,
			repo_type = excluded.repo_type,
			name = excluded.name
	`, r.ID, r.HeadCommit, r.Type, r.Name)
	if err != nil {
		return fmt.Errorf("upsert repository %s: %w", r.ID, err)
	}
	return nil
}

// Delete removes a repository.
func (s *SQLite) Delete(ctx context.Context, repoID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM repos WHERE repo_id = ?`, repoID); err != nil {
		return fmt.Errorf("delete repository %s: %w", repoID, err)
	}
	return nil
}

// MarkVirtual records repoID as a virtual mirror of origin.
func (s *SQLite) MarkVirtual(ctx context.Context, repoID, origin string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO virtual_repos (repo_id, origin_repo) VALUES (?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET origin_repo = excluded.origin_repo
	`, repoID, origin)
	if err != nil {
		return fmt.Errorf("mark virtual repository %s: %w", repoID, err)
	}
	return nil
}

// Close closes the database if this store opened it.
func (s *SQLite) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
