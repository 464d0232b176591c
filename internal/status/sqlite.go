package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/sqlitedb"
)

// SQLite stores status rows in a repo_index_status table, one namespace
// per index kind.
type SQLite struct {
	db        *sql.DB
	namespace string
	ownsDB    bool
}

var _ Store = (*SQLite)(nil)

// InitSchema creates the status table if it doesn't exist.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS repo_index_status (
		namespace TEXT NOT NULL,
		repo_id TEXT NOT NULL,
		from_commit TEXT NOT NULL DEFAULT '',
		to_commit TEXT NOT NULL DEFAULT '',
		aux_watermark TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, repo_id)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create status schema: %w", err)
	}
	return nil
}

// NewSQLite uses an existing database. The caller keeps ownership of db.
func NewSQLite(db *sql.DB, namespace string) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if namespace == "" {
		return nil, fmt.Errorf("status namespace is required")
	}
	if err := InitSchema(db); err != nil {
		return nil, err
	}
	return &SQLite{db: db, namespace: namespace}, nil
}

// OpenSQLite opens the database at path with full synchronous writes.
func OpenSQLite(path, namespace string) (*SQLite, error) {
	db, err := sqlitedb.Open(path, sqlitedb.Options{Synchronous: "FULL"})
	if err != nil {
		return nil, err
	}
	s, err := NewSQLite(db, namespace)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

func (s *SQLite) Get(ctx context.Context, repoID string) (Status, error) {
	st := Status{RepoID: repoID}
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT from_commit, to_commit, aux_watermark, updated_at
		FROM repo_index_status WHERE namespace = ? AND repo_id = ?
	`, s.namespace, repoID).Scan(&st.FromCommit, &st.ToCommit, &st.AuxWatermark, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, storeError("get", repoID, err)
	}
	st.UpdatedAt = time.UnixMilli(updated)
	return st, nil
}

func (s *SQLite) BeginUpdate(ctx context.Context, repoID, fromCommit, toCommit string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_index_status (namespace, repo_id, from_commit, to_commit, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, repo_id) DO UPDATE SET
			from_commit = excluded.from_commit,
			to_commit = excluded.to_commit,
			updated_at = excluded.updated_at
	`, s.namespace, repoID, fromCommit, toCommit, time.Now().UnixMilli())
	if err != nil {
		return storeError("begin_update", repoID, err)
	}
	return nil
}

func (s *SQLite) FinishUpdate(ctx context.Context, repoID, newCommit, watermark string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_index_status (namespace, repo_id, from_commit, to_commit, aux_watermark, updated_at)
		VALUES (?, ?, ?, '', ?, ?)
		ON CONFLICT(namespace, repo_id) DO UPDATE SET
			from_commit = excluded.from_commit,
			to_commit = '',
			aux_watermark = CASE WHEN excluded.aux_watermark = '' THEN aux_watermark ELSE excluded.aux_watermark END,
			updated_at = excluded.updated_at
	`, s.namespace, repoID, newCommit, watermark, time.Now().UnixMilli())
	if err != nil {
		return storeError("finish_update", repoID, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, repoID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM repo_index_status WHERE namespace = ? AND repo_id = ?`, s.namespace, repoID)
	if err != nil {
		return storeError("delete", repoID, err)
	}
	return nil
}

func (s *SQLite) RepoIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT repo_id FROM repo_index_status WHERE namespace = ? ORDER BY repo_id`, s.namespace)
	if err != nil {
		return nil, storeError("list", "", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("list", "", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database if it was opened by OpenSQLite.
func (s *SQLite) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func storeError(op, repoID string, err error) error {
	ie := rerrors.New(rerrors.ErrCodeStatusStore, "status "+op+" failed", err).WithDetail("op", op)
	if repoID != "" {
		ie = ie.WithDetail("repo_id", repoID)
	}
	return ie
}
