package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/sqlitedb"
)

// SQLite stores every index in one database: documents in a plain table
// keyed by (index, id) and their text fields in an FTS5 table.
type SQLite struct {
	db *sql.DB

	mu      sync.RWMutex
	schemas map[string]Schema
}

var _ Backend = (*SQLite)(nil)

// OpenSQLite opens the backend database at path ("" for in-memory).
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlitedb.Open(path, sqlitedb.Options{})
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS search_indices (
		name TEXT PRIMARY KEY,
		schema TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS search_documents (
		index_name TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		path TEXT NOT NULL,
		fields TEXT NOT NULL,
		PRIMARY KEY (index_name, doc_id)
	);
	CREATE INDEX IF NOT EXISTS idx_search_documents_path ON search_documents(index_name, path);
	CREATE VIRTUAL TABLE IF NOT EXISTS search_fts USING fts5(
		index_name UNINDEXED,
		doc_id UNINDEXED,
		body,
		tokenize='unicode61'
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create search schema: %w", err)
	}
	return &SQLite{db: db, schemas: make(map[string]Schema)}, nil
}

func (s *SQLite) CreateIndex(ctx context.Context, name string, schema Schema) (bool, error) {
	if err := validIndexName(name); err != nil {
		return false, rerrors.ValidationError(err.Error(), nil)
	}
	if err := schema.Validate(); err != nil {
		return false, rerrors.ValidationError(err.Error(), nil)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO search_indices (name, schema, created_at) VALUES (?, ?, ?)`,
		name, string(raw), time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.schemas[name] = schema
	s.mu.Unlock()
	return n == 1, nil
}

// schema returns the cached or stored schema of an index.
func (s *SQLite) schema(ctx context.Context, name string) (Schema, error) {
	s.mu.RLock()
	sc, ok := s.schemas[name]
	s.mu.RUnlock()
	if ok {
		return sc, nil
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT schema FROM search_indices WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, rerrors.BackendError("index "+name+" does not exist", true, nil)
	}
	if err != nil {
		return sc, err
	}
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return sc, rerrors.New(rerrors.ErrCodeCorruptIndex, "schema of "+name+" is corrupt", err)
	}

	s.mu.Lock()
	s.schemas[name] = sc
	s.mu.Unlock()
	return sc, nil
}

func (s *SQLite) DropIndex(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM search_fts WHERE index_name = ?`,
		`DELETE FROM search_documents WHERE index_name = ?`,
		`DELETE FROM search_indices WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, name); err != nil {
			return fmt.Errorf("drop index %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.mu.Lock()
	delete(s.schemas, name)
	s.mu.Unlock()
	return nil
}

// body concatenates the text and keyword fields that FTS should match.
func body(schema Schema, d Document) string {
	var parts []string
	for _, f := range schema.Fields {
		if f.Type != FieldText && f.Type != FieldKeyword {
			continue
		}
		if v, ok := d.Fields[f.Name].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}

func (s *SQLite) BulkUpsert(ctx context.Context, index string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	sc, err := s.schema(ctx, index)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	delFTS, err := tx.PrepareContext(ctx, `DELETE FROM search_fts WHERE index_name = ? AND doc_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer delFTS.Close()
	putDoc, err := tx.PrepareContext(ctx, `
		INSERT INTO search_documents (index_name, doc_id, path, fields) VALUES (?, ?, ?, ?)
		ON CONFLICT(index_name, doc_id) DO UPDATE SET path = excluded.path, fields = excluded.fields
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer putDoc.Close()
	putFTS, err := tx.PrepareContext(ctx, `INSERT INTO search_fts (index_name, doc_id, body) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer putFTS.Close()

	for _, d := range docs {
		raw, err := json.Marshal(d.Fields)
		if err != nil {
			return rerrors.BackendError("document "+d.ID+" rejected", true, err)
		}
		if _, err := delFTS.ExecContext(ctx, index, d.ID); err != nil {
			return fmt.Errorf("upsert %s: %w", d.ID, err)
		}
		if _, err := putDoc.ExecContext(ctx, index, d.ID, d.Path(), string(raw)); err != nil {
			return fmt.Errorf("upsert %s: %w", d.ID, err)
		}
		if _, err := putFTS.ExecContext(ctx, index, d.ID, body(sc, d)); err != nil {
			return fmt.Errorf("upsert %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) BulkDelete(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.schema(ctx, index); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM search_fts WHERE index_name = ? AND doc_id = ?`, index, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM search_documents WHERE index_name = ? AND doc_id = ?`, index, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteByPathPrefix(ctx context.Context, index, prefix string) error {
	if _, err := s.schema(ctx, index); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// substr rather than LIKE: paths may contain % and _.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM search_fts WHERE index_name = ? AND doc_id IN (
			SELECT doc_id FROM search_documents
			WHERE index_name = ? AND substr(path, 1, length(?)) = ?
		)`, index, index, prefix, prefix); err != nil {
		return fmt.Errorf("prefix delete %s: %w", prefix, err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM search_documents
		WHERE index_name = ? AND substr(path, 1, length(?)) = ?`, index, prefix, prefix); err != nil {
		return fmt.Errorf("prefix delete %s: %w", prefix, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) ListIndices(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM search_indices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list indices: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, rows.Err()
}

// Match returns the ids of documents in index whose text matches an FTS5
// query, for operator spot checks.
func (s *SQLite) Match(ctx context.Context, index, query string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id FROM search_fts
		WHERE search_fts MATCH ? AND index_name = ?
		ORDER BY rank LIMIT ?`, query, index, limit)
	if err != nil {
		return nil, fmt.Errorf("match %q: %w", query, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
