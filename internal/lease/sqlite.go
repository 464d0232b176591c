package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/sqlitedb"
)

// SQLiteStore keeps leases in a SQLite table shared by processes on one
// host. Expired rows are treated as absent and replaced on acquire.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens or creates the lease database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(path, sqlitedb.Options{})
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS leases (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create lease schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// expiry of 0 means the key never expires.
func (s *SQLiteStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixMilli()
}

func (s *SQLiteStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, rerrors.CoordinationError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM leases WHERE key = ? AND expires_at != 0 AND expires_at <= ?`, key, now); err != nil {
		return false, rerrors.CoordinationError("expire stale "+key, err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO leases (key, value, expires_at) VALUES (?, ?, ?)`, key, value, s.expiry(ttl))
	if err != nil {
		return false, rerrors.CoordinationError("insert "+key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, rerrors.CoordinationError("insert "+key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, rerrors.CoordinationError("commit "+key, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM leases WHERE key = ?`, key).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoKey
	}
	if err != nil {
		return 0, rerrors.CoordinationError("ttl "+key, err)
	}
	if expiresAt == 0 {
		return NoExpiry, nil
	}
	remaining := time.UnixMilli(expiresAt).Sub(s.now())
	if remaining <= 0 {
		return 0, ErrNoKey
	}
	return remaining, nil
}

func (s *SQLiteStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leases SET expires_at = ? WHERE key = ? AND (expires_at = 0 OR expires_at > ?)`,
		s.expiry(ttl), key, s.now().UnixMilli())
	if err != nil {
		return false, rerrors.CoordinationError("expire "+key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, rerrors.CoordinationError("expire "+key, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM leases WHERE key = ?`, key); err != nil {
		return rerrors.CoordinationError("delete "+key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
