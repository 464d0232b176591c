package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
)

// Pebble stores status rows as JSON values under
// "status/<namespace>/<repo_id>". Every write is synced.
type Pebble struct {
	db     *pebble.DB
	prefix string
	ownsDB bool
}

var _ Store = (*Pebble)(nil)

type pebbleRow struct {
	FromCommit   string `json:"from_commit"`
	ToCommit     string `json:"to_commit,omitempty"`
	AuxWatermark string `json:"aux_watermark,omitempty"`
	UpdatedAt    int64  `json:"updated_at"`
}

// NewPebble uses an open database. Several namespaces may share one db.
func NewPebble(db *pebble.DB, namespace string) (*Pebble, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble database is required")
	}
	if namespace == "" || strings.Contains(namespace, "/") {
		return nil, fmt.Errorf("invalid status namespace %q", namespace)
	}
	return &Pebble{db: db, prefix: "status/" + namespace + "/"}, nil
}

// OpenPebble opens (or creates) a pebble database in dir.
func OpenPebble(dir, namespace string, opts *pebble.Options) (*Pebble, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble status store: %w", err)
	}
	p, err := NewPebble(db, namespace)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	p.ownsDB = true
	return p, nil
}

func (p *Pebble) key(repoID string) []byte {
	return []byte(p.prefix + repoID)
}

func (p *Pebble) load(repoID string) (pebbleRow, bool, error) {
	var row pebbleRow
	value, closer, err := p.db.Get(p.key(repoID))
	if errors.Is(err, pebble.ErrNotFound) {
		return row, false, nil
	}
	if err != nil {
		return row, false, storeError("get", repoID, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(value, &row); err != nil {
		return row, false, storeError("decode", repoID, err)
	}
	return row, true, nil
}

func (p *Pebble) save(op, repoID string, row pebbleRow) error {
	row.UpdatedAt = time.Now().UnixMilli()
	value, err := json.Marshal(row)
	if err != nil {
		return storeError(op, repoID, err)
	}
	if err := p.db.Set(p.key(repoID), value, pebble.Sync); err != nil {
		return storeError(op, repoID, err)
	}
	return nil
}

func (p *Pebble) Get(_ context.Context, repoID string) (Status, error) {
	row, ok, err := p.load(repoID)
	st := Status{RepoID: repoID}
	if err != nil || !ok {
		return st, err
	}
	st.FromCommit = row.FromCommit
	st.ToCommit = row.ToCommit
	st.AuxWatermark = row.AuxWatermark
	st.UpdatedAt = time.UnixMilli(row.UpdatedAt)
	return st, nil
}

// BeginUpdate and FinishUpdate read-modify-write a single key. Callers
// serialize updates per repository, so no transaction is needed.
func (p *Pebble) BeginUpdate(_ context.Context, repoID, fromCommit, toCommit string) error {
	row, _, err := p.load(repoID)
	if err != nil {
		return err
	}
	row.FromCommit = fromCommit
	row.ToCommit = toCommit
	return p.save("begin_update", repoID, row)
}

func (p *Pebble) FinishUpdate(_ context.Context, repoID, newCommit, watermark string) error {
	row, _, err := p.load(repoID)
	if err != nil {
		return err
	}
	row.FromCommit = newCommit
	row.ToCommit = ""
	if watermark != "" {
		row.AuxWatermark = watermark
	}
	return p.save("finish_update", repoID, row)
}

func (p *Pebble) Delete(_ context.Context, repoID string) error {
	if err := p.db.Delete(p.key(repoID), pebble.Sync); err != nil {
		return storeError("delete", repoID, err)
	}
	return nil
}

func (p *Pebble) RepoIDs(ctx context.Context) ([]string, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(p.prefix),
		UpperBound: prefixEnd([]byte(p.prefix)),
	})
	if err != nil {
		return nil, storeError("list", "", err)
	}
	defer iter.Close()

	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids = append(ids, strings.TrimPrefix(string(iter.Key()), p.prefix))
	}
	if err := iter.Error(); err != nil {
		return nil, storeError("list", "", err)
	}
	return ids, nil
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Close closes the database if it was opened by OpenPebble.
func (p *Pebble) Close() error {
	if p.ownsDB {
		return p.db.Close()
	}
	return nil
}
