package repolist

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

type seeder interface {
	Lister
	seed(t *testing.T, r Repo, virtual bool)
}

type memSeeder struct{ *Memory }

func (m memSeeder) seed(_ *testing.T, r Repo, virtual bool) {
	m.Put(r)
	if virtual {
		m.MarkVirtual(r.ID)
	}
}

type sqliteSeeder struct{ *SQLite }

func (s sqliteSeeder) seed(t *testing.T, r Repo, virtual bool) {
	require.NoError(t, s.Upsert(context.Background(), r))
	if virtual {
		require.NoError(t, s.MarkVirtual(context.Background(), r.ID, "origin"))
	}
}

func listers(t *testing.T) map[string]seeder {
	opened, err := OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = opened.Close() })

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	injected, err := NewSQLite(db)
	require.NoError(t, err)

	return map[string]seeder{
		"memory":          memSeeder{NewMemory()},
		"sqlite_opened":   sqliteSeeder{opened},
		"sqlite_injected": sqliteSeeder{injected},
	}
}

func TestLister_Contract(t *testing.T) {
	ctx := context.Background()
	for name, l := range listers(t) {
		t.Run(name, func(t *testing.T) {
			// Given five repositories, one of them virtual
			for i := 0; i < 5; i++ {
				l.seed(t, Repo{ID: fmt.Sprintf("r%d", i), HeadCommit: fmt.Sprintf("c%d", i), Type: "repo"}, i == 3)
			}

			// When paging by two
			var got []string
			for offset := 0; ; offset += 2 {
				page, err := l.ListRepos(ctx, offset, 2)
				require.NoError(t, err)
				for _, r := range page {
					got = append(got, r.ID)
				}
				if len(page) < 2 {
					break
				}
			}

			// Then every repository is seen once, in id order
			assert.Equal(t, []string{"r0", "r1", "r2", "r3", "r4"}, got)

			virtual, err := l.VirtualRepos(ctx, []string{"r2", "r3", "missing"})
			require.NoError(t, err)
			assert.Equal(t, map[string]struct{}{"r3": {}}, virtual)

			head, err := l.HeadCommit(ctx, "r4")
			require.NoError(t, err)
			assert.Equal(t, "c4", head)

			_, err = l.HeadCommit(ctx, "missing")
			assert.ErrorIs(t, err, rerrors.ErrObjectNotFound)
		})
	}
}

func TestMemory_FailPage(t *testing.T) {
	m := NewMemory()
	m.Put(Repo{ID: "a"})
	m.FailPage(0, rerrors.ErrBackendUnavailable)

	_, err := m.ListRepos(context.Background(), 0, 10)
	assert.Error(t, err)
	_, err = m.ListRepos(context.Background(), 10, 10)
	assert.NoError(t, err)
}

func TestMemory_FailPageTimes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Put(Repo{ID: "a"})

	// Given the first page fails twice
	m.FailPageTimes(0, 2, rerrors.ErrBackendUnavailable)

	// Then the third read succeeds
	for i := 0; i < 2; i++ {
		_, err := m.ListRepos(ctx, 0, 10)
		assert.ErrorIs(t, err, rerrors.ErrBackendUnavailable)
	}
	repos, err := m.ListRepos(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}
