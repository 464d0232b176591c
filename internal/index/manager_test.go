package index

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/backend"
	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexer"
	"github.com/Aman-CERP/repoindex/internal/objstore"
	"github.com/Aman-CERP/repoindex/internal/status"
)

const repo = "r1"

type fixture struct {
	t       *testing.T
	objects *objstore.Memory
	builder *objstore.Builder
	backend *backend.Memory
	status  status.Store
	manager *Manager
}

func newFixture(t *testing.T, kind string, opts Options) *fixture {
	t.Helper()
	objects := objstore.NewMemory()
	f := &fixture{t: t, objects: objects, builder: objstore.NewBuilder(objects)}
	f.reset(kind, opts)
	return f
}

// reset gives the fixture a fresh backend, status store and manager over
// the same object store.
func (f *fixture) reset(kind string, opts Options) {
	strategy, err := indexer.New(kind)
	require.NoError(f.t, err)
	st, err := status.OpenSQLite("", strategy.StatusNamespace())
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = st.Close() })

	f.backend = backend.NewMemory()
	f.status = st
	f.manager, err = NewManager(Dependencies{
		Strategy: strategy,
		Objects:  f.objects,
		Backend:  f.backend,
		Status:   st,
	}, opts)
	require.NoError(f.t, err)
}

func (f *fixture) commit(parent string, files map[string]string) string {
	f.t.Helper()
	id, err := f.builder.Commit(context.Background(), repo, parent, files)
	require.NoError(f.t, err)
	return id
}

// indexed returns path -> object id of every document of repo.
func (f *fixture) indexed() map[string]string {
	out := map[string]string{}
	for _, d := range f.backend.Documents(indexer.IndexName(f.manager.Strategy(), repo)) {
		out[d.Path()], _ = d.Fields[backend.ObjectIDField].(string)
	}
	return out
}

func (f *fixture) statusOf(repoID string) status.Status {
	f.t.Helper()
	st, err := f.status.Get(context.Background(), repoID)
	require.NoError(f.t, err)
	return st
}

var (
	tree1 = map[string]string{
		"/a.txt":          "alpha",
		"/docs/x.md":      "x",
		"/docs/deep/y.md": "y",
		"/keep/z.txt":     "z",
	}
	tree2 = map[string]string{
		"/a.txt":        "alpha v2",
		"/keep/z.txt":   "z",
		"/new/n.txt":    "n",
		"/new/sub/m.md": "m",
		"/docs":         "docs is a file now",
	}
	tree3 = map[string]string{
		"/a.txt":      "alpha v3",
		"/keep/z.txt": "z",
	}
)

func TestNewManager_RequiresDependencies(t *testing.T) {
	_, err := NewManager(Dependencies{}, Options{})
	assert.Error(t, err)
}

func TestUpdate_FirstIndexThenNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{})
	c1 := f.commit("", tree1)

	// When indexing for the first time
	res, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)

	// Then every file and non-root directory is indexed
	assert.False(t, res.NoOp)
	assert.Equal(t, []string{"/a.txt", "/docs/", "/docs/deep/", "/docs/deep/y.md", "/docs/x.md", "/keep/", "/keep/z.txt"},
		sortedKeys(f.indexed()))
	st := f.statusOf(repo)
	assert.Equal(t, c1, st.FromCommit)
	assert.False(t, st.NeedRecovery())

	// When the head has not moved
	res, err = f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)

	// Then nothing is written
	assert.True(t, res.NoOp)
	assert.Zero(t, res.Upserted)
}

func TestUpdate_IncrementalMatchesFullIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{BatchSize: 2})
	c1 := f.commit("", tree1)
	c2 := f.commit(c1, tree2)

	_, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)
	res, err := f.manager.Update(ctx, repo, c2)
	require.NoError(t, err)
	incremental := f.indexed()

	// The deleted /docs directory is one prefix delete
	assert.Equal(t, 1, res.PrefixDeleted)

	// Given a fresh index built directly from tree2
	f.reset(indexer.KindFilename, Options{})
	_, err = f.manager.Update(ctx, repo, c2)
	require.NoError(t, err)

	assert.Equal(t, f.indexed(), incremental)
	assert.NotContains(t, incremental, "/docs/x.md")
	assert.Contains(t, incremental, "/docs")
}

func TestUpdate_BatchesBackendWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{BatchSize: 3})
	c1 := f.commit("", tree1)

	var upserts atomic.Int32
	f.backend.FailWith = func(op, _ string) error {
		if op == "upsert" {
			upserts.Add(1)
		}
		return nil
	}

	res, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Upserted)
	assert.Equal(t, int32(3), upserts.Load())
}

func TestUpdate_CrashRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{BatchSize: 2})
	c1 := f.commit("", tree1)
	c2 := f.commit(c1, tree2)
	c3 := f.commit(c2, tree3)

	_, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)

	// Given an update to c2 that dies after its deletes
	f.backend.FailWith = func(op, _ string) error {
		if op == "upsert" {
			return errors.New("process killed")
		}
		return nil
	}
	_, err = f.manager.Update(ctx, repo, c2)
	require.Error(t, err)
	var ue *UpdateError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, PhaseInsert, ue.Phase)

	// Then the status records the interrupted range
	st := f.statusOf(repo)
	assert.True(t, st.NeedRecovery())
	assert.Equal(t, c1, st.FromCommit)
	assert.Equal(t, c2, st.ToCommit)

	// When the next update runs to c3
	f.backend.FailWith = nil
	res, err := f.manager.Update(ctx, repo, c3)
	require.NoError(t, err)

	// Then c1..c2 is redone first and c2..c3 applied after it
	assert.True(t, res.Recovered)
	st = f.statusOf(repo)
	assert.Equal(t, c3, st.FromCommit)
	assert.False(t, st.NeedRecovery())

	recovered := f.indexed()
	f.reset(indexer.KindFilename, Options{})
	_, err = f.manager.Update(ctx, repo, c3)
	require.NoError(t, err)
	assert.Equal(t, f.indexed(), recovered)
}

func TestUpdate_RecoveryToSameHead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{})
	c1 := f.commit("", tree1)
	c2 := f.commit(c1, tree2)

	_, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)
	require.NoError(t, f.status.BeginUpdate(ctx, repo, c1, c2))

	res, err := f.manager.Update(ctx, repo, c2)
	require.NoError(t, err)
	assert.True(t, res.Recovered)

	st := f.statusOf(repo)
	assert.Equal(t, c2, st.FromCommit)
	assert.False(t, st.NeedRecovery())

	// a second call is a no-op
	res, err = f.manager.Update(ctx, repo, c2)
	require.NoError(t, err)
	assert.True(t, res.NoOp)
}

func TestUpdate_MissingOldCommitReindexes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{})
	c1 := f.commit("", tree1)
	c2 := f.commit(c1, tree3)

	_, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)

	// Given the old commit was pruned from the object store
	f.objects.Remove(repo, c1)

	res, err := f.manager.Update(ctx, repo, c2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PrefixDeleted)

	// Then rows from the old tree are gone
	assert.Equal(t, []string{"/a.txt", "/keep/", "/keep/z.txt"}, sortedKeys(f.indexed()))
}

func TestUpdate_MissingNewCommitFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{})
	c1 := f.commit("", tree1)
	_, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)

	_, err = f.manager.Update(ctx, repo, "ffffffffffffffffffffffffffffffffffffffff")
	require.Error(t, err)
	var ue *UpdateError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, PhaseDiff, ue.Phase)
	assert.True(t, errors.Is(err, rerrors.ErrObjectNotFound))

	// Status is untouched so the next pass starts from c1 again
	st := f.statusOf(repo)
	assert.Equal(t, c1, st.FromCommit)
	assert.False(t, st.NeedRecovery())
}

func TestUpdate_LostIndexIsRebuilt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{})
	c1 := f.commit("", tree1)
	_, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)
	want := f.indexed()

	// Given the backend lost the index but status still says c1
	require.NoError(t, f.backend.DropIndex(ctx, indexer.IndexName(f.manager.Strategy(), repo)))

	res, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)
	assert.True(t, res.Reindexed)
	assert.Equal(t, want, f.indexed())
}

func TestUpdate_ContentKind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindContent, Options{})
	c1 := f.commit("", map[string]string{"/notes.md": "# hello", "/images/cat.txt": "meow"})

	_, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)

	docs := f.backend.Documents("file_" + repo)
	require.Len(t, docs, 1)
	doc := docs[indexer.DocID("/notes.md")]
	assert.Equal(t, "# hello", doc.Fields[indexer.FieldContent])
}

func TestUpdate_BackendUnavailableOpensCircuit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{})
	f.manager.breaker = rerrors.NewCircuitBreaker("backend", rerrors.WithMaxFailures(2), rerrors.WithResetTimeout(time.Hour))
	c1 := f.commit("", tree1)

	var calls atomic.Int32
	f.backend.FailWith = func(string, string) error {
		calls.Add(1)
		return rerrors.BackendError("connection refused", false, nil)
	}

	for i := 0; i < 2; i++ {
		_, err := f.manager.Update(ctx, repo, c1)
		require.Error(t, err)
		assert.True(t, rerrors.IsRetryable(err))
	}

	// Then further updates fail fast without touching the backend
	_, err := f.manager.Update(ctx, repo, c1)
	assert.True(t, errors.Is(err, rerrors.ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDeleteRepoIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{})
	c1 := f.commit("", tree1)
	_, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)

	require.NoError(t, f.manager.DeleteRepoIndex(ctx, repo))

	names, err := f.backend.ListIndices(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, status.Status{RepoID: repo}, f.statusOf(repo))
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{})
	c1 := f.commit("", tree1)
	_, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)

	res, err := f.manager.Rebuild(ctx, repo, c1)
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Len(t, f.indexed(), 7)
}

func TestCollectGarbage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{})
	c1 := f.commit("", tree1)
	_, err := f.manager.Update(ctx, repo, c1)
	require.NoError(t, err)

	// Given a status row for a removed repository and an orphan index
	require.NoError(t, f.status.FinishUpdate(ctx, "gone", c1, ""))
	_, err = f.backend.CreateIndex(ctx, "repofilename_orphan", f.manager.Strategy().Schema())
	require.NoError(t, err)

	res, err := f.manager.CollectGarbage(ctx, map[string]struct{}{repo: {}})
	require.NoError(t, err)

	assert.Equal(t, GCResult{Before: 3, Deleted: 2, After: 1}, res)
	names, err := f.backend.ListIndices(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"repofilename_r1"}, names)
	ids, err := f.status.RepoIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{repo}, ids)
}

func TestCollectGarbage_FailureDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, indexer.KindFilename, Options{})
	schema := f.manager.Strategy().Schema()
	for _, id := range []string{"a", "b"} {
		_, err := f.backend.CreateIndex(ctx, "repofilename_"+id, schema)
		require.NoError(t, err)
	}
	f.backend.FailWith = func(op, index string) error {
		if op == "drop" && index == "repofilename_a" {
			return rerrors.BackendError("busy", false, nil)
		}
		return nil
	}

	res, err := f.manager.CollectGarbage(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.Failed)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
