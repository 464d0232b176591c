package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/backend"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/indexer"
	"github.com/Aman-CERP/repoindex/internal/lease"
	"github.com/Aman-CERP/repoindex/internal/objstore"
	"github.com/Aman-CERP/repoindex/internal/repolist"
	"github.com/Aman-CERP/repoindex/internal/status"
)

type env struct {
	t       *testing.T
	objects *objstore.Memory
	backend *backend.Memory
	status  status.Store
	lister  *repolist.Memory
	store   *lease.MemoryStore
	queue   *MemoryQueue
	manager *index.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	strategy, err := indexer.New(indexer.KindFilename)
	require.NoError(t, err)
	st, err := status.OpenSQLite("", strategy.StatusNamespace())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	e := &env{
		t:       t,
		objects: objstore.NewMemory(),
		backend: backend.NewMemory(),
		status:  st,
		lister:  repolist.NewMemory(),
		store:   lease.NewMemoryStore(nil),
		queue:   NewMemoryQueue(16, 20*time.Millisecond),
	}
	e.manager, err = index.NewManager(index.Dependencies{
		Strategy: strategy,
		Objects:  e.objects,
		Backend:  e.backend,
		Status:   st,
	}, index.Options{})
	require.NoError(t, err)
	return e
}

func (e *env) commit(repoID, parent string, files map[string]string) string {
	e.t.Helper()
	id, err := objstore.NewBuilder(e.objects).Commit(context.Background(), repoID, parent, files)
	require.NoError(e.t, err)
	return id
}

func (e *env) leases(owner string) *lease.Manager {
	e.t.Helper()
	m, err := lease.NewManager(e.store, lease.Options{Owner: owner})
	require.NoError(e.t, err)
	return m
}

func (e *env) pool(cfg Config, leases *lease.Manager) *Pool {
	e.t.Helper()
	p, err := NewPool(Dependencies{
		Manager: e.manager,
		Queue:   e.queue,
		Leases:  leases,
		Lister:  e.lister,
	}, cfg)
	require.NoError(e.t, err)
	return p
}

func (e *env) docCount(repoID string) int {
	return len(e.backend.Documents(indexer.IndexName(e.manager.Strategy(), repoID)))
}

func TestNewPool_RequiresDependencies(t *testing.T) {
	e := newEnv(t)
	_, err := NewPool(Dependencies{Queue: e.queue, Leases: e.leases("a")}, Config{})
	assert.Error(t, err)
	_, err = NewPool(Dependencies{Manager: e.manager, Leases: e.leases("a")}, Config{})
	assert.Error(t, err)
	_, err = NewPool(Dependencies{Manager: e.manager, Queue: e.queue}, Config{})
	assert.Error(t, err)
}

func TestHandle_Update(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	c1 := e.commit("r1", "", map[string]string{"/a.md": "a", "/d/b.md": "b"})
	leases := e.leases("a")
	p := e.pool(Config{}, leases)

	// When an update with an explicit commit runs
	res := p.Handle(ctx, Task{Op: OpUpdate, RepoID: "r1", CommitID: c1}.Encode())

	// Then the repository is indexed and the lease released
	assert.Equal(t, ResultDone, res)
	assert.Equal(t, 3, e.docCount("r1"))
	assert.Empty(t, leases.Held())
	_, err := e.store.TTL(ctx, lease.Key(lease.DefaultKeyPrefix, indexer.KindFilename, "r1"))
	assert.ErrorIs(t, err, lease.ErrNoKey)

	// And repeating it is a no-op
	assert.Equal(t, ResultNoOp, p.Handle(ctx, Task{Op: OpUpdate, RepoID: "r1", CommitID: c1}.Encode()))
	assert.Equal(t, int64(2), p.Handled())
}

func TestHandle_UpdateResolvesHeadCommit(t *testing.T) {
	e := newEnv(t)
	c1 := e.commit("r1", "", map[string]string{"/a.md": "a"})
	e.lister.Put(repolist.Repo{ID: "r1", HeadCommit: c1})
	p := e.pool(Config{}, e.leases("a"))

	res := p.Handle(context.Background(), "update-index\tr1\t")
	assert.Equal(t, ResultDone, res)
	assert.Equal(t, 1, e.docCount("r1"))

	// an unknown repository has no head to resolve
	assert.Equal(t, ResultFailed, p.Handle(context.Background(), "update-index\tnope\t"))
}

func TestHandle_Rebuild(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	c1 := e.commit("r1", "", map[string]string{"/a.md": "a"})
	p := e.pool(Config{}, e.leases("a"))
	require.Equal(t, ResultDone, p.Handle(ctx, Task{Op: OpUpdate, RepoID: "r1", CommitID: c1}.Encode()))

	// Given a stray document the diff would never touch
	index := indexer.IndexName(e.manager.Strategy(), "r1")
	require.NoError(t, e.backend.BulkUpsert(ctx, index, []backend.Document{{
		ID:     "stray",
		Fields: map[string]any{backend.PathField: "/stray", backend.ObjectIDField: "x"},
	}}))

	// When rebuilt
	assert.Equal(t, ResultDone, p.Handle(ctx, Task{Op: OpRebuild, RepoID: "r1", CommitID: c1}.Encode()))

	// Then only the tree's documents remain
	_, ok := e.backend.Documents(index)["stray"]
	assert.False(t, ok)
	assert.Equal(t, 1, e.docCount("r1"))
}

func TestHandle_MalformedTaskDropped(t *testing.T) {
	e := newEnv(t)
	p := e.pool(Config{}, e.leases("a"))
	assert.Equal(t, ResultBad, p.Handle(context.Background(), "garbage"))
	assert.Zero(t, e.queue.Len())
}

func TestHandle_Contention(t *testing.T) {
	ctx := context.Background()
	c1 := "0123456789012345678901234567890123456789"
	key := lease.Key(lease.DefaultKeyPrefix, indexer.KindFilename, "r1")

	tests := []struct {
		name    string
		requeue bool
		want    Result
		queued  int
	}{
		{"skip", false, ResultContended, 0},
		{"requeue", true, ResultRequeued, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			// Given another worker holds the repository
			other := e.leases("other")
			ok, err := other.Acquire(ctx, key, lease.DefaultTTL)
			require.NoError(t, err)
			require.True(t, ok)

			p := e.pool(Config{RequeueOnContention: tt.requeue, RequeueDelay: time.Millisecond}, e.leases("me"))
			msg := Task{Op: OpUpdate, RepoID: "r1", CommitID: c1}.Encode()

			// Then the task does not run
			assert.Equal(t, tt.want, p.Handle(ctx, msg))
			assert.Equal(t, tt.queued, e.queue.Len())
			assert.Zero(t, e.docCount("r1"))
			assert.Equal(t, []string{key}, other.Held())
		})
	}
}

func TestHandle_FailedUpdateReleasesLease(t *testing.T) {
	e := newEnv(t)
	leases := e.leases("a")
	p := e.pool(Config{}, leases)

	res := p.Handle(context.Background(), Task{Op: OpUpdate, RepoID: "r1", CommitID: "ffffffffffffffffffffffffffffffffffffffff"}.Encode())
	assert.Equal(t, ResultFailed, res)
	assert.Empty(t, leases.Held())
}

func TestRun_ConsumesQueueAndStops(t *testing.T) {
	e := newEnv(t)
	c1 := e.commit("r1", "", map[string]string{"/a.md": "a"})
	c2 := e.commit("r2", "", map[string]string{"/b.md": "b", "/c.md": "c"})
	p := e.pool(Config{Workers: 3}, e.leases("a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.NoError(t, Enqueue(ctx, e.queue, Task{Op: OpUpdate, RepoID: "r1", CommitID: c1}))
	require.NoError(t, Enqueue(ctx, e.queue, Task{Op: OpUpdate, RepoID: "r2", CommitID: c2}))
	require.NoError(t, e.queue.Push(ctx, "not a task"))

	require.Eventually(t, func() bool { return p.Handled() == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, e.docCount("r1"))
	assert.Equal(t, 2, e.docCount("r2"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}
