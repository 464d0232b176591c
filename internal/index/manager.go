// Package index applies repository changes to search indices.
//
// A Manager owns one index kind. Update moves a repository's index from
// the last applied commit to a new head, recovering first from an update
// that was interrupted. CollectGarbage drops indices of repositories that
// no longer exist.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aman-CERP/repoindex/internal/backend"
	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/indexer"
	"github.com/Aman-CERP/repoindex/internal/metrics"
	"github.com/Aman-CERP/repoindex/internal/objstore"
	"github.com/Aman-CERP/repoindex/internal/status"
	"github.com/Aman-CERP/repoindex/internal/treediff"
)

// DefaultBatchSize bounds the number of documents or ids per backend call.
const DefaultBatchSize = 1000

// Update phases, reported on errors and logs.
const (
	PhaseEnsure  = "ensure"
	PhaseStatus  = "status"
	PhaseRecover = "recover"
	PhaseDiff    = "diff"
	PhaseBegin   = "begin"
	PhaseDelete  = "delete"
	PhaseInsert  = "insert"
	PhaseFinish  = "finish"
	PhaseGC      = "gc"
)

// UpdateError is returned when an update fails. The repository's status
// is left as it was, so the next attempt resumes or recovers.
type UpdateError struct {
	RepoID string
	Phase  string
	Err    error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.RepoID, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

// Dependencies are the collaborators of a Manager.
type Dependencies struct {
	// Strategy selects the index kind (required).
	Strategy indexer.Strategy

	// Objects reads commits, directories and files (required).
	Objects objstore.Store

	// Backend receives the documents (required).
	Backend backend.Backend

	// Status persists progress for Strategy's namespace (required).
	Status status.Store

	// Breaker fails backend writes fast while the backend is down.
	Breaker *rerrors.CircuitBreaker

	// Limiter paces backend writes. Nil means unlimited.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// Options tunes a Manager.
type Options struct {
	// BatchSize is the maximum documents or ids per backend call.
	BatchSize int
}

// Manager updates the indices of one kind.
type Manager struct {
	strategy  indexer.Strategy
	objects   objstore.Store
	backend   backend.Backend
	status    status.Store
	differ    *treediff.Differ
	breaker   *rerrors.CircuitBreaker
	limiter   *rate.Limiter
	logger    *slog.Logger
	batchSize int
}

// NewManager creates a Manager.
func NewManager(deps Dependencies, opts Options) (*Manager, error) {
	if deps.Strategy == nil {
		return nil, fmt.Errorf("index strategy is required")
	}
	if deps.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("search backend is required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("status store is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	return &Manager{
		strategy:  deps.Strategy,
		objects:   deps.Objects,
		backend:   deps.Backend,
		status:    deps.Status,
		differ:    treediff.New(deps.Objects),
		breaker:   deps.Breaker,
		limiter:   deps.Limiter,
		logger:    logger.With(slog.String("kind", deps.Strategy.Kind())),
		batchSize: batch,
	}, nil
}

// Kind returns the index kind this manager updates.
func (m *Manager) Kind() string {
	return m.strategy.Kind()
}

// Strategy returns the strategy this manager encodes with.
func (m *Manager) Strategy() indexer.Strategy {
	return m.strategy
}

// Status returns the stored status of a repository.
func (m *Manager) Status(ctx context.Context, repoID string) (status.Status, error) {
	return m.status.Get(ctx, repoID)
}

// UpdateResult summarizes one Update call.
type UpdateResult struct {
	RepoID     string
	FromCommit string
	ToCommit   string

	// NoOp is set when the index was already at the head commit.
	NoOp bool
	// Recovered is set when an interrupted update was redone first.
	Recovered bool
	// Reindexed is set when the index had to be rebuilt from scratch.
	Reindexed bool

	Deleted       int
	PrefixDeleted int
	Upserted      int
	Duration      time.Duration
}

// Update brings the repository's index to headCommit.
//
// Status is checked first: an index already at headCommit is left alone.
// An update left unfinished by a crash is redone and finished before the
// new diff is computed. The new diff is applied deletes first, then
// inserts, between BeginUpdate and FinishUpdate.
func (m *Manager) Update(ctx context.Context, repoID, headCommit string) (*UpdateResult, error) {
	start := time.Now()
	res, err := m.update(ctx, repoID, headCommit)
	res.Duration = time.Since(start)

	kind := m.Kind()
	metrics.IndexUpdateDuration.WithLabelValues(kind).Observe(res.Duration.Seconds())
	switch {
	case err != nil:
		metrics.IndexUpdates.WithLabelValues(kind, "error").Inc()
		attrs := []any{slog.String("repo_id", repoID)}
		var ue *UpdateError
		if errors.As(err, &ue) {
			attrs = append(attrs, slog.String("phase", ue.Phase))
		}
		for _, a := range rerrors.LogAttrs(err) {
			attrs = append(attrs, a)
		}
		m.logger.Error("index_update_failed", attrs...)
	case res.NoOp:
		metrics.IndexUpdates.WithLabelValues(kind, "noop").Inc()
	default:
		metrics.IndexUpdates.WithLabelValues(kind, "ok").Inc()
		m.logger.Info("index_update_finished",
			slog.String("repo_id", repoID),
			slog.String("from_commit", res.FromCommit),
			slog.String("to_commit", res.ToCommit),
			slog.Bool("recovered", res.Recovered),
			slog.Bool("reindexed", res.Reindexed),
			slog.Int("deleted", res.Deleted),
			slog.Int("prefix_deleted", res.PrefixDeleted),
			slog.Int("upserted", res.Upserted),
			slog.Duration("duration", res.Duration))
	}
	return res, err
}

func (m *Manager) update(ctx context.Context, repoID, headCommit string) (*UpdateResult, error) {
	res := &UpdateResult{RepoID: repoID, ToCommit: headCommit}
	fail := func(phase string, err error) (*UpdateResult, error) {
		return res, &UpdateError{RepoID: repoID, Phase: phase, Err: err}
	}

	index := indexer.IndexName(m.strategy, repoID)
	created, err := m.ensureIndex(ctx, index)
	if err != nil {
		return fail(PhaseEnsure, err)
	}

	st, err := m.status.Get(ctx, repoID)
	if err != nil {
		return fail(PhaseStatus, err)
	}

	// A fresh index with a non-empty status means the index was lost;
	// rebuild from the empty tree.
	if created && (st.FromCommit != "" || st.NeedRecovery()) {
		m.logger.Warn("index_missing_reindex",
			slog.String("repo_id", repoID),
			slog.String("index", index),
			slog.String("from_commit", st.FromCommit))
		st.FromCommit, st.ToCommit = "", ""
		res.Reindexed = true
	}
	res.FromCommit = st.FromCommit

	if headCommit == st.FromCommit && !st.NeedRecovery() {
		res.NoOp = true
		return res, nil
	}

	from := st.FromCommit
	if st.NeedRecovery() {
		m.logger.Warn("index_update_recovering",
			slog.String("repo_id", repoID),
			slog.String("from_commit", st.FromCommit),
			slog.String("to_commit", st.ToCommit))
		metrics.IndexRecoveries.WithLabelValues(m.Kind()).Inc()

		entries, version, err := m.diff(ctx, repoID, st.FromCommit, st.ToCommit)
		if err != nil {
			return fail(PhaseRecover, err)
		}
		if phase, err := m.apply(ctx, repoID, index, version, entries, res); err != nil {
			return fail(phase, err)
		}
		if err := m.status.FinishUpdate(ctx, repoID, st.ToCommit, ""); err != nil {
			return fail(PhaseRecover, err)
		}
		from = st.ToCommit
		res.Recovered = true
		if from == headCommit {
			return res, nil
		}
	}

	entries, version, err := m.diff(ctx, repoID, from, headCommit)
	if err != nil {
		return fail(PhaseDiff, err)
	}
	m.logger.Debug("index_diff_computed",
		slog.String("repo_id", repoID),
		slog.String("from_commit", from),
		slog.String("to_commit", headCommit),
		slog.Int("version", version),
		slog.Int("entries", len(entries)))

	if err := m.status.BeginUpdate(ctx, repoID, from, headCommit); err != nil {
		return fail(PhaseBegin, err)
	}
	if phase, err := m.apply(ctx, repoID, index, version, entries, res); err != nil {
		return fail(phase, err)
	}
	if err := m.status.FinishUpdate(ctx, repoID, headCommit, ""); err != nil {
		return fail(PhaseFinish, err)
	}
	return res, nil
}

// ensureIndex creates the index if needed and reports whether it was
// created.
func (m *Manager) ensureIndex(ctx context.Context, index string) (bool, error) {
	var created bool
	err := m.write(ctx, func() error {
		var err error
		created, err = m.backend.CreateIndex(ctx, index, m.strategy.Schema())
		return err
	})
	return created, err
}

// root resolves a commit to its root directory and object version. An
// empty commit id is the empty tree.
func (m *Manager) root(ctx context.Context, repoID, commitID string) (string, int, error) {
	if commitID == "" || objstore.IsEmpty(commitID) {
		return objstore.EmptyID, 0, nil
	}
	c, err := m.objects.LoadCommit(ctx, repoID, commitID)
	if err != nil {
		return "", 0, err
	}
	return c.RootID, c.Version, nil
}

// diff computes the expanded changes from one commit to another.
//
// When the old commit is gone from the object store the whole index is
// cleared and the new tree is enumerated, since what the old tree held
// is unknown. A missing new commit fails the update.
func (m *Manager) diff(ctx context.Context, repoID, fromCommit, toCommit string) ([]treediff.Entry, int, error) {
	newRoot, version, err := m.root(ctx, repoID, toCommit)
	if err != nil {
		return nil, 0, rerrors.Wrap(rerrors.ErrCodeDiffFailed, err).
			WithDetail("commit_id", toCommit)
	}

	var prefix []treediff.Entry
	oldRoot, _, err := m.root(ctx, repoID, fromCommit)
	switch {
	case errors.Is(err, rerrors.ErrObjectNotFound):
		m.logger.Warn("old_commit_missing",
			slog.String("repo_id", repoID),
			slog.String("commit_id", fromCommit))
		oldRoot = objstore.EmptyID
		prefix = []treediff.Entry{{Kind: treediff.Deleted, Type: objstore.TypeDir, Path: "/"}}
	case err != nil:
		return nil, 0, rerrors.Wrap(rerrors.ErrCodeDiffFailed, err).
			WithDetail("commit_id", fromCommit)
	}

	changes, err := m.differ.Compare(ctx, repoID, version, oldRoot, newRoot)
	if err != nil {
		return nil, 0, rerrors.Wrap(rerrors.ErrCodeDiffFailed, err)
	}
	entries, err := m.differ.Expand(ctx, repoID, version, changes)
	if err != nil {
		return nil, 0, rerrors.Wrap(rerrors.ErrCodeDiffFailed, err)
	}
	return append(prefix, entries...), version, nil
}

// apply writes entries to the index: every delete, then every insert, in
// batches. It returns the phase that failed.
func (m *Manager) apply(ctx context.Context, repoID, index string, version int, entries []treediff.Entry, res *UpdateResult) (string, error) {
	var ids, prefixes []string
	for _, e := range entries {
		switch {
		case e.Kind == treediff.Deleted && e.IsDir():
			prefixes = append(prefixes, indexer.DeletePrefix(e.Path))
		case e.Kind == treediff.Deleted, e.Kind == treediff.Modified:
			ids = append(ids, indexer.DocID(indexer.DocPath(e)))
		}
	}

	kind := m.Kind()
	for _, p := range prefixes {
		if err := m.write(ctx, func() error { return m.backend.DeleteByPathPrefix(ctx, index, p) }); err != nil {
			return PhaseDelete, err
		}
		res.PrefixDeleted++
		metrics.IndexOperations.WithLabelValues(kind, "delete_prefix").Inc()
	}
	for start := 0; start < len(ids); start += m.batchSize {
		batch := ids[start:min(start+m.batchSize, len(ids))]
		if err := m.write(ctx, func() error { return m.backend.BulkDelete(ctx, index, batch) }); err != nil {
			return PhaseDelete, err
		}
		res.Deleted += len(batch)
		metrics.IndexOperations.WithLabelValues(kind, "delete").Add(float64(len(batch)))
	}

	src := indexer.Source{Store: m.objects, RepoID: repoID, Version: version}

	docs := make([]backend.Document, 0, min(m.batchSize, len(entries)))
	flush := func() error {
		if len(docs) == 0 {
			return nil
		}
		if err := m.write(ctx, func() error { return m.backend.BulkUpsert(ctx, index, docs) }); err != nil {
			return err
		}
		res.Upserted += len(docs)
		metrics.IndexOperations.WithLabelValues(kind, "upsert").Add(float64(len(docs)))
		docs = docs[:0]
		return nil
	}
	for _, e := range entries {
		if e.Kind == treediff.Deleted {
			continue
		}
		doc, ok, err := m.strategy.Encode(ctx, src, e)
		if err != nil {
			return PhaseInsert, err
		}
		if !ok {
			continue
		}
		docs = append(docs, doc)
		if len(docs) >= m.batchSize {
			if err := flush(); err != nil {
				return PhaseInsert, err
			}
		}
	}
	if err := flush(); err != nil {
		return PhaseInsert, err
	}
	return "", nil
}

// write runs a backend call under the rate limiter and circuit breaker.
func (m *Manager) write(ctx context.Context, fn func() error) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if m.breaker == nil {
		return fn()
	}
	return m.breaker.Execute(fn)
}

// DeleteRepoIndex drops the repository's index, then its status row.
func (m *Manager) DeleteRepoIndex(ctx context.Context, repoID string) error {
	index := indexer.IndexName(m.strategy, repoID)
	if err := m.write(ctx, func() error { return m.backend.DropIndex(ctx, index) }); err != nil {
		return fmt.Errorf("drop index %s: %w", index, err)
	}
	if err := m.status.Delete(ctx, repoID); err != nil {
		return fmt.Errorf("delete status of %s: %w", repoID, err)
	}
	m.logger.Info("repo_index_deleted", slog.String("repo_id", repoID), slog.String("index", index))
	return nil
}

// Rebuild drops the repository's index and status and indexes headCommit
// from scratch.
func (m *Manager) Rebuild(ctx context.Context, repoID, headCommit string) (*UpdateResult, error) {
	if err := m.DeleteRepoIndex(ctx, repoID); err != nil {
		return &UpdateResult{RepoID: repoID, ToCommit: headCommit}, &UpdateError{RepoID: repoID, Phase: PhaseEnsure, Err: err}
	}
	return m.Update(ctx, repoID, headCommit)
}

// IndexedRepos returns every repository with a status row or an index of
// this kind.
func (m *Manager) IndexedRepos(ctx context.Context) (map[string]struct{}, error) {
	ids, err := m.status.RepoIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list status rows: %w", err)
	}
	prefix := m.strategy.IndexPrefix()
	var names []string
	err = m.write(ctx, func() error {
		var err error
		names, err = m.backend.ListIndices(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list indices: %w", err)
	}

	repos := make(map[string]struct{}, len(ids)+len(names))
	for _, id := range ids {
		repos[id] = struct{}{}
	}
	for _, name := range names {
		repos[strings.TrimPrefix(name, prefix)] = struct{}{}
	}
	return repos, nil
}

// GCResult summarizes a garbage collection.
type GCResult struct {
	Before  int
	Deleted int
	Failed  int
	After   int
}

// CollectGarbage deletes the index and status of every indexed
// repository not in live. A failure on one repository does not stop the
// others.
func (m *Manager) CollectGarbage(ctx context.Context, live map[string]struct{}) (GCResult, error) {
	var res GCResult
	indexed, err := m.IndexedRepos(ctx)
	if err != nil {
		return res, &UpdateError{Phase: PhaseGC, Err: err}
	}
	res.Before = len(indexed)
	m.logger.Info("gc_started",
		slog.Int("indexed", res.Before),
		slog.Int("live", len(live)))

	for repoID := range indexed {
		if _, ok := live[repoID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := m.DeleteRepoIndex(ctx, repoID); err != nil {
			res.Failed++
			m.logger.Warn("gc_delete_failed",
				slog.String("repo_id", repoID),
				slog.String("phase", PhaseGC),
				slog.String("error", err.Error()))
			continue
		}
		res.Deleted++
		metrics.GarbageCollected.WithLabelValues(m.Kind()).Inc()
	}

	res.After = res.Before - res.Deleted
	m.logger.Info("gc_finished",
		slog.Int("before", res.Before),
		slog.Int("deleted", res.Deleted),
		slog.Int("failed", res.Failed),
		slog.Int("after", res.After))
	return res, nil
}
