// Package scheduler runs periodic index passes over every repository.
//
// One Scheduler serves one index kind. A pass pages through the live
// repository listing, updates each repository it handles, and finally
// garbage-collects the indices of repositories it did not see. A failing
// repository is logged and counted; it never stops the pass.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/lease"
	"github.com/Aman-CERP/repoindex/internal/metrics"
	"github.com/Aman-CERP/repoindex/internal/repolist"
)

// Defaults.
const (
	DefaultInterval = 30 * time.Minute
	DefaultPageSize = 1000
)

// Config tunes a Scheduler.
type Config struct {
	// Interval between pass starts.
	Interval time.Duration

	// PageSize is the number of repositories fetched per listing call.
	PageSize int

	// RunOnStart runs a pass immediately instead of after one interval.
	RunOnStart bool

	// LockDir holds the per-kind host lock file. Empty disables it.
	LockDir string

	// LeaseTTL is the TTL of per-repository leases when Leases is set.
	LeaseTTL time.Duration

	// LeasePrefix prefixes lease keys.
	LeasePrefix string

	// ListRetry retries listing calls.
	ListRetry rerrors.RetryConfig
}

// Dependencies are the collaborators of a Scheduler.
type Dependencies struct {
	// Manager updates one index kind (required).
	Manager *index.Manager

	// Lister pages through live repositories (required).
	Lister repolist.Lister

	// Leases, when set, guards each repository update with the same
	// lease the workers take.
	Leases *lease.Manager

	Logger *slog.Logger
}

// Scheduler runs passes for one index kind.
type Scheduler struct {
	cfg      Config
	manager  *index.Manager
	lister   repolist.Lister
	leases   *lease.Manager
	logger   *slog.Logger
	progress *Progress
	lock     *flock.Flock
	trigger  chan struct{}
}

// New creates a Scheduler.
func New(deps Dependencies, cfg Config) (*Scheduler, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("index manager is required")
	}
	if deps.Lister == nil {
		return nil, fmt.Errorf("repository lister is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = lease.DefaultTTL
	}
	if cfg.LeasePrefix == "" {
		cfg.LeasePrefix = lease.DefaultKeyPrefix
	}
	if cfg.ListRetry.MaxRetries == 0 && cfg.ListRetry.InitialDelay == 0 {
		cfg.ListRetry = rerrors.DefaultRetryConfig()
		cfg.ListRetry.RetryIf = rerrors.IsRetryable
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	kind := deps.Manager.Kind()

	s := &Scheduler{
		cfg:      cfg,
		manager:  deps.Manager,
		lister:   deps.Lister,
		leases:   deps.Leases,
		logger:   logger.With(slog.String("kind", kind)),
		progress: newProgress(kind),
		trigger:  make(chan struct{}, 1),
	}
	if cfg.LockDir != "" {
		if err := os.MkdirAll(cfg.LockDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
		s.lock = flock.New(filepath.Join(cfg.LockDir, "scheduler-"+kind+".lock"))
	}
	return s, nil
}

// Kind returns the index kind.
func (s *Scheduler) Kind() string {
	return s.manager.Kind()
}

// Progress returns the progress tracker.
func (s *Scheduler) Progress() *Progress {
	return s.progress
}

// Trigger asks Run for a pass now. It returns false when a request is
// already pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run runs a pass every interval until ctx is cancelled. Passes never
// overlap: a pass that outlasts the interval delays the next one.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler_started", slog.Duration("interval", s.cfg.Interval))
	defer s.logger.Info("scheduler_stopped")

	if s.cfg.RunOnStart {
		s.runPass(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runPass(ctx)
		case <-s.trigger:
			s.runPass(ctx)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context) {
	if _, err := s.RunPass(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler_pass_failed", slog.String("error", err.Error()))
	}
}

// RunPass runs one pass. Garbage collection is skipped when the listing
// failed or the pass was cancelled, since the live set is then partial.
func (s *Scheduler) RunPass(ctx context.Context) (*PassResult, error) {
	kind := s.Kind()
	res := &PassResult{Kind: kind, StartedAt: time.Now()}

	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			return res, fmt.Errorf("failed to acquire pass lock: %w", err)
		}
		if !ok {
			res.Skipped = true
			metrics.SchedulerPasses.WithLabelValues(kind, "skipped").Inc()
			s.logger.Info("scheduler_pass_skipped", slog.String("reason", "pass lock held"))
			return res, nil
		}
		defer func() { _ = s.lock.Unlock() }()
	}

	s.progress.start(res.StartedAt)
	s.logger.Info("scheduler_pass_started")

	err := s.pass(ctx, res)
	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		res.Error = err.Error()
	}
	s.progress.finish(*res)
	s.record(res)
	return res, err
}

func (s *Scheduler) pass(ctx context.Context, res *PassResult) error {
	live := make(map[string]struct{})
	strategy := s.manager.Strategy()

	for offset := 0; ; offset += s.cfg.PageSize {
		if ctx.Err() != nil {
			return s.cancelled(ctx, res)
		}

		page, err := rerrors.RetryWithResult(ctx, s.cfg.ListRetry, func() ([]repolist.Repo, error) {
			return s.lister.ListRepos(ctx, offset, s.cfg.PageSize)
		})
		if err != nil {
			if ctx.Err() != nil {
				return s.cancelled(ctx, res)
			}
			res.GCSkipped = true
			return fmt.Errorf("list repositories at offset %d: %w", offset, err)
		}
		res.Pages++

		ids := make([]string, len(page))
		for i, r := range page {
			ids[i] = r.ID
		}
		virtual, err := rerrors.RetryWithResult(ctx, s.cfg.ListRetry, func() (map[string]struct{}, error) {
			return s.lister.VirtualRepos(ctx, ids)
		})
		if err != nil {
			if ctx.Err() != nil {
				return s.cancelled(ctx, res)
			}
			res.GCSkipped = true
			return fmt.Errorf("list virtual repositories at offset %d: %w", offset, err)
		}

		for _, r := range page {
			res.Seen++
			if _, ok := virtual[r.ID]; ok {
				res.Virtual++
				continue
			}
			if !strategy.Handles(r.Type) {
				res.Unhandled++
				continue
			}
			live[r.ID] = struct{}{}

			if ctx.Err() != nil {
				return s.cancelled(ctx, res)
			}
			s.updateRepo(ctx, r, res)
		}

		if len(page) < s.cfg.PageSize {
			break
		}
	}

	gc, err := s.manager.CollectGarbage(ctx, live)
	res.GCDeleted = gc.Deleted
	res.GCFailed = gc.Failed
	if err != nil {
		if ctx.Err() != nil {
			return s.cancelled(ctx, res)
		}
		return fmt.Errorf("garbage collection: %w", err)
	}
	return nil
}

func (s *Scheduler) cancelled(ctx context.Context, res *PassResult) error {
	res.Cancelled = true
	res.GCSkipped = true
	s.logger.Info("scheduler_pass_cancelled", slog.Int("seen", res.Seen))
	return ctx.Err()
}

// updateRepo updates one repository. Failures, including panics, are
// contained here.
func (s *Scheduler) updateRepo(ctx context.Context, r repolist.Repo, res *PassResult) {
	failed := true
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("index_update_panicked",
				slog.String("repo_id", r.ID),
				slog.Any("panic", p))
			res.Failed++
		}
		s.progress.repoDone(failed)
	}()

	if r.HeadCommit == "" {
		failed = false
		res.NoOp++
		return
	}

	if s.leases != nil {
		key := lease.Key(s.cfg.LeasePrefix, s.Kind(), r.ID)
		ok, err := s.leases.Acquire(ctx, key, s.cfg.LeaseTTL)
		if err != nil {
			res.Failed++
			s.logger.Warn("lease_acquire_failed",
				slog.String("repo_id", r.ID),
				slog.String("key", key),
				slog.String("error", err.Error()))
			return
		}
		if !ok {
			failed = false
			res.Contended++
			s.logger.Debug("repo_update_skipped",
				slog.String("repo_id", r.ID),
				slog.String("reason", "lease held elsewhere"))
			return
		}
		defer func() {
			// the pass context may be cancelled; release with a fresh one
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := s.leases.Release(relCtx, key); err != nil {
				s.logger.Warn("lease_release_failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		}()
	}

	out, err := s.manager.Update(ctx, r.ID, r.HeadCommit)
	if err != nil {
		res.Failed++
		return
	}
	failed = false
	if out.NoOp {
		res.NoOp++
		return
	}
	res.Updated++
}

func (s *Scheduler) record(res *PassResult) {
	kind := res.Kind
	result := "ok"
	switch {
	case res.Cancelled:
		result = "cancelled"
	case res.Error != "":
		result = "failed"
	}
	metrics.SchedulerPasses.WithLabelValues(kind, result).Inc()
	metrics.SchedulerPassDuration.WithLabelValues(kind).Observe(res.Duration.Seconds())
	for state, n := range map[string]int{
		"updated":   res.Updated,
		"noop":      res.NoOp,
		"failed":    res.Failed,
		"contended": res.Contended,
		"virtual":   res.Virtual,
		"unhandled": res.Unhandled,
	} {
		metrics.SchedulerRepos.WithLabelValues(kind, state).Set(float64(n))
	}

	s.logger.Info("scheduler_pass_finished",
		slog.String("result", result),
		slog.Int("pages", res.Pages),
		slog.Int("seen", res.Seen),
		slog.Int("updated", res.Updated),
		slog.Int("noop", res.NoOp),
		slog.Int("failed", res.Failed),
		slog.Int("contended", res.Contended),
		slog.Int("virtual", res.Virtual),
		slog.Int("unhandled", res.Unhandled),
		slog.Int("gc_deleted", res.GCDeleted),
		slog.Bool("gc_skipped", res.GCSkipped),
		slog.Duration("duration", res.Duration))
}
