// Package worker consumes queued index tasks with a pool of goroutines.
//
// Every task runs under the per-repository lease shared with the
// scheduler, so one repository's index is mutated by at most one worker
// across the whole fleet. A task whose lease is held elsewhere is skipped
// or, when configured, pushed back to the queue after a short delay.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/lease"
	"github.com/Aman-CERP/repoindex/internal/metrics"
	"github.com/Aman-CERP/repoindex/internal/repolist"
)

// Pool defaults.
const (
	DefaultWorkers      = 2
	DefaultRequeueDelay = 500 * time.Millisecond
)

// Result is the outcome of one task.
type Result string

const (
	ResultDone      Result = "done"
	ResultNoOp      Result = "noop"
	ResultFailed    Result = "failed"
	ResultContended Result = "contended"
	ResultRequeued  Result = "requeued"
	ResultBad       Result = "bad"
)

// Config tunes a Pool.
type Config struct {
	Workers int

	LeaseTTL    time.Duration
	LeasePrefix string

	// RequeueOnContention pushes a contended task back after RequeueDelay
	// instead of dropping it.
	RequeueOnContention bool
	RequeueDelay        time.Duration

	// PopRetry governs reconnects after queue failures.
	PopRetry rerrors.RetryConfig
}

// Dependencies are the collaborators of a Pool.
type Dependencies struct {
	// Manager runs the tasks (required).
	Manager *index.Manager

	// Queue supplies task messages (required).
	Queue Queue

	// Leases serializes work per repository (required).
	Leases *lease.Manager

	// Lister resolves the head commit of update tasks without one.
	Lister repolist.Lister

	Logger *slog.Logger
}

// Pool runs Workers consumers of one queue.
type Pool struct {
	cfg     Config
	manager *index.Manager
	queue   Queue
	leases  *lease.Manager
	lister  repolist.Lister
	logger  *slog.Logger

	handled atomic.Int64
}

// NewPool creates a Pool.
func NewPool(deps Dependencies, cfg Config) (*Pool, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("index manager is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("task queue is required")
	}
	if deps.Leases == nil {
		return nil, fmt.Errorf("lease manager is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = lease.DefaultTTL
	}
	if cfg.LeasePrefix == "" {
		cfg.LeasePrefix = lease.DefaultKeyPrefix
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = DefaultRequeueDelay
	}
	if cfg.PopRetry.MaxRetries == 0 && cfg.PopRetry.InitialDelay == 0 {
		cfg.PopRetry = rerrors.DefaultRetryConfig()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:     cfg,
		manager: deps.Manager,
		queue:   deps.Queue,
		leases:  deps.Leases,
		lister:  deps.Lister,
		logger:  logger.With(slog.String("kind", deps.Manager.Kind())),
	}, nil
}

// Handled returns the number of tasks processed so far.
func (p *Pool) Handled() int64 {
	return p.handled.Load()
}

// Run starts the workers and blocks until ctx is cancelled. A task in
// flight when ctx is cancelled runs to completion and releases its lease.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := uuid.NewString()[:8]
		g.Go(func() error {
			return p.work(gctx, id)
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, id string) error {
	logger := p.logger.With(slog.String("worker", id))
	logger.Info("worker_started")
	defer logger.Info("worker_stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		type popped struct {
			msg string
			ok  bool
		}
		got, err := rerrors.RetryWithResult(ctx, p.cfg.PopRetry, func() (popped, error) {
			msg, ok, err := p.queue.Pop(ctx)
			return popped{msg, ok}, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("queue_pop_failed", slog.String("error", err.Error()))
			if !sleep(ctx, p.cfg.PopRetry.MaxDelay) {
				return nil
			}
			continue
		}
		if !got.ok {
			continue
		}

		p.Handle(context.WithoutCancel(ctx), got.msg)
	}
}

// Handle runs one raw task message and reports its outcome.
func (p *Pool) Handle(ctx context.Context, msg string) Result {
	defer p.handled.Add(1)

	task, err := ParseTask(msg)
	if err != nil {
		p.logger.Warn("task_dropped", slog.String("error", err.Error()))
		metrics.WorkerTasks.WithLabelValues("unknown", string(ResultBad)).Inc()
		return ResultBad
	}

	res := p.run(ctx, task, msg)
	metrics.WorkerTasks.WithLabelValues(string(task.Op), string(res)).Inc()
	return res
}

func (p *Pool) run(ctx context.Context, task Task, msg string) (result Result) {
	logger := p.logger.With(
		slog.String("op", string(task.Op)),
		slog.String("repo_id", task.RepoID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task_panicked", slog.Any("panic", r))
			result = ResultFailed
		}
	}()

	key := lease.Key(p.cfg.LeasePrefix, p.manager.Kind(), task.RepoID)
	ok, err := p.leases.Acquire(ctx, key, p.cfg.LeaseTTL)
	if err != nil {
		logger.Warn("lease_acquire_failed", slog.String("key", key), slog.String("error", err.Error()))
		return ResultFailed
	}
	if !ok {
		if !p.cfg.RequeueOnContention {
			logger.Info("task_skipped", slog.String("reason", "lease held elsewhere"))
			return ResultContended
		}
		sleep(ctx, p.cfg.RequeueDelay)
		if err := p.queue.Push(ctx, msg); err != nil {
			logger.Warn("task_requeue_failed", slog.String("error", err.Error()))
			return ResultContended
		}
		logger.Debug("task_requeued")
		return ResultRequeued
	}
	defer func() {
		if err := p.leases.Release(ctx, key); err != nil {
			logger.Warn("lease_release_failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}()

	commit := task.CommitID
	if commit == "" {
		if p.lister == nil {
			logger.Warn("task_failed", slog.String("error", "no commit given and no repository lister"))
			return ResultFailed
		}
		commit, err = p.lister.HeadCommit(ctx, task.RepoID)
		if err != nil {
			logger.Warn("task_failed", slog.String("error", err.Error()))
			return ResultFailed
		}
	}

	var out *index.UpdateResult
	switch task.Op {
	case OpRebuild:
		out, err = p.manager.Rebuild(ctx, task.RepoID, commit)
	default:
		out, err = p.manager.Update(ctx, task.RepoID, commit)
	}
	if err != nil {
		// the manager has already logged the failure with its phase
		return ResultFailed
	}
	if out.NoOp {
		return ResultNoOp
	}
	return ResultDone
}

// sleep waits d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
