package daemon

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/Aman-CERP/repoindex/internal/backend"
	"github.com/Aman-CERP/repoindex/internal/config"
	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/index"
	"github.com/Aman-CERP/repoindex/internal/indexer"
	"github.com/Aman-CERP/repoindex/internal/lease"
	"github.com/Aman-CERP/repoindex/internal/objstore"
	"github.com/Aman-CERP/repoindex/internal/repolist"
	"github.com/Aman-CERP/repoindex/internal/sqlitedb"
	"github.com/Aman-CERP/repoindex/internal/status"
	"github.com/Aman-CERP/repoindex/internal/worker"
)

// Components are the stores and managers built from a Config. The CLI
// commands use them directly; the daemon runs schedulers and workers on top.
type Components struct {
	Config  *config.Config
	Objects objstore.Store
	Repos   *repolist.SQLite
	Backend backend.Backend
	Leases  *lease.Manager

	// Redis is set when coordination runs on Redis. It is shared by the
	// lease store and the task queues.
	Redis *redis.Client

	managers map[string]*index.Manager
	kinds    []string
	closers  []func() error
	logger   *slog.Logger
}

// Open builds every component for the enabled index kinds. cfg must be
// validated; Open resolves its paths.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Components, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Resolve()
	c := &Components{
		Config:   cfg,
		managers: make(map[string]*index.Manager),
		logger:   logger,
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	fs, err := objstore.NewFS(cfg.Objects.Root)
	if err != nil {
		return nil, err
	}
	if c.Objects, err = objstore.NewCached(fs, cfg.Objects.DirCacheSize); err != nil {
		return nil, fmt.Errorf("object cache: %w", err)
	}

	if c.Repos, err = repolist.OpenSQLite(cfg.Repos.Path); err != nil {
		return nil, fmt.Errorf("open repository list: %w", err)
	}
	c.closers = append(c.closers, c.Repos.Close)

	c.Backend, err = backend.New(backend.Config{
		Type:    cfg.Backend.Type,
		Dir:     cfg.Backend.Dir,
		URL:     cfg.Backend.URL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open search backend: %w", err)
	}
	c.closers = append(c.closers, c.Backend.Close)

	store, err := c.openLeaseStore(ctx)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, store.Close)
	if c.Leases, err = lease.NewManager(store, lease.Options{
		RenewInterval: cfg.Coordination.RenewInterval,
		Logger:        logger,
	}); err != nil {
		return nil, err
	}

	if err := c.openManagers(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Components) openLeaseStore(ctx context.Context) (lease.Store, error) {
	co := c.Config.Coordination
	switch co.Type {
	case "redis":
		client, err := lease.NewRedisClient(ctx, lease.RedisConfig{
			Addr:     co.RedisAddr,
			Password: co.RedisPassword,
			DB:       co.RedisDB,
			Timeout:  co.Timeout,
		})
		if err != nil {
			return nil, err
		}
		c.Redis = client
		// The queues share the client, so the store must not close it.
		c.closers = append(c.closers, client.Close)
		return lease.NewRedisStore(client, false), nil
	case "memory":
		return lease.NewMemoryStore(nil), nil
	default:
		s, err := lease.OpenSQLiteStore(co.Path)
		if err != nil {
			return nil, fmt.Errorf("open lease store: %w", err)
		}
		return s, nil
	}
}

func (c *Components) openManagers() error {
	cfg := c.Config

	var statusDB *sql.DB
	if cfg.Status.Type != "pebble" {
		db, err := sqlitedb.Open(cfg.Status.Path, sqlitedb.Options{Synchronous: "FULL"})
		if err != nil {
			return fmt.Errorf("open status store: %w", err)
		}
		statusDB = db
		c.closers = append(c.closers, db.Close)
	}

	var limiter *rate.Limiter
	if cfg.Backend.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Backend.RateLimit), max(1, int(cfg.Backend.RateLimit)))
	}

	for _, kind := range cfg.Indexes.Enabled() {
		strategy, err := indexer.New(kind,
			indexer.WithLimits(indexer.Limits{
				TextSize:     cfg.Limits.TextSizeMB << 20,
				OfficeSize:   cfg.Limits.OfficeSizeMB << 20,
				PageSize:     cfg.Limits.PageSizeMB << 20,
				ContentRunes: cfg.Limits.ContentRunes,
			}),
			indexer.WithSkipTopDirs(cfg.SkipTopDirs),
			indexer.WithLogger(c.logger))
		if err != nil {
			return err
		}

		var st status.Store
		if statusDB != nil {
			st, err = status.NewSQLite(statusDB, strategy.StatusNamespace())
		} else {
			var p *status.Pebble
			p, err = status.OpenPebble(cfg.StatusPath(kind), strategy.StatusNamespace(), nil)
			if err == nil {
				c.closers = append(c.closers, p.Close)
			}
			st = p
		}
		if err != nil {
			return fmt.Errorf("open %s status store: %w", kind, err)
		}

		m, err := index.NewManager(index.Dependencies{
			Strategy: strategy,
			Objects:  c.Objects,
			Backend:  c.Backend,
			Status:   st,
			Breaker: rerrors.NewCircuitBreaker("backend-"+kind,
				rerrors.WithMaxFailures(cfg.Backend.BreakerFailures),
				rerrors.WithResetTimeout(cfg.Backend.BreakerReset)),
			Limiter: limiter,
			Logger:  c.logger,
		}, index.Options{BatchSize: cfg.Indexes.All()[kind].BatchSize})
		if err != nil {
			return err
		}
		c.managers[kind] = m
		c.kinds = append(c.kinds, kind)
	}
	return nil
}

// Kinds returns the enabled index kinds in a fixed order.
func (c *Components) Kinds() []string {
	return c.kinds
}

// Manager returns the manager of an enabled kind.
func (c *Components) Manager(kind string) (*index.Manager, error) {
	m, ok := c.managers[kind]
	if !ok {
		return nil, rerrors.ConfigError(fmt.Sprintf("index kind %q is not enabled", kind), nil).
			WithSuggestion("enable it under indexes." + kind + " in the config")
	}
	return m, nil
}

// Queue returns the task queue of one kind. It needs Redis coordination.
func (c *Components) Queue(kind string) (*worker.RedisQueue, error) {
	if c.Redis == nil {
		return nil, rerrors.ConfigError("task queues need redis coordination", nil)
	}
	w := c.Config.Workers
	return worker.NewRedisQueue(c.Redis, worker.QueueName(w.Queue, kind), w.PopTimeout, false), nil
}

// Close closes every store in reverse opening order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return stderrors.Join(errs...)
}
