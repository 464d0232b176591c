package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/repoindex/internal/metrics"
	"github.com/Aman-CERP/repoindex/internal/scheduler"
	"github.com/Aman-CERP/repoindex/internal/worker"
)

// Daemon runs schedulers, worker pools and lease renewal until stopped.
type Daemon struct {
	cfg        Config
	comp       *Components
	logger     *slog.Logger
	schedulers []*scheduler.Scheduler
	pools      []pool
	server     *Server
	pid        *PIDFile

	metricsAddr chan string
}

type pool struct {
	kind  string
	queue string
	*worker.Pool
}

var _ Handler = (*Daemon)(nil)

// New wires a scheduler for every enabled kind and, when workers are
// enabled, a pool per kind consuming that kind's queue.
func New(comp *Components, cfg Config, logger *slog.Logger) (*Daemon, error) {
	if comp == nil {
		return nil, fmt.Errorf("components are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		cfg:         cfg,
		comp:        comp,
		logger:      logger,
		pid:         NewPIDFile(cfg.PIDPath),
		metricsAddr: make(chan string, 1),
	}
	d.server = NewServer(cfg.SocketPath, d, logger)

	app := comp.Config
	indexes := app.Indexes.All()
	for _, kind := range comp.Kinds() {
		m, err := comp.Manager(kind)
		if err != nil {
			return nil, err
		}
		ic := indexes[kind]
		s, err := scheduler.New(scheduler.Dependencies{
			Manager: m,
			Lister:  comp.Repos,
			Leases:  comp.Leases,
			Logger:  logger,
		}, scheduler.Config{
			Interval:    ic.Interval,
			PageSize:    ic.PageSize,
			RunOnStart:  ic.RunOnStart,
			LockDir:     cfg.LockDir,
			LeaseTTL:    app.Coordination.LeaseTTL,
			LeasePrefix: app.Coordination.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("%s scheduler: %w", kind, err)
		}
		d.schedulers = append(d.schedulers, s)

		if !app.Workers.Enabled {
			continue
		}
		q, err := comp.Queue(kind)
		if err != nil {
			return nil, err
		}
		p, err := worker.NewPool(worker.Dependencies{
			Manager: m,
			Queue:   q,
			Leases:  comp.Leases,
			Lister:  comp.Repos,
			Logger:  logger,
		}, worker.Config{
			Workers:             app.Workers.Count,
			LeaseTTL:            app.Coordination.LeaseTTL,
			LeasePrefix:         app.Coordination.KeyPrefix,
			RequeueOnContention: app.Workers.RequeueOnContention,
			RequeueDelay:        app.Workers.RequeueDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("%s workers: %w", kind, err)
		}
		d.pools = append(d.pools, pool{kind: kind, queue: q.Name(), Pool: p})
	}
	return d, nil
}

// Run blocks until ctx is cancelled, then drains. Tasks in flight finish
// and every lease this process holds is released before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	if err := d.pid.Acquire(); err != nil {
		return err
	}
	defer func() { _ = d.pid.Remove() }()

	d.logger.Info("daemon_started",
		slog.Any("kinds", d.comp.Kinds()),
		slog.Int("worker_pools", len(d.pools)),
		slog.String("owner", d.comp.Leases.Owner()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.comp.Leases.Run(gctx) })
	g.Go(func() error { return d.server.ListenAndServe(gctx) })
	for _, s := range d.schedulers {
		g.Go(func() error { return s.Run(gctx) })
	}
	for _, p := range d.pools {
		g.Go(func() error { return p.Run(gctx) })
	}
	if d.comp.Config.Metrics.Enabled {
		g.Go(func() error { return d.serveMetrics(gctx, d.comp.Config.Metrics.Addr) })
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		d.logger.Info("daemon_draining", slog.Duration("grace", d.cfg.ShutdownGracePeriod))
		select {
		case err = <-done:
		case <-time.After(d.cfg.ShutdownGracePeriod):
			err = fmt.Errorf("drain did not finish within %s", d.cfg.ShutdownGracePeriod)
		}
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d.comp.Leases.ReleaseAll(releaseCtx)

	d.logger.Info("daemon_stopped")
	return err
}

// serveMetrics exposes the engine instruments plus Go runtime and process
// collectors on a private registry.
func (d *Daemon) serveMetrics(ctx context.Context, addr string) error {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	d.metricsAddr <- ln.Addr().String()
	d.logger.Info("metrics_listening", slog.String("addr", ln.Addr().String()))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Status implements Handler.
func (d *Daemon) Status() StatusResult {
	st := StatusResult{
		Owner:      d.comp.Leases.Owner(),
		LeasesHeld: len(d.comp.Leases.Held()),
	}
	for _, s := range d.schedulers {
		st.Schedulers = append(st.Schedulers, s.Progress().Snapshot())
	}
	for _, p := range d.pools {
		st.Workers = append(st.Workers, WorkerStatus{Kind: p.kind, Queue: p.queue, Handled: p.Handled()})
	}
	return st
}

// Trigger implements Handler.
func (d *Daemon) Trigger(kind string) ([]string, error) {
	var triggered []string
	for _, s := range d.schedulers {
		if kind != "" && s.Kind() != kind {
			continue
		}
		s.Trigger()
		triggered = append(triggered, s.Kind())
	}
	if kind != "" && len(triggered) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return triggered, nil
}
