// Package lease provides TTL-based mutual exclusion across a fleet of
// processes sharing a coordination store.
//
// A Manager acquires keys with "set if absent" semantics and keeps every
// key it holds alive from a background renewal loop, so work of unbounded
// duration stays exclusive while a crashed holder's keys lapse on their
// own.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Aman-CERP/repoindex/internal/metrics"
)

// Defaults carried over from the fleet's historical lock settings.
const (
	DefaultTTL           = 1800 * time.Second
	DefaultRenewInterval = 600 * time.Second
	DefaultKeyPrefix     = "v2_"
)

// Key returns the lease key guarding one repository's work of one kind.
func Key(prefix, kind, repoID string) string {
	return prefix + kind + ":" + repoID
}

// Options configures a Manager.
type Options struct {
	// RenewInterval is how often held leases are extended. It must be
	// shorter than any TTL passed to Acquire.
	RenewInterval time.Duration
	// Owner is written as the value of every acquired key. Defaults to
	// "<hostname>:<uuid>".
	Owner  string
	Logger *slog.Logger
}

// Manager acquires, renews and releases leases for one process.
type Manager struct {
	store         Store
	owner         string
	renewInterval time.Duration
	logger        *slog.Logger

	// held maps key -> time of acquisition.
	held *xsync.MapOf[string, time.Time]
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts Options) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("coordination store is required")
	}
	if opts.RenewInterval <= 0 {
		opts.RenewInterval = DefaultRenewInterval
	}
	if opts.Owner == "" {
		host, _ := os.Hostname()
		opts.Owner = host + ":" + uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Manager{
		store:         store,
		owner:         opts.Owner,
		renewInterval: opts.RenewInterval,
		logger:        opts.Logger,
		held:          xsync.NewMapOf[string, time.Time](),
	}, nil
}

// Owner returns the value this manager writes into acquired keys.
func (m *Manager) Owner() string {
	return m.owner
}

// Acquire tries to take key for ttl. It returns false without error when
// another holder (including this process) already has it.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= m.renewInterval {
		return false, fmt.Errorf("lease ttl %s must exceed renew interval %s", ttl, m.renewInterval)
	}

	ok, err := m.store.SetIfAbsent(ctx, key, m.owner, ttl)
	if err != nil {
		metrics.LeaseAcquisitions.WithLabelValues("error").Inc()
		return false, err
	}
	if !ok {
		metrics.LeaseAcquisitions.WithLabelValues("contended").Inc()
		m.logger.Debug("lease_contended", slog.String("key", key))
		return false, nil
	}

	m.held.Store(key, time.Now())
	metrics.LeaseAcquisitions.WithLabelValues("acquired").Inc()
	metrics.LeasesHeld.Set(float64(m.held.Size()))
	return true, nil
}

// Release deletes key unconditionally and stops renewing it.
func (m *Manager) Release(ctx context.Context, key string) error {
	m.held.Delete(key)
	metrics.LeasesHeld.Set(float64(m.held.Size()))
	return m.store.Delete(ctx, key)
}

// Held returns the keys this manager currently renews.
func (m *Manager) Held() []string {
	keys := make([]string, 0, m.held.Size())
	m.held.Range(func(key string, _ time.Time) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// RenewOnce extends every held lease by the renewal interval on top of its
// remaining lifetime. Keys that vanished from the store are dropped.
// It returns the number of leases extended.
func (m *Manager) RenewOnce(ctx context.Context) int {
	renewed := 0
	for _, key := range m.Held() {
		ttl, err := m.store.TTL(ctx, key)
		if errors.Is(err, ErrNoKey) {
			m.lost(key)
			continue
		}
		if err != nil {
			m.logger.Warn("lease_renew_failed", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		if ttl == NoExpiry {
			continue
		}

		ok, err := m.store.Expire(ctx, key, ttl+m.renewInterval)
		if err != nil {
			m.logger.Warn("lease_renew_failed", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		if !ok {
			m.lost(key)
			continue
		}
		renewed++
	}
	metrics.LeaseRenewals.Add(float64(renewed))
	return renewed
}

func (m *Manager) lost(key string) {
	// Only report keys still tracked; a concurrent Release is not a loss.
	if _, ok := m.held.LoadAndDelete(key); ok {
		m.logger.Warn("lease_lost", slog.String("key", key))
		metrics.LeasesHeld.Set(float64(m.held.Size()))
	}
}

// Run renews held leases every renewal interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.renewInterval)
	defer ticker.Stop()

	m.logger.Info("lease_renewal_started",
		slog.String("owner", m.owner),
		slog.Duration("interval", m.renewInterval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("lease_renewal_stopped", slog.Int("held", m.held.Size()))
			return nil
		case <-ticker.C:
			m.RenewOnce(ctx)
		}
	}
}

// ReleaseAll releases every held lease, for shutdown.
func (m *Manager) ReleaseAll(ctx context.Context) {
	for _, key := range m.Held() {
		if err := m.Release(ctx, key); err != nil {
			m.logger.Warn("lease_release_failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
}
