// Package status persists per-repository index progress.
//
// A Status row records the last commit whose diff was fully applied and,
// while an update is running, the commit it is moving to. A row with a
// target commit left behind by a crash marks the repository for recovery.
package status

import (
	"context"
	"time"
)

// Status is the durable index state of one repository for one index kind.
// Empty strings stand for absent values.
type Status struct {
	RepoID string
	// FromCommit is the last commit whose diff was fully applied.
	FromCommit string
	// ToCommit is set only while an update is in progress.
	ToCommit string
	// AuxWatermark tracks a secondary signal independent of commits.
	AuxWatermark string
	UpdatedAt    time.Time
}

// NeedRecovery reports whether an update was interrupted.
func (s Status) NeedRecovery() bool {
	return s.ToCommit != ""
}

// Store persists Status rows for one index kind.
type Store interface {
	// Get returns the stored status, or a zero Status with RepoID set when
	// the repository has never been indexed.
	Get(ctx context.Context, repoID string) (Status, error)

	// BeginUpdate durably records that an update from fromCommit to
	// toCommit has started. It must return only after the write is durable.
	BeginUpdate(ctx context.Context, repoID, fromCommit, toCommit string) error

	// FinishUpdate sets FromCommit to newCommit and clears ToCommit. An
	// empty watermark keeps the stored one.
	FinishUpdate(ctx context.Context, repoID, newCommit, watermark string) error

	// Delete removes the row. Deleting a missing row is not an error.
	Delete(ctx context.Context, repoID string) error

	// RepoIDs lists every repository with a stored row.
	RepoIDs(ctx context.Context) ([]string, error)

	Close() error
}
