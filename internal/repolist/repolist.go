// Package repolist lists the repositories to index.
package repolist

import (
	"context"
)

// Repo is one live repository.
type Repo struct {
	ID         string
	HeadCommit string
	Type       string
	Name       string
}

// Lister pages through live repositories.
type Lister interface {
	// ListRepos returns up to limit repositories ordered by id, starting
	// at offset. A short page is the last one.
	ListRepos(ctx context.Context, offset, limit int) ([]Repo, error)

	// VirtualRepos returns the subset of ids that are virtual repositories,
	// mirrors of a path inside another repository.
	VirtualRepos(ctx context.Context, ids []string) (map[string]struct{}, error)

	// HeadCommit returns the current head of a repository.
	HeadCommit(ctx context.Context, repoID string) (string, error)
}
