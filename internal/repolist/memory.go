package repolist

import (
	"context"
	"sort"
	"sync"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// Memory is an in-process Lister.
type Memory struct {
	mu      sync.RWMutex
	repos   map[string]Repo
	virtual map[string]struct{}

	failAt   int
	failLeft int
	failErr  error
}

var _ Lister = (*Memory)(nil)

// NewMemory returns an empty Lister.
func NewMemory() *Memory {
	return &Memory{repos: map[string]Repo{}, virtual: map[string]struct{}{}, failAt: -1}
}

// Put adds or replaces a repository.
func (m *Memory) Put(r Repo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[r.ID] = r
}

// Remove deletes a repository.
func (m *Memory) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.repos, id)
	delete(m.virtual, id)
}

// MarkVirtual flags a repository as a virtual mirror.
func (m *Memory) MarkVirtual(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.virtual[id] = struct{}{}
}

// FailPage makes the page starting at offset fail with err.
func (m *Memory) FailPage(offset int, err error) {
	m.FailPageTimes(offset, -1, err)
}

// FailPageTimes makes the next n reads of the page starting at offset fail
// with err. A negative n fails every read.
func (m *Memory) FailPageTimes(offset, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt, m.failLeft, m.failErr = offset, n, err
}

func (m *Memory) ListRepos(ctx context.Context, offset, limit int) ([]Repo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset == m.failAt && m.failLeft != 0 {
		if m.failLeft > 0 {
			m.failLeft--
		}
		return nil, m.failErr
	}

	ids := make([]string, 0, len(m.repos))
	for id := range m.repos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if offset >= len(ids) {
		return nil, nil
	}
	end := min(offset+limit, len(ids))

	out := make([]Repo, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, m.repos[id])
	}
	return out, nil
}

func (m *Memory) VirtualRepos(_ context.Context, ids []string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := m.virtual[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *Memory) HeadCommit(_ context.Context, repoID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[repoID]
	if !ok {
		return "", rerrors.NotFound("repository "+repoID+" not found", nil).WithDetail("repo_id", repoID)
	}
	return r.HeadCommit, nil
}
