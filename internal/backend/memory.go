package backend

import (
	"context"
	"sort"
	"strings"
	"sync"

	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
)

// Memory is an in-process Backend. FailWith lets tests inject failures.
type Memory struct {
	mu      sync.RWMutex
	indices map[string]map[string]Document

	// FailWith, when set, is consulted before every write.
	FailWith func(op, index string) error
}

var _ Backend = (*Memory)(nil)

// NewMemory returns an empty backend.
func NewMemory() *Memory {
	return &Memory{indices: make(map[string]map[string]Document)}
}

func (m *Memory) fail(op, index string) error {
	if m.FailWith == nil {
		return nil
	}
	return m.FailWith(op, index)
}

func (m *Memory) index(name string) (map[string]Document, error) {
	idx, ok := m.indices[name]
	if !ok {
		return nil, rerrors.BackendError("index "+name+" does not exist", true, nil)
	}
	return idx, nil
}

func (m *Memory) CreateIndex(_ context.Context, name string, schema Schema) (bool, error) {
	if err := validIndexName(name); err != nil {
		return false, rerrors.ValidationError(err.Error(), nil)
	}
	if err := schema.Validate(); err != nil {
		return false, rerrors.ValidationError(err.Error(), nil)
	}
	if err := m.fail("create", name); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indices[name]; ok {
		return false, nil
	}
	m.indices[name] = make(map[string]Document)
	return true, nil
}

func (m *Memory) DropIndex(_ context.Context, name string) error {
	if err := m.fail("drop", name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indices, name)
	return nil
}

func (m *Memory) BulkUpsert(_ context.Context, index string, docs []Document) error {
	if err := m.fail("upsert", index); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.index(index)
	if err != nil {
		return err
	}
	for _, d := range docs {
		fields := make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			fields[k] = v
		}
		idx[d.ID] = Document{ID: d.ID, Fields: fields}
	}
	return nil
}

func (m *Memory) BulkDelete(_ context.Context, index string, ids []string) error {
	if err := m.fail("delete", index); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.index(index)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(idx, id)
	}
	return nil
}

func (m *Memory) DeleteByPathPrefix(_ context.Context, index, prefix string) error {
	if err := m.fail("delete_prefix", index); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.index(index)
	if err != nil {
		return err
	}
	for id, d := range idx {
		if strings.HasPrefix(d.Path(), prefix) {
			delete(idx, id)
		}
	}
	return nil
}

func (m *Memory) ListIndices(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name := range m.indices {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Documents returns a copy of an index's documents keyed by id, or nil if
// the index does not exist.
func (m *Memory) Documents(index string) map[string]Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.indices[index]
	if !ok {
		return nil
	}
	out := make(map[string]Document, len(idx))
	for id, d := range idx {
		out[id] = d
	}
	return out
}

func (m *Memory) Close() error { return nil }
