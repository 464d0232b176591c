package objstore

import (
	"context"
	"sync"
)

// Memory is an in-process object store.
type Memory struct {
	objectStore

	mu      sync.RWMutex
	objects map[string][]byte
	reads   int
}

var _ ReadWriter = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{objects: make(map[string][]byte)}
	m.blobs = memBlobs{m}
	return m
}

// Reads returns how many objects have been read, for asserting that
// unchanged subtrees are never loaded.
func (m *Memory) Reads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads
}

// Remove deletes an object, simulating a pruned commit or a lost block.
func (m *Memory) Remove(repoID, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range []string{kindCommit, kindDir, kindBlock} {
		delete(m.objects, repoID+"/"+kind+"/"+id)
	}
}

type memBlobs struct {
	m *Memory
}

func (b memBlobs) read(ctx context.Context, repoID, kind, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	b.m.reads++
	data, ok := b.m.objects[repoID+"/"+kind+"/"+id]
	if !ok {
		return nil, notFound(repoID, kind, id, nil)
	}
	return data, nil
}

func (b memBlobs) write(ctx context.Context, repoID, kind, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	b.m.objects[repoID+"/"+kind+"/"+id] = append([]byte(nil), data...)
	return nil
}
