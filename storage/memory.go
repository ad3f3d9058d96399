// storage/memory.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/backupforge/forge/chunk"
)

type memoryMetadata struct {
	data    []byte
	created time.Time
}

type memory struct {
	mu    sync.RWMutex
	blobs map[chunk.ID][]byte
	meta  map[string]memoryMetadata
}

// NewMemory returns a Backend that stores all data in RAM.  It's really
// only useful for testing code built on top of Backend, where we may
// want to save the trouble of writing a bunch of stuff to disk.
func NewMemory() Backend {
	return &memory{
		blobs: make(map[chunk.ID][]byte),
		meta:  make(map[string]memoryMetadata),
	}
}

func (m *memory) String() string {
	return "memory"
}

func (m *memory) Put(_ context.Context, id chunk.ID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// First writer wins; an id's record never changes.
	if _, ok := m.blobs[id]; !ok {
		m.blobs[id] = dupe(data)
	}
	return nil
}

func (m *memory) Get(_ context.Context, id chunk.ID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return dupe(b), nil
}

func (m *memory) Exists(_ context.Context, id chunk.ID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[id]
	return ok, nil
}

func (m *memory) Delete(_ context.Context, id chunk.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, id)
	return nil
}

func (m *memory) List(_ context.Context) ([]chunk.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]chunk.ID, 0, len(m.blobs))
	for id := range m.blobs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memory) PutMetadata(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.meta[name]; ok {
		return ErrMetadataExists
	}
	m.meta[name] = memoryMetadata{dupe(data), time.Now()}
	return nil
}

func (m *memory) GetMetadata(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.meta[name]
	if !ok {
		return nil, ErrNotFound
	}
	return dupe(md.data), nil
}

func (m *memory) MetadataExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.meta[name]
	return ok, nil
}

func (m *memory) ListMetadata(_ context.Context) (map[string]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md := make(map[string]time.Time, len(m.meta))
	for name, meta := range m.meta {
		md[name] = meta.created
	}
	return md, nil
}
