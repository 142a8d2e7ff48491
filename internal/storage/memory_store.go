package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory ObjectStore. It backs the artifact cache in
// tests and when no cache directory is writable.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
	puts    int
	gets    int
}

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*Object)}
}

// Put stores a copy of obj.
func (m *MemoryStore) Put(_ context.Context, obj *Object) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++

	hash := obj.Hash
	if hash == "" {
		h := sha256.Sum256(obj.Data)
		hash = hex.EncodeToString(h[:])
	}

	if existing, ok := m.objects[hash]; ok {
		existing.Metadata.RefCount++
		existing.Metadata.LastAccessed = time.Now()
		return hash, nil
	}

	now := time.Now()
	stored := &Object{
		Hash: hash,
		Type: obj.Type,
		Size: int64(len(obj.Data)),
		Data: append([]byte(nil), obj.Data...),
		Metadata: Metadata{
			CreatedAt:    now,
			LastAccessed: now,
			RefCount:     1,
			Custom:       make(map[string]string, len(obj.Metadata.Custom)),
		},
	}
	maps.Copy(stored.Metadata.Custom, obj.Metadata.Custom)
	m.objects[hash] = stored
	return hash, nil
}

// Get returns a copy of the stored object.
func (m *MemoryStore) Get(_ context.Context, hash string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++

	obj, ok := m.objects[hash]
	if !ok {
		return nil, ErrNotFound{Hash: hash}
	}
	obj.Metadata.LastAccessed = time.Now()

	out := *obj
	out.Data = append([]byte(nil), obj.Data...)
	out.Metadata.Custom = maps.Clone(obj.Metadata.Custom)
	return &out, nil
}

// Exists checks if an object with the given hash exists.
func (m *MemoryStore) Exists(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[hash]
	return ok, nil
}

// Delete removes an object by hash.
func (m *MemoryStore) Delete(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[hash]; !ok {
		return ErrNotFound{Hash: hash}
	}
	delete(m.objects, hash)
	return nil
}

// List returns the sorted hashes of objects of the given type, or all objects.
func (m *MemoryStore) List(_ context.Context, objectType ObjectType) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hashes []string
	for hash, obj := range m.objects {
		if objectType == "" || obj.Type == objectType {
			hashes = append(hashes, hash)
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// Stats returns the number of Put and Get calls.
func (m *MemoryStore) Stats() (puts, gets int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts, m.gets
}
