package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	body     []byte
	modified time.Time
	metadata map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// PutWithMetadata stores an object with user metadata and a fixed
// modification time. Test seeding helper.
func (m *MemoryStore) PutWithMetadata(key string, body []byte, metadata map[string]string, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[strings.ToLower(k)] = v
	}
	m.objects[key] = memoryObject{body: body, modified: modified, metadata: meta}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ObjectInfo{}, ErrNotFound
	}
	body := make([]byte, len(obj.body))
	copy(body, obj.body)
	return body, m.info(key, obj), nil
}

func (m *MemoryStore) Head(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return m.info(key, obj), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(body))
	copy(stored, body)
	m.objects[key] = memoryObject{body: stored, modified: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, prefix string, since time.Time) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var infos []ObjectInfo
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) || obj.modified.Before(since) {
			continue
		}
		infos = append(infos, m.info(key, obj))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", ErrNotFound
	}
	return fmt.Sprintf("https://objects.invalid/%s?signed=1", key), nil
}

// Exists reports whether a key is present. Test helper.
func (m *MemoryStore) Exists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

func (m *MemoryStore) info(key string, obj memoryObject) ObjectInfo {
	meta := make(map[string]string, len(obj.metadata))
	for k, v := range obj.metadata {
		meta[k] = v
	}
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.body)),
		LastModified: obj.modified,
		Metadata:     meta,
	}
}
