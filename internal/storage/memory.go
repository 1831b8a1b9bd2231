package storage

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/xerrors"
)

const memoryScheme = "mem://"

type memoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStorage returns a process-local backend, mostly useful for tests.
func NewMemoryStorage() Storage {
	return &memoryStorage{
		objects: make(map[string][]byte),
	}
}

func (m *memoryStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = clone(data)
	return memoryScheme + key, nil
}

func (m *memoryStorage) Create(ctx context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; ok {
		return memoryScheme + key, ErrExist
	}
	m.objects[key] = clone(data)
	return memoryScheme + key, nil
}

func (m *memoryStorage) Lookup(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.objects[key]; !ok {
		return "", ErrNotExist
	}
	return memoryScheme + key, nil
}

func (m *memoryStorage) Get(ctx context.Context, url string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[strings.TrimPrefix(url, memoryScheme)]
	if !ok {
		return nil, xerrors.Errorf("failed to read %s: %w", url, ErrNotExist)
	}
	return clone(data), nil
}

func clone(data []byte) []byte {
	c := make([]byte, len(data))
	copy(c, data)
	return c
}
