package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store for tests and local runs without MinIO.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: map[string][]byte{}, types: map[string]string{}}
}

// Put stores a copy of data.
func (m *Memory) Put(_ context.Context, name string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = append([]byte(nil), data...)
	m.types[name] = contentType
	return m.URL(name), nil
}

// Get returns the stored bytes.
func (m *Memory) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("storage: %s not found", name)
	}
	return append([]byte(nil), data...), nil
}

// Remove deletes name; unknown names are ignored.
func (m *Memory) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	delete(m.types, name)
	return nil
}

// URL returns a memory:// URL for name.
func (m *Memory) URL(name string) string {
	return "memory://" + name
}

// ContentType reports the content type name was stored with.
func (m *Memory) ContentType(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[name]
}

// Len reports how many objects are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
