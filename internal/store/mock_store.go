// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject read/write failures

package store

import (
	"context"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	values map[string]string
	writes []map[string]string // every committed write, in order

	// GetErr and SetErr, when set, are returned by the matching operations.
	GetErr error
	SetErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		values: make(map[string]string),
	}
}

// Get retrieves the value for key.
func (m *MockStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetErr != nil {
		return "", m.GetErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores a value.
func (m *MockStore) Set(ctx context.Context, key, value string) error {
	return m.SetMany(ctx, map[string]string{key: value})
}

// SetMany stores all values under one lock.
func (m *MockStore) SetMany(ctx context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SetErr != nil {
		return m.SetErr
	}

	write := make(map[string]string, len(values))
	for k, v := range values {
		m.values[k] = v
		write[k] = v
	}
	m.writes = append(m.writes, write)
	return nil
}

// Remove deletes keys under one lock.
func (m *MockStore) Remove(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SetErr != nil {
		return m.SetErr
	}
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// ClearAll deletes every key.
func (m *MockStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SetErr != nil {
		return m.SetErr
	}
	m.values = make(map[string]string)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// History returns every value written to key, oldest first.
func (m *MockStore) History(key string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, w := range m.writes {
		if v, ok := w[key]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Snapshot returns a copy of all stored values.
func (m *MockStore) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
