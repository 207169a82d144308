package transports

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process transport. Locations are keyed without their
// "mem://" prefix, so "mem://a" and "a" name the same object.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory transport.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put stores content at location. Used to seed resources.
func (m *Memory) Put(location string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[StripScheme(location)] = append([]byte(nil), content...)
}

// Fetch returns a copy of the content at location.
func (m *Memory) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.objects[StripScheme(location)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, location)
	}
	return append([]byte(nil), content...), nil
}

// Store replaces the content at location.
func (m *Memory) Store(ctx context.Context, content []byte, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Put(location, content)
	return nil
}

// Locations returns every stored location, sorted.
func (m *Memory) Locations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.objects))
	for loc := range m.objects {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
