package engine

import (
	"sort"
)

// ResourceItem is a named slot of the resource store.
type ResourceItem struct {
	// Location identifies where the resource lives, as understood by a Transport.
	Location string `json:"location"`

	// Value is the cached content. It is meaningful only when Populated is true.
	Value any `json:"value,omitempty"`

	// Populated records whether a node has set Value.
	Populated bool `json:"populated"`
}

// ResourceStore maps slot names to resource items.
//
// A store belongs to exactly one run. It is not safe for concurrent mutation;
// stages merge their unit results only after their own fan-in join.
type ResourceStore struct {
	items map[string]*ResourceItem
}

// NewResourceStore creates a store with the given seed locations and no values.
func NewResourceStore(seeds map[string]string) *ResourceStore {
	s := &ResourceStore{items: make(map[string]*ResourceItem, len(seeds))}
	for key, location := range seeds {
		s.items[key] = &ResourceItem{Location: location}
	}
	return s
}

// Declare adds a slot with the given location. Declaring an existing slot
// updates its location and keeps its value.
func (s *ResourceStore) Declare(key, location string) {
	if item, ok := s.items[key]; ok {
		item.Location = location
		return
	}
	s.items[key] = &ResourceItem{Location: location}
}

// Has reports whether the slot is declared.
func (s *ResourceStore) Has(key string) bool {
	_, ok := s.items[key]
	return ok
}

// Get returns a copy of the slot, or a KeyNotFound error.
func (s *ResourceStore) Get(key string) (ResourceItem, error) {
	item, ok := s.items[key]
	if !ok {
		return ResourceItem{}, NewKeyNotFoundError(key)
	}
	return *item, nil
}

// Location returns the slot location, or a KeyNotFound error.
func (s *ResourceStore) Location(key string) (string, error) {
	item, err := s.Get(key)
	if err != nil {
		return "", err
	}
	return item.Location, nil
}

// Value returns the slot value. It fails with KeyNotFound for an undeclared
// slot and with MissingResource for a declared slot that has no value yet.
func (s *ResourceStore) Value(key string) (any, error) {
	item, ok := s.items[key]
	if !ok {
		return nil, NewKeyNotFoundError(key)
	}
	if !item.Populated {
		return nil, NewMissingResourceError(key).WithLocation(item.Location)
	}
	return item.Value, nil
}

// Set overwrites the value of a declared slot.
func (s *ResourceStore) Set(key string, value any) error {
	item, ok := s.items[key]
	if !ok {
		return NewKeyNotFoundError(key)
	}
	item.Value = value
	item.Populated = true
	return nil
}

// Write sets the value of a slot, declaring it first if needed.
// Nodes use Write for their output keys.
func (s *ResourceStore) Write(key string, value any) {
	item, ok := s.items[key]
	if !ok {
		item = &ResourceItem{}
		s.items[key] = item
	}
	item.Value = value
	item.Populated = true
}

// Keys returns the declared slot names in sorted order.
func (s *ResourceStore) Keys() []string {
	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of declared slots.
func (s *ResourceStore) Len() int {
	return len(s.items)
}

// Snapshot returns a copy of every slot.
func (s *ResourceStore) Snapshot() map[string]ResourceItem {
	out := make(map[string]ResourceItem, len(s.items))
	for key, item := range s.items {
		out[key] = *item
	}
	return out
}
