// Package docstore holds the document objects an index refers to by key:
// flat field maps stored outside the index. Removing a document from an
// index never requires its object to exist here; the engine only removes
// objects on explicit request.
package docstore

import (
	"context"
	"maps"
	"sync"
)

// Store reads and writes document objects.
type Store interface {
	// Put creates or overwrites the fields of the object at key.
	Put(ctx context.Context, key string, fields map[string]string) error
	// Get returns the object at key, or ok=false when it does not exist.
	Get(ctx context.Context, key string) (fields map[string]string, ok bool, err error)
	// Delete removes the object at key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
}

// Listener observes object changes, the source of membership for
// rule-governed indexes.
type Listener interface {
	OnKeySet(ctx context.Context, key string, fields map[string]string) error
	OnKeyDeleted(ctx context.Context, key string) error
}

// MemoryStore is a Store kept in process memory. Listeners are called
// synchronously after each change, outside the store's lock.
type MemoryStore struct {
	mu       sync.RWMutex
	objects  map[string]map[string]string
	listener Listener
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]map[string]string)}
}

// SetListener installs l. Passing nil removes it.
func (s *MemoryStore) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *MemoryStore) Put(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	obj, ok := s.objects[key]
	if !ok {
		obj = make(map[string]string, len(fields))
		s.objects[key] = obj
	}
	maps.Copy(obj, fields)
	snapshot := maps.Clone(obj)
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		return l.OnKeySet(ctx, key, snapshot)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (map[string]string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(obj), true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	_, ok := s.objects[key]
	delete(s.objects, key)
	l := s.listener
	s.mu.Unlock()
	if ok && l != nil {
		return true, l.OnKeyDeleted(ctx, key)
	}
	return ok, nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
