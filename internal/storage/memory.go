package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps blobs in process memory. Used by tests and as the
// "memory" backend for throwaway deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.objects[cleanKey] = Object{Data: cp, ContentType: contentType}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return Object{}, err
	}
	s.mu.RLock()
	obj, ok := s.objects[cleanKey]
	s.mu.RUnlock()
	if !ok {
		return Object{}, ErrNotFound
	}
	return obj, nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
