package memory

import (
	"context"
	"sync"

	apperrors "github.com/utafrali/cartstore/pkg/errors"
)

// Store implements blob.Store using an in-memory map. Values are copied on the
// way in and out so callers cannot alias stored bytes.
type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// New creates an empty in-memory blob store.
func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.blobs[key]
	if !ok {
		return nil, apperrors.NotFound("blob", key)
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under key.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blobs[key] = append([]byte(nil), value...)
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
