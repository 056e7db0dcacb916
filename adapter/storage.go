package adapter

import (
	"sync"
)

// Storage is the durable per-session store an adapter keeps its auth state
// in.  The state must survive the authorize redirect round trip, so hosts
// typically back it with their session layer.  An implementation is scoped to
// a single provider instance and must provide read-after-write consistency;
// adapters impose no locking or transaction semantics of their own.
type Storage interface {
	// Get returns the stored value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set stores value under key, replacing any prior value.
	Set(key, value string) error

	// Delete removes key.  Deleting an absent key is not an error.
	Delete(key string) error

	// Clear removes everything stored for this provider instance.  Clearing
	// an empty store is not an error.
	Clear() error
}

// MemoryStorage is a Storage backed by an in-process map.  It is suitable for
// tests and single-process hosts.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string]string),
	}
}

func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string)
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
