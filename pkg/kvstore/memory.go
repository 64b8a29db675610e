package kvstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used in tests and as a fallback when no
// durable medium is wired.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

func (s *MemoryStore) Get(_ context.Context, key string, v any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}
