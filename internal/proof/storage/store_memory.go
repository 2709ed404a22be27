package storage

import (
	"context"
	"sync"
)

// InMemoryObjectStore keeps uploaded objects in a map. Tests and local
// development only.
type InMemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	baseURL string
}

func NewInMemoryObjectStore() *InMemoryObjectStore {
	return &InMemoryObjectStore{
		objects: make(map[string][]byte),
		baseURL: "mem://",
	}
}

func (s *InMemoryObjectStore) Put(_ context.Context, path string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte{}, data...)
	return s.baseURL + path, nil
}

func (s *InMemoryObjectStore) HeadExists(_ context.Context, locator string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[pathFromLocator(locator, s.baseURL)]
	return ok, nil
}

// Get is a test convenience; the pipeline itself never re-downloads.
func (s *InMemoryObjectStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	return data, ok
}

func pathFromLocator(locator, baseURL string) string {
	if len(locator) >= len(baseURL) && locator[:len(baseURL)] == baseURL {
		return locator[len(baseURL):]
	}
	return locator
}
