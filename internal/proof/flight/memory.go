package flight

import (
	"context"
	"sync"
	"time"

	"sigillum/internal/proof/models"
	"sigillum/pkg/domain"
	"sigillum/pkg/platform/sentinel"
)

// InMemoryStore is the single-process flight store used in tests and when
// Redis is not configured. TTLs are checked lazily on access.
type InMemoryStore struct {
	mu     sync.Mutex
	locks  map[domain.RegistrationKey]time.Time
	states map[domain.RegistrationKey]stateEntry
	now    func() time.Time
}

type stateEntry struct {
	state     models.PipelineState
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		locks:  make(map[domain.RegistrationKey]time.Time),
		states: make(map[domain.RegistrationKey]stateEntry),
		now:    time.Now,
	}
}

func (s *InMemoryStore) Acquire(_ context.Context, key domain.RegistrationKey, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, held := s.locks[key]; held && s.now().Before(expiry) {
		return false, nil
	}
	s.locks[key] = s.now().Add(ttl)
	return true, nil
}

func (s *InMemoryStore) Release(_ context.Context, key domain.RegistrationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

func (s *InMemoryStore) SaveState(_ context.Context, state models.PipelineState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Key] = stateEntry{state: state, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryStore) LoadState(_ context.Context, key domain.RegistrationKey) (models.PipelineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.states[key]
	if !ok || s.now().After(entry.expiresAt) {
		return models.PipelineState{}, sentinel.ErrNotFound
	}
	return entry.state, nil
}
