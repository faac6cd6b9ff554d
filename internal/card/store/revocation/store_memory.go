package revocation

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps revocations for the life of the process.
type InMemoryStore struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	clock   Clock
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{revoked: make(map[string]time.Time), clock: time.Now}
}

// Revoke is idempotent; the first revocation time is kept.
func (s *InMemoryStore) Revoke(_ context.Context, cardNumber string) error {
	if err := validateCardNumber(cardNumber); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revoked[cardNumber]; !ok {
		s.revoked[cardNumber] = s.clock()
	}
	return nil
}

func (s *InMemoryStore) IsRevoked(_ context.Context, cardNumber string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[cardNumber]
	return ok, nil
}
