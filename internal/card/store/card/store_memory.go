package card

import (
	"context"
	"sync"

	"memberpass/internal/card/models"
	id "memberpass/pkg/domain"
	"memberpass/pkg/platform/sentinel"
)

// InMemoryStore keeps issued cards in a map. Used in dev mode and tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	cards map[id.CardID]models.Card
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cards: make(map[id.CardID]models.Card)}
}

// Save inserts or replaces the card.
func (s *InMemoryStore) Save(_ context.Context, card models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[card.ID] = card
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, cardID id.CardID) (models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[cardID]
	if !ok {
		return models.Card{}, sentinel.ErrNotFound
	}
	return card, nil
}
