package member

import (
	"context"
	"sort"
	"sync"
	"time"

	"memberpass/internal/card/models"
	id "memberpass/pkg/domain"
)

const subscriberBuffer = 64

// InMemoryStore is a member store for dev mode and tests. Every Put is
// announced to subscribers, so it also serves as the MutationSource for an
// in-process deployment.
type InMemoryStore struct {
	mu          sync.RWMutex
	members     map[id.MemberID]models.Member
	subscribers map[chan id.MemberID]struct{}
	clock       func() time.Time
}

type InMemoryOption func(*InMemoryStore)

func WithClock(clock func() time.Time) InMemoryOption {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		members:     make(map[id.MemberID]models.Member),
		subscribers: make(map[chan id.MemberID]struct{}),
		clock:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *InMemoryStore) Get(_ context.Context, memberID id.MemberID) (models.Member, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberID]
	return m, ok, nil
}

// Put inserts or replaces a member and notifies subscribers. A subscriber
// whose buffer is full misses the notification; its cache entry then ages out
// through the TTL.
func (s *InMemoryStore) Put(m models.Member) {
	s.mu.Lock()
	s.members[m.ID] = m
	s.mu.Unlock()
	s.publish(m.ID)
}

// Delete removes a member and notifies subscribers.
func (s *InMemoryStore) Delete(memberID id.MemberID) {
	s.mu.Lock()
	delete(s.members, memberID)
	s.mu.Unlock()
	s.publish(memberID)
}

func (s *InMemoryStore) publish(memberID id.MemberID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- memberID:
		default:
		}
	}
}

// Subscribe streams changed member IDs until ctx is cancelled.
func (s *InMemoryStore) Subscribe(ctx context.Context) (<-chan id.MemberID, error) {
	ch := make(chan id.MemberID, subscriberBuffer)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// ListActiveMemberIDs returns up to limit unexpired members, latest expiry first.
func (s *InMemoryStore) ListActiveMemberIDs(_ context.Context, limit int) ([]id.MemberID, error) {
	now := s.clock()
	s.mu.RLock()
	active := make([]models.Member, 0, len(s.members))
	for _, m := range s.members {
		if !models.ExpiredAt(m.MembershipExpiry, now) {
			active = append(active, m)
		}
	}
	s.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if !active[i].MembershipExpiry.Equal(active[j].MembershipExpiry) {
			return active[i].MembershipExpiry.After(active[j].MembershipExpiry)
		}
		return active[i].ID < active[j].ID
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	ids := make([]id.MemberID, len(active))
	for i, m := range active {
		ids[i] = m.ID
	}
	return ids, nil
}
