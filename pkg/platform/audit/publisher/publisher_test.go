package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "memberpass/pkg/domain"
	audit "memberpass/pkg/platform/audit"
	"memberpass/pkg/platform/audit/store/memory"
	"memberpass/pkg/requestcontext"
)

type failingStore struct {
	*memory.InMemoryStore
}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("disk full")
}

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Action:   audit.ActionCardIssued,
		MemberID: "M1",
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), audit.Filter{MemberID: "M1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionCardIssued, events[0].Action)
}

func TestPublisher_SyncModeFailsClosed(t *testing.T) {
	pub := NewPublisher(failingStore{memory.NewInMemoryStore()})
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionCardRevoked})
	assert.Error(t, err)
}

func TestPublisher_RequiresAction(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore())
	defer pub.Close()
	assert.Error(t, pub.Emit(context.Background(), audit.Event{MemberID: "M1"}))
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			Action:   audit.ActionMemberInvalidated,
			MemberID: "M1",
		})
		require.NoError(t, err)
	}

	require.NoError(t, pub.Close())

	events, err := store.List(context.Background(), audit.Filter{MemberID: "M1"})
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")

	err = pub.Emit(context.Background(), audit.Event{Action: audit.ActionCacheWarmed})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, pub.Close(), "close is idempotent")
}

func TestPublisher_BufferFullDropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionCacheWarmed})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		})
	}
	wg.Wait()
}

func TestPublisher_EnrichesFromRequestContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithSubject(ctx, "ops@example.org")
	ctx = requestcontext.WithRequestID(ctx, "req-42")

	require.NoError(t, pub.Emit(ctx, audit.Event{Action: audit.ActionCardRevoked, MemberID: "M1"}))

	events, err := pub.List(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	e := events[0]
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, "ops@example.org", e.ActorID)
	assert.Equal(t, "req-42", e.RequestID)
}

func TestPublisher_PreservesExistingFields(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithSubject(context.Background(), "someone-else")
	require.NoError(t, pub.Emit(ctx, audit.Event{
		Action:    audit.ActionCacheWarmed,
		Timestamp: custom,
		ActorID:   "scheduler",
	}))

	events, err := pub.List(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, custom, events[0].Timestamp)
	assert.Equal(t, "scheduler", events[0].ActorID)
}

func TestInMemoryStore_ListNewestFirst(t *testing.T) {
	store := memory.NewInMemoryStoreWithCapacity(3)
	ctx := context.Background()
	for _, m := range []id.MemberID{"M1", "M2", "M1", "M3"} {
		require.NoError(t, store.Append(ctx, audit.Event{Action: audit.ActionCardIssued, MemberID: m}))
	}

	all, err := store.List(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3, "oldest event dropped at capacity")
	assert.Equal(t, []id.MemberID{"M3", "M1", "M2"}, []id.MemberID{all[0].MemberID, all[1].MemberID, all[2].MemberID})

	m1, err := store.List(ctx, audit.Filter{MemberID: "M1"})
	require.NoError(t, err)
	assert.Len(t, m1, 1)

	limited, err := store.List(ctx, audit.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, id.MemberID("M3"), limited[0].MemberID)
}
