package member

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberpass/internal/card/metrics"
	"memberpass/internal/card/models"
	id "memberpass/pkg/domain"
	"memberpass/pkg/platform/circuit"
)

type flakySource struct {
	*InMemoryStore
	err   error
	calls int
}

func (f *flakySource) Get(ctx context.Context, memberID id.MemberID) (models.Member, bool, error) {
	f.calls++
	if f.err != nil {
		return models.Member{}, false, f.err
	}
	return f.InMemoryStore.Get(ctx, memberID)
}

func TestGuardedStore(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	clock := func() time.Time { return now }

	newGuarded := func() (*GuardedStore, *flakySource, *metrics.Metrics) {
		src := &flakySource{InMemoryStore: NewInMemoryStore(WithClock(clock))}
		src.Put(newMember("M1", fixedNow.AddDate(1, 0, 0)))
		m := metrics.New(prometheus.NewRegistry())
		b := circuit.New("members",
			circuit.WithFailureThreshold(2),
			circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(time.Second),
			circuit.WithClock(clock),
		)
		return NewGuarded(src, b, WithGuardMetrics(m)), src, m
	}

	t.Run("passes lookups through while closed", func(t *testing.T) {
		g, _, _ := newGuarded()
		m, found, err := g.Get(ctx, "M1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, id.MemberID("M1"), m.ID)

		_, found, err = g.Get(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, found, "a missing member is a healthy answer")
	})

	t.Run("opens after consecutive failures and short circuits", func(t *testing.T) {
		g, src, m := newGuarded()
		src.err = errors.New("connection refused")

		for range 2 {
			_, _, err := g.Get(ctx, "M1")
			require.Error(t, err)
		}
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitOpen.WithLabelValues("members")))

		_, _, err := g.Get(ctx, "M1")
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 2, src.calls)
	})

	t.Run("a successful probe closes the circuit", func(t *testing.T) {
		g, src, m := newGuarded()
		src.err = errors.New("connection refused")
		g.Get(ctx, "M1")
		g.Get(ctx, "M1")

		src.err = nil
		now = now.Add(time.Second)
		_, found, err := g.Get(ctx, "M1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitOpen.WithLabelValues("members")))

		ids, err := g.ListActiveMemberIDs(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, []id.MemberID{"M1"}, ids)
	})

	t.Run("cancelled callers do not count as failures", func(t *testing.T) {
		g, src, _ := newGuarded()
		src.err = context.Canceled
		for range 3 {
			g.Get(ctx, "M1")
		}
		assert.False(t, g.breaker.IsOpen())
	})
}
