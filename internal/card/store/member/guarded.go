package member

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"memberpass/internal/card/metrics"
	"memberpass/internal/card/models"
	"memberpass/internal/card/ports"
	id "memberpass/pkg/domain"
	"memberpass/pkg/platform/circuit"
)

// ErrCircuitOpen is returned without calling the store while the breaker is open.
var ErrCircuitOpen = errors.New("member store circuit open")

type guardedSource interface {
	ports.MemberLookup
	ports.MemberLister
}

// GuardedStore wraps the member system of record with a circuit breaker so a
// failing database is answered with ErrCircuitOpen instead of piling up
// lookups until each one times out.
type GuardedStore struct {
	next    guardedSource
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type GuardOption func(*GuardedStore)

func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *GuardedStore) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithGuardMetrics(m *metrics.Metrics) GuardOption {
	return func(g *GuardedStore) { g.metrics = m }
}

func NewGuarded(next guardedSource, breaker *circuit.Breaker, opts ...GuardOption) *GuardedStore {
	g := &GuardedStore{
		next:    next,
		breaker: breaker,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *GuardedStore) Get(ctx context.Context, memberID id.MemberID) (models.Member, bool, error) {
	if !g.breaker.Allow() {
		return models.Member{}, false, ErrCircuitOpen
	}
	m, found, err := g.next.Get(ctx, memberID)
	g.record(ctx, err)
	return m, found, err
}

func (g *GuardedStore) ListActiveMemberIDs(ctx context.Context, limit int) ([]id.MemberID, error) {
	if !g.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	ids, err := g.next.ListActiveMemberIDs(ctx, limit)
	g.record(ctx, err)
	return ids, err
}

func (g *GuardedStore) record(ctx context.Context, err error) {
	// A caller walking away says nothing about the store's health.
	if errors.Is(err, context.Canceled) {
		return
	}
	if err == nil {
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.metrics.SetCircuitOpen(g.breaker.Name(), false)
			g.logger.InfoContext(ctx, "member store circuit closed", "breaker", g.breaker.Name())
		}
		return
	}
	if _, change := g.breaker.RecordFailure(); change.Opened {
		g.metrics.SetCircuitOpen(g.breaker.Name(), true)
		g.logger.ErrorContext(ctx, "member store circuit opened",
			"breaker", g.breaker.Name(),
			"error", err,
		)
	}
}
