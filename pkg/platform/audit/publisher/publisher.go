// Package publisher stamps audit events with request metadata and hands them
// to an audit.Store, either inline or through a bounded background buffer.
package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "memberpass/pkg/platform/audit"
	"memberpass/pkg/requestcontext"
)

var (
	// ErrBufferFull is returned by an async publisher that cannot queue an event.
	ErrBufferFull = errors.New("audit buffer full")
	ErrClosed     = errors.New("audit publisher closed")
)

var eventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "memberpass_audit_events_total",
	Help: "Audit events by action and outcome",
}, []string{"action", "outcome"}) // outcome: "stored", "failed", "dropped"

// Publisher writes synchronously unless built WithAsyncBuffer. Async mode
// trades the fail-closed guarantee for never blocking the caller; Close
// drains whatever is queued.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	buffer chan audit.Event
	wg     sync.WaitGroup
}

type Option func(*Publisher)

// WithAsyncBuffer queues up to size events for a background writer.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records event. Missing ID, timestamp, actor and request ID are taken
// from ctx. A synchronous publisher returns the store error.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Action == "" {
		return errors.New("audit event requires an action")
	}
	event = enrich(ctx, event)

	if p.buffer == nil {
		return p.write(ctx, event)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		eventsEmitted.WithLabelValues(event.Action.String(), "dropped").Inc()
		p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action.String())
		return ErrBufferFull
	}
}

// List returns stored events, newest first.
func (p *Publisher) List(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	return p.store.List(ctx, filter)
}

// Close stops an async publisher after writing every queued event.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if p.buffer != nil {
			close(p.buffer)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		// Request contexts are gone by now; bound each write on its own.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = p.write(ctx, event)
		cancel()
	}
}

func (p *Publisher) write(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		eventsEmitted.WithLabelValues(event.Action.String(), "failed").Inc()
		p.logger.ErrorContext(ctx, "failed to store audit event",
			"action", event.Action.String(),
			"member_id", event.MemberID.String(),
			"error", err,
		)
		return err
	}
	eventsEmitted.WithLabelValues(event.Action.String(), "stored").Inc()
	return nil
}

func enrich(ctx context.Context, event audit.Event) audit.Event {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.ActorID == "" {
		event.ActorID = requestcontext.Subject(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	return event
}
