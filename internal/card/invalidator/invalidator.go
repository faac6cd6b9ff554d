// Package invalidator keeps the verification cache consistent with the member
// store by invalidating every member a mutation source reports as changed.
package invalidator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"memberpass/internal/card/ports"
	id "memberpass/pkg/domain"
)

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Cache is the write side of the verification cache.
type Cache interface {
	Invalidate(memberID id.MemberID)
}

// Worker consumes a mutation source and invalidates the cache. When the
// source closes its channel or fails to subscribe, the worker resubscribes
// with exponential backoff.
type Worker struct {
	source ports.MutationSource
	cache  Cache
	logger *slog.Logger
	name   string
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithName labels log lines when several sources run side by side.
func WithName(name string) Option {
	return func(w *Worker) { w.name = name }
}

func New(source ports.MutationSource, cache Cache, opts ...Option) (*Worker, error) {
	if source == nil {
		return nil, errors.New("mutation source is required")
	}
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	w := &Worker{
		source: source,
		cache:  cache,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		name:   "default",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run blocks until ctx is cancelled and then returns ctx.Err().
func (w *Worker) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		changes, err := w.source.Subscribe(ctx)
		if err != nil {
			w.logger.WarnContext(ctx, "mutation source subscribe failed",
				"source", w.name,
				"retry_in", backoff,
				"error", err,
			)
		} else {
			w.logger.InfoContext(ctx, "mutation source subscribed", "source", w.name)
			if w.drain(ctx, changes) > 0 {
				backoff = initialBackoff
			}
			if ctx.Err() == nil {
				w.logger.WarnContext(ctx, "mutation source closed, resubscribing",
					"source", w.name,
					"retry_in", backoff,
				)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// drain invalidates every reported member until the channel closes or ctx ends.
func (w *Worker) drain(ctx context.Context, changes <-chan id.MemberID) int {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case memberID, ok := <-changes:
			if !ok {
				return n
			}
			w.cache.Invalidate(memberID)
			n++
			w.logger.DebugContext(ctx, "member invalidated",
				"source", w.name,
				"member_id", memberID.String(),
			)
		}
	}
}
