// Package warmer pre-loads the verification cache on a cron schedule, ahead
// of known traffic peaks such as event gates opening.
package warmer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"memberpass/internal/card/cache"
	"memberpass/internal/card/ports"
	id "memberpass/pkg/domain"
)

const defaultLimit = 50_000

// Cache is the warm side of the verification cache.
type Cache interface {
	Warm(ctx context.Context, memberIDs []id.MemberID) cache.WarmReport
}

// Warmer lists the members most likely to present cards and warms them.
type Warmer struct {
	lister   ports.MemberLister
	cache    Cache
	cron     *cron.Cron
	schedule string
	limit    int
	logger   *slog.Logger

	// running guards against overlapping runs when a warm outlasts its interval.
	running sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

type Option func(*Warmer)

// WithCron injects a preconfigured scheduler, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(w *Warmer) {
		if c != nil {
			w.cron = c
		}
	}
}

// WithSchedule sets the cron spec. Empty disables scheduled runs.
func WithSchedule(spec string) Option {
	return func(w *Warmer) { w.schedule = spec }
}

// WithLimit caps how many members one run warms.
func WithLimit(n int) Option {
	return func(w *Warmer) {
		if n > 0 {
			w.limit = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Warmer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func New(lister ports.MemberLister, c Cache, opts ...Option) (*Warmer, error) {
	if lister == nil {
		return nil, errors.New("member lister is required")
	}
	if c == nil {
		return nil, errors.New("cache is required")
	}
	w := &Warmer{
		lister: lister,
		cache:  c,
		limit:  defaultLimit,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.cron == nil {
		w.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w, nil
}

// Start registers the warm job and starts the scheduler. It is a no-op
// without a schedule.
func (w *Warmer) Start() error {
	if w.schedule == "" {
		return nil
	}
	if _, err := w.cron.AddFunc(w.schedule, w.scheduledRun); err != nil {
		return fmt.Errorf("register warm schedule %q: %w", w.schedule, err)
	}
	w.cron.Start()
	w.logger.Info("cache warm scheduled", "schedule", w.schedule, "limit", w.limit)
	return nil
}

// Stop halts the scheduler and cancels a run in progress. The returned
// context is done once running jobs have returned.
func (w *Warmer) Stop() context.Context {
	w.cancel()
	return w.cron.Stop()
}

func (w *Warmer) scheduledRun() {
	if !w.running.TryLock() {
		w.logger.Warn("skipping cache warm, previous run still in progress")
		return
	}
	defer w.running.Unlock()
	if _, err := w.run(w.ctx, w.limit); err != nil {
		w.logger.Warn("scheduled cache warm failed", "error", err)
	}
}

// RunOnce warms up to limit members now. A non-positive limit uses the
// configured one.
func (w *Warmer) RunOnce(ctx context.Context, limit int) (cache.WarmReport, error) {
	if limit <= 0 {
		limit = w.limit
	}
	return w.run(ctx, limit)
}

func (w *Warmer) run(ctx context.Context, limit int) (cache.WarmReport, error) {
	ids, err := w.lister.ListActiveMemberIDs(ctx, limit)
	if err != nil {
		return cache.WarmReport{}, fmt.Errorf("list members to warm: %w", err)
	}
	return w.cache.Warm(ctx, ids), nil
}
