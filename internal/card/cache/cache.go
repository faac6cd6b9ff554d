// Package cache implements the verification cache: a sharded, TTL-bounded,
// LRU-capped read-through cache of member snapshots keyed by member ID.
//
// Concurrent misses for one key share a single store lookup (single flight).
// Each lookup is tagged with a generation; Invalidate retires the generation of
// any lookup in flight for the key, and a lookup whose generation was retired
// hands its result to the callers already waiting on it but never stores it.
// After Invalidate(k) returns, every later Get(k) starts a fresh lookup.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"memberpass/internal/card/metrics"
	"memberpass/internal/card/models"
	"memberpass/internal/card/ports"
	id "memberpass/pkg/domain"
	dErrors "memberpass/pkg/domain-errors"
	"memberpass/pkg/platform/sentinel"
)

const (
	DefaultTTL           = time.Minute
	DefaultMaxEntries    = 100_000
	DefaultLookupTimeout = 2 * time.Second

	defaultShards          = 64
	defaultWarmConcurrency = 16
	defaultWarmRate        = rate.Limit(500)
	defaultWarmBurst       = 50

	// lookupAttempts is one try plus one retry on timeout.
	lookupAttempts = 2
)

// Clock returns the current time. Injected for TTL tests.
type Clock func() time.Time

// Cache is safe for concurrent use.
type Cache struct {
	loader        ports.MemberLookup
	ttl           time.Duration
	maxEntries    int
	lookupTimeout time.Duration
	clock         Clock
	logger        *slog.Logger
	metrics       *metrics.Metrics

	warmConcurrency int
	warmLimiter     *rate.Limiter

	shards  []*shard
	group   singleflight.Group
	nextGen atomic.Uint64
	// size counts stored entries plus reserved slots and never exceeds
	// maxEntries. tick orders accesses across shards for LRU eviction.
	size atomic.Int64
	tick atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long a loaded member may be served.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithMaxEntries caps the number of cached members.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithLookupTimeout bounds each member store call made on a miss.
func WithLookupTimeout(d time.Duration) Option {
	return func(c *Cache) { c.lookupTimeout = d }
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithWarmPacing bounds Warm to concurrency parallel loads started at no more
// than perSecond per second.
func WithWarmPacing(concurrency int, perSecond float64) Option {
	return func(c *Cache) {
		if concurrency > 0 {
			c.warmConcurrency = concurrency
		}
		if perSecond > 0 {
			burst := int(perSecond / 10)
			if burst < 1 {
				burst = 1
			}
			c.warmLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// New builds a cache that loads misses through loader.
func New(loader ports.MemberLookup, opts ...Option) (*Cache, error) {
	if loader == nil {
		return nil, errors.New("member lookup is required")
	}
	c := &Cache{
		loader:          loader,
		ttl:             DefaultTTL,
		maxEntries:      DefaultMaxEntries,
		lookupTimeout:   DefaultLookupTimeout,
		clock:           time.Now,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		warmConcurrency: defaultWarmConcurrency,
		warmLimiter:     rate.NewLimiter(defaultWarmRate, defaultWarmBurst),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", c.ttl)
	}
	if c.maxEntries < 1 {
		return nil, fmt.Errorf("cache max entries must be at least 1, got %d", c.maxEntries)
	}
	if c.lookupTimeout <= 0 {
		return nil, fmt.Errorf("lookup timeout must be positive, got %s", c.lookupTimeout)
	}
	c.shards = newShards(defaultShards)
	return c, nil
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{
			items:   make(map[id.MemberID]*list.Element),
			lru:     list.New(),
			pending: make(map[id.MemberID]uint64),
		}
	}
	return shards
}

// Get returns the member for memberID, loading it on a miss. The boolean
// reports a cache hit. Errors carry CodeMemberNotFound, CodeLookupTimeout or
// CodeUnavailable. If ctx ends first Get returns ctx.Err() while the shared
// lookup keeps running for the other waiters.
func (c *Cache) Get(ctx context.Context, memberID id.MemberID) (models.Member, bool, error) {
	s := c.shardFor(memberID)
	if m, ok := c.lookup(s, memberID); ok {
		c.metrics.IncrementCacheLookup(true)
		return m, true, nil
	}
	c.metrics.IncrementCacheLookup(false)

	// The lookup must outlive the caller that happened to start it.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(string(memberID), func() (any, error) {
		return c.load(loadCtx, s, memberID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return models.Member{}, false, res.Err
		}
		return res.Val.(models.Member), false, nil
	case <-ctx.Done():
		return models.Member{}, false, ctx.Err()
	}
}

// Invalidate drops memberID and retires any lookup in flight for it.
func (c *Cache) Invalidate(memberID id.MemberID) {
	s := c.shardFor(memberID)
	s.mu.Lock()
	if el, ok := s.items[memberID]; ok {
		s.remove(el)
		c.size.Add(-1)
		c.metrics.AddCacheEntries(-1)
	}
	delete(s.pending, memberID)
	s.mu.Unlock()
	c.group.Forget(string(memberID))
	c.metrics.IncrementInvalidation()
}

// Len returns the number of cached entries, including expired ones not yet
// reclaimed.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.Len()
		s.mu.Unlock()
	}
	return n
}

// load runs once per flight. It re-checks the cache because a previous flight
// for the same key may have completed between the caller's miss and this call.
func (c *Cache) load(ctx context.Context, s *shard, memberID id.MemberID) (models.Member, error) {
	if m, ok := c.lookup(s, memberID); ok {
		return m, nil
	}

	gen := c.nextGen.Add(1)
	s.mu.Lock()
	s.pending[memberID] = gen
	s.mu.Unlock()

	member, err := c.fetch(ctx, memberID)

	// A slot is reserved before taking the shard lock: making room may lock
	// other shards.
	reserved := false
	if err == nil && !s.contains(memberID) {
		c.reserve()
		reserved = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, registered := s.pending[memberID]
	live := registered && current == gen
	if live {
		delete(s.pending, memberID)
	}
	stored := false
	defer func() {
		if reserved && !stored {
			c.size.Add(-1)
		}
	}()
	if err != nil {
		return models.Member{}, err
	}
	if !live {
		c.metrics.IncrementDiscardedLoad()
		c.logger.DebugContext(ctx, "discarding member load invalidated in flight",
			"member_id", memberID.String(),
		)
		return member, nil
	}
	if s.put(memberID, member, c.clock(), c.tick.Add(1)) {
		if !reserved {
			// Raced with an eviction after the contains check.
			s.remove(s.items[memberID])
			return member, nil
		}
		stored = true
		c.metrics.AddCacheEntries(1)
	}
	return member, nil
}

// lookup returns a fresh entry, reclaiming it when it has expired.
func (c *Cache) lookup(s *shard, key id.MemberID) (models.Member, bool) {
	m, ok, expired := s.get(key, c.clock(), c.ttl, c.tick.Add(1))
	if expired {
		c.size.Add(-1)
		c.metrics.AddCacheEntries(-1)
	}
	return m, ok
}

// reserve claims one slot of capacity, evicting the least recently used
// entry of the whole cache while it is full.
func (c *Cache) reserve() {
	limit := int64(c.maxEntries)
	for {
		n := c.size.Load()
		if n < limit {
			if c.size.CompareAndSwap(n, n+1) {
				return
			}
			continue
		}
		if !c.evictOldest() {
			// Every slot is reserved by a load that has not stored yet.
			runtime.Gosched()
		}
	}
}

// evictOldest removes the entry with the oldest access across all shards.
func (c *Cache) evictOldest() bool {
	var victim *shard
	var oldest uint64
	for _, s := range c.shards {
		s.mu.Lock()
		if back := s.lru.Back(); back != nil {
			if used := back.Value.(*entry).usedAt; victim == nil || used < oldest {
				victim, oldest = s, used
			}
		}
		s.mu.Unlock()
	}
	if victim == nil {
		return false
	}
	victim.mu.Lock()
	back := victim.lru.Back()
	if back == nil {
		victim.mu.Unlock()
		return false
	}
	victim.remove(back)
	victim.mu.Unlock()
	c.size.Add(-1)
	c.metrics.AddCacheEntries(-1)
	c.metrics.IncrementEviction()
	return true
}

// fetch calls the member store with a bounded timeout, retrying once when the
// store times out. A timeout is never reported as a missing member.
func (c *Cache) fetch(ctx context.Context, memberID id.MemberID) (models.Member, error) {
	var lastErr error
	for attempt := 1; attempt <= lookupAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
		member, found, err := c.loader.Get(callCtx, memberID)
		cancel()

		switch {
		case err == nil && !found:
			c.metrics.IncrementCacheLoad("not_found")
			return models.Member{}, dErrors.New(dErrors.CodeMemberNotFound, "member not found")
		case err == nil:
			c.metrics.IncrementCacheLoad("ok")
			return member, nil
		case sentinel.IsTimeout(err):
			c.metrics.IncrementCacheLoad("timeout")
			c.logger.WarnContext(ctx, "member lookup timed out",
				"member_id", memberID.String(),
				"attempt", attempt,
				"timeout", c.lookupTimeout,
			)
			lastErr = err
		default:
			c.metrics.IncrementCacheLoad("error")
			c.logger.ErrorContext(ctx, "member lookup failed",
				"member_id", memberID.String(),
				"error", err,
			)
			return models.Member{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "member lookup failed")
		}
	}
	return models.Member{}, dErrors.Wrap(lastErr, dErrors.CodeLookupTimeout, "member lookup timed out")
}

func (c *Cache) shardFor(key id.MemberID) *shard {
	// FNV-1a, inlined to keep the hot path allocation free.
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return c.shards[h%uint32(len(c.shards))]
}

type entry struct {
	key        id.MemberID
	member     models.Member
	insertedAt time.Time
	usedAt     uint64
}

// shard owns a slice of the key space. The front of lru is most recently used.
type shard struct {
	mu    sync.Mutex
	items map[id.MemberID]*list.Element
	lru   *list.List
	// pending maps a key to the generation of its live in-flight lookup.
	pending map[id.MemberID]uint64
}

// get returns a fresh entry and marks it used at tick. Entries at or past
// their TTL are removed and reported as expired.
func (s *shard) get(key id.MemberID, now time.Time, ttl time.Duration, tick uint64) (m models.Member, ok, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, found := s.items[key]
	if !found {
		return models.Member{}, false, false
	}
	e := el.Value.(*entry)
	if now.Sub(e.insertedAt) >= ttl {
		s.remove(el)
		return models.Member{}, false, true
	}
	e.usedAt = tick
	s.lru.MoveToFront(el)
	return e.member, true, false
}

func (s *shard) contains(key id.MemberID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	return ok
}

// put stores or refreshes key and reports whether a new entry was added.
// Must be called with s.mu held.
func (s *shard) put(key id.MemberID, member models.Member, now time.Time, tick uint64) bool {
	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		e.member = member
		e.insertedAt = now
		e.usedAt = tick
		s.lru.MoveToFront(el)
		return false
	}
	s.items[key] = s.lru.PushFront(&entry{key: key, member: member, insertedAt: now, usedAt: tick})
	return true
}

// remove must be called with s.mu held.
func (s *shard) remove(el *list.Element) {
	e := s.lru.Remove(el).(*entry)
	delete(s.items, e.key)
}
