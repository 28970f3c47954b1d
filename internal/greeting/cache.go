// Package greeting caches the opening line an NPC says when dialogue opens.
//
// Greetings are keyed by NPC role, location and time-of-day bucket, expire
// after a TTL and are fetched at most once per key at a time: a caller that
// finds a fetch already in flight waits for it (bounded) instead of issuing
// a duplicate request. Failed fetches are never cached.
package greeting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/internal/observe"
)

// Defaults for [New].
const (
	DefaultTTL                 = 5 * time.Minute
	DefaultWaitAttempts        = 20
	DefaultWaitInterval        = 100 * time.Millisecond
	DefaultPrefetchConcurrency = 4
	DefaultFetchTimeout        = 30 * time.Second
)

// Lookup results reported to metrics.
const (
	resultHit     = "hit"
	resultWaitHit = "wait_hit"
	resultMiss    = "miss"
)

// Option configures a [Cache].
type Option func(*Cache)

// WithTTL sets how long an entry stays fresh.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithWait sets how often and how long Get polls for a pending fetch before
// fetching on its own.
func WithWait(attempts int, interval time.Duration) Option {
	return func(c *Cache) {
		if attempts >= 0 {
			c.waitAttempts = attempts
		}
		if interval > 0 {
			c.waitInterval = interval
		}
	}
}

// WithClock replaces time.Now. The clock also selects the time-of-day bucket.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithPrefetchConcurrency bounds the parallel fetches of PrefetchAll.
func WithPrefetchConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithFetchTimeout bounds background fetches started by Prefetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is a greeting cache with claim-before-fetch deduplication. It is
// safe for concurrent use.
type Cache struct {
	fetcher      Fetcher
	ttl          time.Duration
	waitAttempts int
	waitInterval time.Duration
	concurrency  int
	fetchTimeout time.Duration
	now          func() time.Time
	log          *slog.Logger
	metrics      *observe.Metrics

	mu      sync.Mutex
	entries map[Key]Entry
	pending map[Key]struct{}

	bg sync.WaitGroup
}

// New returns a Cache that fills misses from f.
func New(f Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:      f,
		ttl:          DefaultTTL,
		waitAttempts: DefaultWaitAttempts,
		waitInterval: DefaultWaitInterval,
		concurrency:  DefaultPrefetchConcurrency,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		entries:      make(map[Key]Entry),
		pending:      make(map[Key]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Prefetch starts a background fetch for who unless a fresh entry exists or a
// fetch for the same key is already pending. It never blocks.
func (c *Cache) Prefetch(who npc.Descriptor) {
	key := KeyFor(who, c.now())
	if !c.claim(key) {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
		defer cancel()
		if _, err := c.fetch(ctx, key, who, true); err != nil {
			c.log.Warn("greeting prefetch failed", "key", key.String(), "err", err)
		}
	}()
}

// PrefetchAll warms the cache for every NPC in npcs with at most the
// configured number of fetches in flight. Keys that are fresh or pending are
// skipped. It returns the first fetch error; other fetches still complete.
func (c *Cache) PrefetchAll(ctx context.Context, npcs []npc.Descriptor) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, who := range npcs {
		key := KeyFor(who, c.now())
		if !c.claim(key) {
			continue
		}
		g.Go(func() error {
			_, err := c.fetch(gctx, key, who, true)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("greeting: prefetch: %w", err)
	}
	return nil
}

// Get returns the greeting for who. cached reports whether the text came
// from the cache (directly or by waiting on another caller's fetch) rather
// than from a fetch made by this call.
func (c *Cache) Get(ctx context.Context, who npc.Descriptor) (text string, cached bool, err error) {
	key := KeyFor(who, c.now())

	c.mu.Lock()
	if e, ok := c.freshLocked(key); ok {
		c.mu.Unlock()
		c.metrics.RecordGreetingLookup(ctx, resultHit)
		return e.Text, true, nil
	}
	_, inFlight := c.pending[key]
	claimed := false
	if !inFlight {
		c.pending[key] = struct{}{}
		claimed = true
	}
	c.mu.Unlock()

	if inFlight {
		e, ok, err := c.wait(ctx, key)
		if err != nil {
			return "", false, err
		}
		if ok {
			c.metrics.RecordGreetingLookup(ctx, resultWaitHit)
			return e.Text, true, nil
		}
		claimed = c.claim(key)
	}

	c.metrics.RecordGreetingLookup(ctx, resultMiss)
	text, err = c.fetch(ctx, key, who, claimed)
	if err != nil {
		return "", false, err
	}
	return text, false, nil
}

// wait polls for a pending fetch to land. ok is false when the attempts run
// out or the pending fetch ended without an entry.
func (c *Cache) wait(ctx context.Context, key Key) (Entry, bool, error) {
	t := time.NewTimer(c.waitInterval)
	defer t.Stop()
	for range c.waitAttempts {
		select {
		case <-ctx.Done():
			return Entry{}, false, ctx.Err()
		case <-t.C:
		}
		c.mu.Lock()
		e, fresh := c.freshLocked(key)
		_, stillPending := c.pending[key]
		c.mu.Unlock()
		if fresh {
			return e, true, nil
		}
		if !stillPending {
			return Entry{}, false, nil
		}
		t.Reset(c.waitInterval)
	}
	return Entry{}, false, nil
}

// claim marks key pending. It fails when key is fresh or already pending.
func (c *Cache) claim(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.freshLocked(key); ok {
		return false
	}
	if _, ok := c.pending[key]; ok {
		return false
	}
	c.pending[key] = struct{}{}
	return true
}

// fetch calls the fetcher and stores a successful result. When claimed is
// true the pending mark for key is released afterwards.
func (c *Cache) fetch(ctx context.Context, key Key, who npc.Descriptor, claimed bool) (string, error) {
	text, err := c.fetcher.FetchGreeting(ctx, who, key.Bucket)
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.GreetingFetches.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", status)))

	c.mu.Lock()
	defer c.mu.Unlock()
	if claimed {
		delete(c.pending, key)
	}
	if err != nil {
		return "", err
	}
	c.entries[key] = Entry{Text: text, CachedAt: c.now()}
	return text, nil
}

func (c *Cache) freshLocked(key Key) (Entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(e.CachedAt) >= c.ttl {
		delete(c.entries, key)
		return Entry{}, false
	}
	return e, true
}

// Peek returns the fresh entry for who without fetching.
func (c *Cache) Peek(who npc.Descriptor) (Entry, bool) {
	key := KeyFor(who, c.now())
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freshLocked(key)
}

// Pending reports whether a fetch for who's current key is in flight.
func (c *Cache) Pending(who npc.Descriptor) bool {
	key := KeyFor(who, c.now())
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Wait blocks until background prefetches started by Prefetch finish.
func (c *Cache) Wait() {
	c.bg.Wait()
}
