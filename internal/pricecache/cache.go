// Package pricecache maintains the freshest known quote per symbol and
// fans out accepted updates to subscribers. It is shared-read by both
// control loops and shared-write by all feed adapters.
package pricecache

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Tethra-Dex/tethra-be/internal/domain"
)

// DefaultStaleBound is the maximum age of an accepted quote relative to
// the local clock at arrival.
const DefaultStaleBound = 60 * time.Second

// SubscriberFunc receives accepted quote updates. Callbacks run with the
// cache lock held and must not call back into the cache. A panicking
// subscriber is recovered and logged; it never prevents delivery to other
// subscribers or crashes the cache.
type SubscriberFunc func(domain.Quote)

// Cache holds the latest quote per symbol, last-write-wins.
type Cache struct {
	mu          sync.RWMutex
	quotes      map[string]domain.Quote
	subscribers map[int]SubscriberFunc
	nextSubID   int
	staleBound  time.Duration
	logger      *log.Logger
	nowFn       func() time.Time
}

// Options configures a Cache.
type Options struct {
	// StaleBound overrides DefaultStaleBound.
	StaleBound time.Duration
	Logger     *log.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates an empty cache.
func New(opts Options) *Cache {
	staleBound := opts.StaleBound
	if staleBound == 0 {
		staleBound = DefaultStaleBound
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Cache{
		quotes:      make(map[string]domain.Quote),
		subscribers: make(map[int]SubscriberFunc),
		staleBound:  staleBound,
		logger:      logger,
		nowFn:       nowFn,
	}
}

// Update stores a quote if it is newer than the one currently held for its
// symbol and within the staleness bound relative to the local clock.
// Rejected updates are dropped silently: upstream feeds routinely emit
// late duplicates. Accepted updates are delivered to subscribers
// synchronously, in arrival order.
func (c *Cache) Update(q domain.Quote) bool {
	nowMs := c.nowFn().UnixMilli()
	q.ReceivedAt = nowMs

	if nowMs-q.PublishTime > c.staleBound.Milliseconds() {
		c.logger.Printf("[pricecache] dropping stale quote %s publish=%d now=%d", q.Symbol, q.PublishTime, nowMs)
		return false
	}

	c.mu.Lock()
	if prev, ok := c.quotes[q.Symbol]; ok && q.PublishTime <= prev.PublishTime {
		c.mu.Unlock()
		c.logger.Printf("[pricecache] dropping out-of-order quote %s publish=%d stored=%d", q.Symbol, q.PublishTime, prev.PublishTime)
		return false
	}
	c.quotes[q.Symbol] = q

	// Deliver while still holding the lock so two concurrent updates can
	// never reach subscribers out of arrival order. Callbacks must not
	// call back into the cache.
	for _, fn := range c.subscribers {
		c.notify(fn, q)
	}
	c.mu.Unlock()
	return true
}

func (c *Cache) notify(fn SubscriberFunc, q domain.Quote) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("[pricecache] subscriber panic for %s: %v", q.Symbol, r)
		}
	}()
	fn(q)
}

// Get returns the stored quote for a symbol.
func (c *Cache) Get(symbol string) (domain.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// GetFresh returns the stored quote only if its publish time is within the
// staleness bound of the local clock now.
func (c *Cache) GetFresh(symbol string) (domain.Quote, bool) {
	q, ok := c.Get(symbol)
	if !ok || !q.IsFresh(c.nowFn().UnixMilli(), c.staleBound.Milliseconds()) {
		return domain.Quote{}, false
	}
	return q, true
}

// GetAll returns a copy of all stored quotes keyed by symbol.
func (c *Cache) GetAll() map[string]domain.Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.Quote, len(c.quotes))
	for sym, q := range c.quotes {
		out[sym] = q
	}
	return out
}

// Symbols returns the tracked symbols in sorted order.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.quotes))
	for sym := range c.quotes {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Subscribe registers a callback for accepted updates and returns an id
// for Unsubscribe.
func (c *Cache) Subscribe(fn SubscriberFunc) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	return id
}

// Unsubscribe removes a previously registered callback.
func (c *Cache) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, id)
}
