// Package memory holds process-local caches: the market reference cache and
// in-memory fallbacks for the Redis lock manager and rate limiter.
package memory

import (
	"strconv"
	"sync"

	"github.com/retroservices1121/spredd-telegram-bot-sub000/internal/domain"
)

// DefaultRefLimit is the size at which the reference cache is cleared.
const DefaultRefLimit = 500

// RefCache maps short tokens ("m1", "m2", ...) to market snapshots. It is not
// an LRU: once it holds limit entries the next insert clears everything and
// restarts the counter.
type RefCache struct {
	limit int

	mu      sync.Mutex
	entries map[string]domain.MarketRef
	counter int
}

// NewRefCache creates a RefCache. A non-positive limit uses DefaultRefLimit.
func NewRefCache(limit int) *RefCache {
	if limit <= 0 {
		limit = DefaultRefLimit
	}
	return &RefCache{
		limit:   limit,
		entries: make(map[string]domain.MarketRef),
	}
}

// Put stores ref and returns its token.
func (c *RefCache) Put(ref domain.MarketRef) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.limit {
		c.entries = make(map[string]domain.MarketRef)
		c.counter = 0
	}
	c.counter++
	token := "m" + strconv.Itoa(c.counter)
	c.entries[token] = ref
	return token
}

// Get returns the snapshot for token.
func (c *RefCache) Get(token string) (domain.MarketRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.entries[token]
	return ref, ok
}

// Len returns the number of cached references.
func (c *RefCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Counter returns the last issued token number.
func (c *RefCache) Counter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}
