package pricecache

import (
	"sync"
	"time"

	"github.com/s9927637/arbitrage-trader/internal/types"
)

// Cache holds the latest quote per symbol. Writers (the ingestion actor)
// and readers (the decision actor) may run concurrently; readers work on
// point-in-time snapshots and never observe a half-updated map.
type Cache struct {
	mu        sync.RWMutex
	quotes    map[string]types.PriceQuote
	staleness time.Duration

	now func() time.Time
}

func New(staleness time.Duration) *Cache {
	return &Cache{
		quotes:    make(map[string]types.PriceQuote, 64),
		staleness: staleness,
		now:       time.Now,
	}
}

// Ingest stores the quote unless an equally fresh or fresher one is
// already held. Out-of-order deliveries are dropped silently.
func (c *Cache) Ingest(q types.PriceQuote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.quotes[q.Symbol]; ok && cur.ObservedAt.After(q.ObservedAt) {
		return
	}
	c.quotes[q.Symbol] = q
}

// Get returns the quote for symbol. A quote older than the staleness
// threshold is reported as absent: too old to trust is the same as
// unknown for decision-making.
func (c *Cache) Get(symbol string) (types.PriceQuote, bool) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok || c.now().Sub(q.ObservedAt) > c.staleness {
		return types.PriceQuote{}, false
	}
	return q, true
}

// Snapshot copies the cache for evaluation. The snapshot applies the
// same staleness policy relative to the moment it was taken, so an
// evaluation is deterministic no matter how long it runs.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.RLock()
	quotes := make(map[string]types.PriceQuote, len(c.quotes))
	for k, v := range c.quotes {
		quotes[k] = v
	}
	c.mu.RUnlock()
	return &Snapshot{quotes: quotes, takenAt: c.now(), staleness: c.staleness}
}

// Len reports how many symbols have ever been observed, stale included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

// Snapshot is an immutable point-in-time view of the cache.
type Snapshot struct {
	quotes    map[string]types.PriceQuote
	takenAt   time.Time
	staleness time.Duration
}

func (s *Snapshot) Quote(symbol string) (types.PriceQuote, bool) {
	q, ok := s.quotes[symbol]
	if !ok || s.takenAt.Sub(q.ObservedAt) > s.staleness {
		return types.PriceQuote{}, false
	}
	return q, true
}

func (s *Snapshot) TakenAt() time.Time { return s.takenAt }
