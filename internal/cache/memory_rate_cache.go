package cache

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vatledger/engine/internal/vat"
)

type memoryEntry struct {
	rate      decimal.Decimal
	expiresAt time.Time
}

// MemoryRateCache is the in-process rate cache used when Redis is not configured.
type MemoryRateCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]map[vat.TaxClass]memoryEntry
}

// NewMemoryRateCache returns an empty cache. A zero ttl keeps entries until invalidated.
func NewMemoryRateCache(ttl time.Duration) *MemoryRateCache {
	return &MemoryRateCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]map[vat.TaxClass]memoryEntry),
	}
}

func (c *MemoryRateCache) Get(_ context.Context, country string, class vat.TaxClass) (decimal.Decimal, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[country][class]
	if !ok || (c.ttl > 0 && c.now().After(e.expiresAt)) {
		return decimal.Zero, false, nil
	}
	return e.rate, true, nil
}

func (c *MemoryRateCache) Set(_ context.Context, country string, class vat.TaxClass, rate decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byClass, ok := c.entries[country]
	if !ok {
		byClass = make(map[vat.TaxClass]memoryEntry)
		c.entries[country] = byClass
	}
	byClass[class] = memoryEntry{rate: rate, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryRateCache) Invalidate(_ context.Context, country string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, country)
	return nil
}
