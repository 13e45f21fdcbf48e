package pricing

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/quantum-catalog/internal/catalog"
	"github.com/JakeFAU/quantum-catalog/internal/metrics"
)

// Source produces a fresh price list.
type Source interface {
	Prices(ctx context.Context) ([]Entry, error)
}

// Cache holds the last price list for a TTL. Concurrent misses share one scrape.
type Cache struct {
	source   Source
	ttl      time.Duration
	clock    catalog.Clock
	notifier catalog.Notifier

	mu      sync.RWMutex
	entries []Entry
	fetched time.Time
	group   singleflight.Group
}

// NewCache wraps source. notifier may be nil.
func NewCache(source Source, ttl time.Duration, clock catalog.Clock, notifier catalog.Notifier) *Cache {
	return &Cache{source: source, ttl: ttl, clock: clock, notifier: notifier}
}

// Entries returns the cached list, scraping again once it is older than the
// TTL. When a scrape fails the previous list, if any, is returned with the error.
func (c *Cache) Entries(ctx context.Context) ([]Entry, error) {
	c.mu.RLock()
	entries, fetched := c.entries, c.fetched
	c.mu.RUnlock()
	if entries != nil && c.clock.Now().Sub(fetched) < c.ttl {
		return entries, nil
	}

	v, err, _ := c.group.Do("prices", func() (any, error) {
		fresh, err := c.source.Prices(ctx)
		if err != nil {
			metrics.ObservePricingScrape("error")
			if c.notifier != nil {
				c.notifier.Notify(ctx, err, map[string]string{"component": "pricing"})
			}
			return nil, err
		}
		metrics.ObservePricingScrape("ok")
		c.mu.Lock()
		c.entries, c.fetched = fresh, c.clock.Now()
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return entries, err
	}
	return v.([]Entry), nil
}

// Invalidate drops the cached list so the next call scrapes again.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.fetched = time.Time{}
}

// Match finds the entry for a Braket backend: simulators by device name,
// QPUs by hardware provider and a family name contained in the device name.
func Match(entries []Entry, b catalog.Backend) (catalog.Pricing, bool) {
	name := strings.ToLower(b.Name)
	for _, e := range entries {
		family := strings.ToLower(e.Family)
		if family == "" {
			continue
		}
		if e.HardwareProvider == "" {
			if name != family {
				continue
			}
		} else if !strings.EqualFold(e.HardwareProvider, b.Provider.Name) || !strings.Contains(name, family) {
			continue
		}
		return catalog.Pricing{
			Family:         e.Family,
			TaskPrice:      e.TaskPrice,
			ShotPrice:      e.ShotPrice,
			PerMinutePrice: e.PerMinutePrice,
		}, true
	}
	return catalog.Pricing{}, false
}
