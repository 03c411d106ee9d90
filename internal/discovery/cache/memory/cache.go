// Package memory keeps discovery snapshots in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/site-scraper/internal/discovery"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

type entry struct {
	snapshot discovery.Snapshot
	expires  time.Time
}

// Cache is a discovery.PageCache backed by a map.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

var _ discovery.PageCache = (*Cache)(nil)

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the snapshot for domain unless it expired.
func (c *Cache) Get(_ context.Context, domain string) (discovery.Snapshot, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[domain]
	c.mu.RUnlock()
	if !ok {
		return discovery.Snapshot{}, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.mu.Lock()
		if cur, still := c.entries[domain]; still && cur.expires.Equal(e.expires) {
			delete(c.entries, domain)
		}
		c.mu.Unlock()
		return discovery.Snapshot{}, false, nil
	}
	return copySnapshot(e.snapshot), true, nil
}

// Put replaces the snapshot for its domain.
func (c *Cache) Put(_ context.Context, snapshot discovery.Snapshot, ttl time.Duration) error {
	e := entry{snapshot: copySnapshot(snapshot)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[snapshot.Domain] = e
	c.mu.Unlock()
	return nil
}

func copySnapshot(s discovery.Snapshot) discovery.Snapshot {
	s.Pages = append([]scrape.Page(nil), s.Pages...)
	return s
}
