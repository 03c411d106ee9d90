// Package rediscache stores discovery snapshots in Redis so cooldowns survive
// restarts and are shared between instances.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/site-scraper/internal/discovery"
)

// DefaultPrefix namespaces snapshot keys.
const DefaultPrefix = "scraper:pages:"

// Cache is a discovery.PageCache backed by Redis string keys.
type Cache struct {
	client redis.UniversalClient
	prefix string
}

var _ discovery.PageCache = (*Cache)(nil)

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) (*Cache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{client: client, prefix: prefix}, nil
}

// Get reads the snapshot for domain.
func (c *Cache) Get(ctx context.Context, domain string) (discovery.Snapshot, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+domain).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return discovery.Snapshot{}, false, nil
		}
		return discovery.Snapshot{}, false, fmt.Errorf("redis get %s: %w", domain, err)
	}
	var snap discovery.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return discovery.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", domain, err)
	}
	return snap, true, nil
}

// Put writes the snapshot with the given TTL.
func (c *Cache) Put(ctx context.Context, snapshot discovery.Snapshot, ttl time.Duration) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefix+snapshot.Domain, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", snapshot.Domain, err)
	}
	return nil
}
