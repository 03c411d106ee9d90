package discovery

import (
	"context"
	"time"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// Snapshot is the page set of one successful crawl.
type Snapshot struct {
	Domain    string        `json:"domain"`
	CrawledAt time.Time     `json:"crawledAt"`
	Pages     []scrape.Page `json:"pages"`
}

// PageCache stores the most recent snapshot per domain. A non-positive TTL
// keeps the snapshot until it is replaced.
type PageCache interface {
	Get(ctx context.Context, domain string) (Snapshot, bool, error)
	Put(ctx context.Context, snapshot Snapshot, ttl time.Duration) error
}
