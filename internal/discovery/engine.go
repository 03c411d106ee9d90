// Package discovery gathers the pages of a domain with a bounded breadth-first
// crawl, honouring cooldowns and resuming from checkpoints.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/hash/sha256"
	"github.com/JakeFAU/site-scraper/internal/metrics"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// Config bounds a crawl.
type Config struct {
	DefaultMaxPages int
	CheckpointEvery int
	MaxPageBytes    int
	UserAgent       string
}

// StateStore is the slice of the job store discovery needs.
type StateStore interface {
	CanResumeJob(ctx context.Context, jobID string) (bool, error)
	SaveCrawlState(ctx context.Context, state scrape.CrawlState) error
	LoadCrawlState(ctx context.Context, jobID string) (scrape.CrawlState, error)
	ClearCrawlState(ctx context.Context, jobID string) error
	GetDomainRecord(ctx context.Context, domain string) (scrape.DomainRecord, error)
}

// Waiter blocks until a fetch of the URL may proceed.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Engine implements page discovery.
type Engine struct {
	cfg     Config
	fetcher scrape.Fetcher
	store   StateStore
	cache   PageCache
	limiter Waiter
	hasher  *sha256.Hasher
	logger  *zap.Logger
	now     func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithLimiter rate limits every fetch.
func WithLimiter(w Waiter) Option {
	return func(e *Engine) { e.limiter = w }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New constructs an Engine.
func New(cfg Config, fetcher scrape.Fetcher, store StateStore, cache PageCache, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = 50
	}
	e := &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		cache:   cache,
		hasher:  sha256.New(),
		logger:  logger.Named("discovery"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type crawl struct {
	req      scrape.DiscoverRequest
	limit    int
	visited  map[string]struct{}
	order    []string
	frontier []scrape.FrontierEntry
	pages    []scrape.Page
	pageURLs map[string]struct{}
	digests  map[string]struct{}
}

// Discover returns the pages of req.Domain. Fetch failures only shrink the
// result; the error is non-nil only when ctx ends.
func (e *Engine) Discover(ctx context.Context, req scrape.DiscoverRequest) ([]scrape.Page, error) {
	limit := req.MaxPages
	if limit <= 0 {
		limit = e.cfg.DefaultMaxPages
	}
	log := e.logger.With(zap.String("job_id", req.JobID), zap.String("domain", req.Domain))

	// A checkpointed crawl belongs to this job and outranks the cooldown.
	c, resumed := e.resume(ctx, req, limit, log)
	if !resumed {
		if pages, ok := e.cooldownHit(ctx, req, log); ok {
			e.clearState(ctx, req, log)
			report(req, len(pages), limit)
			return pages, nil
		}
		c = freshCrawl(req, limit)
	}

	for len(c.frontier) > 0 && len(c.pages) < c.limit {
		if ctx.Err() != nil {
			e.checkpoint(c, log)
			return nil, fmt.Errorf("discover %s: %w", req.Domain, ctx.Err())
		}
		entry := c.frontier[0]
		c.frontier = c.frontier[1:]

		page, links, err := e.visit(ctx, c, entry)
		if err != nil {
			if ctx.Err() != nil {
				c.frontier = append([]scrape.FrontierEntry{entry}, c.frontier...)
				e.checkpoint(c, log)
				return nil, fmt.Errorf("discover %s: %w", req.Domain, ctx.Err())
			}
			log.Debug("page skipped",
				zap.String("url", entry.URL),
				zap.Error(fmt.Errorf("%w: %w", scrape.ErrDiscovery, err)),
			)
			continue
		}
		if page == nil {
			continue
		}
		c.pages = append(c.pages, *page)
		report(req, len(c.pages), c.limit)

		if entry.Depth < req.Depth {
			for _, link := range links {
				if c.markVisited(link) {
					c.frontier = append(c.frontier, scrape.FrontierEntry{URL: link, Depth: entry.Depth + 1})
				}
			}
		}
		if e.cfg.CheckpointEvery > 0 && len(c.pages)%e.cfg.CheckpointEvery == 0 {
			e.checkpoint(c, log)
		}
	}

	e.clearState(ctx, req, log)
	e.storeSnapshot(ctx, req, c.pages, log)
	metrics.AddPagesDiscovered(len(c.pages))
	log.Info("discovery finished", zap.Int("pages", len(c.pages)))
	return c.pages, nil
}

func report(req scrape.DiscoverRequest, discovered, limit int) {
	if req.OnProgress != nil {
		req.OnProgress(discovered, limit)
	}
}

func (e *Engine) cooldownHit(ctx context.Context, req scrape.DiscoverRequest, log *zap.Logger) ([]scrape.Page, bool) {
	if req.BypassCooldown || req.Cooldown <= 0 {
		return nil, false
	}
	now := e.now()
	if e.cache != nil {
		snap, ok, err := e.cache.Get(ctx, req.Domain)
		if err != nil {
			log.Warn("page cache lookup failed", zap.Error(err))
		}
		if ok {
			if now.Sub(snap.CrawledAt) < req.Cooldown {
				log.Info("cooldown active, reusing cached pages", zap.Int("pages", len(snap.Pages)))
				return append([]scrape.Page{}, snap.Pages...), true
			}
			return nil, false
		}
	}
	rec, err := e.store.GetDomainRecord(ctx, req.Domain)
	if err != nil {
		if !errors.Is(err, scrape.ErrNotFound) {
			log.Warn("domain record lookup failed", zap.Error(err))
		}
		return nil, false
	}
	if now.Sub(rec.UpdatedAt) < req.Cooldown {
		log.Info("cooldown active without cached pages")
		return []scrape.Page{}, true
	}
	return nil, false
}

func newCrawl(req scrape.DiscoverRequest, limit int) *crawl {
	return &crawl{
		req:      req,
		limit:    limit,
		visited:  make(map[string]struct{}),
		pages:    []scrape.Page{},
		pageURLs: make(map[string]struct{}),
		digests:  make(map[string]struct{}),
	}
}

func freshCrawl(req scrape.DiscoverRequest, limit int) *crawl {
	c := newCrawl(req, limit)
	root := normalizeURL(&url.URL{Scheme: "https", Host: req.Domain, Path: "/"})
	c.markVisited(root)
	c.frontier = []scrape.FrontierEntry{{URL: root, Depth: 0}}
	return c
}

// resume rebuilds the crawl from the job's checkpoint, if it has one.
func (e *Engine) resume(ctx context.Context, req scrape.DiscoverRequest, limit int, log *zap.Logger) (*crawl, bool) {
	if req.JobID == "" {
		return nil, false
	}
	ok, err := e.store.CanResumeJob(ctx, req.JobID)
	if err != nil {
		log.Warn("resume check failed", zap.Error(err))
	}
	if !ok {
		return nil, false
	}
	state, err := e.store.LoadCrawlState(ctx, req.JobID)
	if err != nil {
		log.Warn("load crawl state failed", zap.Error(err))
		return nil, false
	}
	c := newCrawl(req, limit)
	for _, u := range state.Visited {
		c.markVisited(u)
	}
	c.frontier = append(c.frontier, state.Frontier...)
	for _, p := range state.Pages {
		c.pages = append(c.pages, p)
		c.pageURLs[p.URL] = struct{}{}
		c.digests[e.hasher.Sum([]byte(p.Content))] = struct{}{}
	}
	log.Info("resuming crawl",
		zap.Int("pages", len(c.pages)),
		zap.Int("frontier", len(c.frontier)),
	)
	return c, true
}

func (e *Engine) clearState(ctx context.Context, req scrape.DiscoverRequest, log *zap.Logger) {
	if req.JobID == "" {
		return
	}
	if err := e.store.ClearCrawlState(ctx, req.JobID); err != nil {
		log.Warn("clear crawl state failed", zap.Error(err))
	}
}

func (c *crawl) markVisited(u string) bool {
	if _, ok := c.visited[u]; ok {
		return false
	}
	c.visited[u] = struct{}{}
	c.order = append(c.order, u)
	return true
}

// visit fetches one entry. A nil page without error means the response was a
// duplicate or not HTML.
func (e *Engine) visit(ctx context.Context, c *crawl, entry scrape.FrontierEntry) (*scrape.Page, []string, error) {
	resp, err := e.fetch(ctx, c.req.JobID, entry)
	if err != nil && entry.Depth == 0 && strings.HasPrefix(entry.URL, "https://") && ctx.Err() == nil {
		fallback := scrape.FrontierEntry{URL: "http://" + strings.TrimPrefix(entry.URL, "https://"), Depth: 0}
		c.markVisited(fallback.URL)
		resp, err = e.fetch(ctx, c.req.JobID, fallback)
	}
	if err != nil {
		return nil, nil, err
	}
	if ct := resp.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return nil, nil, nil
	}

	final, err := url.Parse(resp.URL)
	if err != nil || resp.URL == "" {
		final, _ = url.Parse(entry.URL)
	}
	pageURL := normalizeURL(final)
	if _, dup := c.pageURLs[pageURL]; dup {
		return nil, nil, nil
	}
	digest := e.hasher.Sum(resp.Body)
	if _, dup := c.digests[digest]; dup {
		return nil, nil, nil
	}
	c.pageURLs[pageURL] = struct{}{}
	c.digests[digest] = struct{}{}
	c.markVisited(pageURL)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	content := truncateUTF8(resp.Body, e.cfg.MaxPageBytes)
	page := &scrape.Page{
		URL:     pageURL,
		Depth:   entry.Depth,
		Title:   strings.TrimSpace(doc.Find("title").First().Text()),
		Content: string(content),
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if link := resolveLink(final, href, c.req.Domain); link != "" {
			links = append(links, link)
		}
	})
	return page, links, nil
}

// truncateUTF8 cuts b to at most limit bytes without splitting a rune.
func truncateUTF8(b []byte, limit int) []byte {
	if limit <= 0 || len(b) <= limit {
		return b
	}
	// Back off at most one partial rune; invalid input is cut at limit.
	for cut := limit; cut > 0 && cut > limit-utf8.UTFMax; cut-- {
		if utf8.RuneStart(b[cut]) {
			return b[:cut]
		}
	}
	return b[:limit]
}

func (e *Engine) fetch(ctx context.Context, jobID string, entry scrape.FrontierEntry) (scrape.FetchResponse, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, entry.URL); err != nil {
			return scrape.FetchResponse{}, err
		}
	}
	resp, err := e.fetcher.Fetch(ctx, scrape.FetchRequest{
		JobID: jobID,
		URL:   entry.URL,
		Depth: entry.Depth,
	})
	if err != nil {
		return scrape.FetchResponse{}, fmt.Errorf("fetch %s: %w", entry.URL, err)
	}
	return resp, nil
}

func (e *Engine) checkpoint(c *crawl, log *zap.Logger) {
	if c.req.JobID == "" {
		return
	}
	state := scrape.CrawlState{
		JobID:     c.req.JobID,
		Domain:    c.req.Domain,
		Visited:   append([]string(nil), c.order...),
		Frontier:  append([]scrape.FrontierEntry(nil), c.frontier...),
		Pages:     append([]scrape.Page(nil), c.pages...),
		UpdatedAt: e.now(),
	}
	// The crawl context may already be cancelled; the checkpoint must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.SaveCrawlState(ctx, state); err != nil {
		log.Warn("checkpoint failed", zap.Error(err))
	}
}

func (e *Engine) storeSnapshot(ctx context.Context, req scrape.DiscoverRequest, pages []scrape.Page, log *zap.Logger) {
	if e.cache == nil || len(pages) == 0 {
		return
	}
	snap := Snapshot{
		Domain:    req.Domain,
		CrawledAt: e.now(),
		Pages:     append([]scrape.Page(nil), pages...),
	}
	if err := e.cache.Put(ctx, snap, 2*req.Cooldown); err != nil {
		log.Warn("page cache store failed", zap.Error(err))
	}
}
