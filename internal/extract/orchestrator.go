package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/metrics"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// Report summarises one orchestrator run.
type Report struct {
	Minimal   bool
	Pages     int
	Applied   []Kind
	Failed    []Kind
	Cancelled bool
}

// Orchestrator runs the extraction pipeline.
type Orchestrator struct {
	registry *Registry
	fetcher  scrape.Fetcher
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator. fetcher may be nil when every page
// arrives with content.
func NewOrchestrator(registry *Registry, fetcher scrape.Fetcher, logger *zap.Logger) *Orchestrator {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		fetcher:  fetcher,
		logger:   logger.Named("extract"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run parses pages and applies every selected extractor. It never fails: the
// returned aggregate always has every section populated.
func (o *Orchestrator) Run(ctx context.Context, pages []scrape.Page, dctx scrape.DomainContext) (scrape.AggregateResult, Report) {
	log := o.logger.With(zap.String("job_id", dctx.JobID), zap.String("domain", dctx.Domain))
	result := scrape.MinimalResult(dctx.Domain, o.now())

	docs := o.parse(ctx, pages, dctx, log)
	report := Report{Pages: len(docs)}
	result.PageCount = len(docs)
	if len(docs) == 0 {
		report.Minimal = true
		log.Info("no pages, returning minimal result")
		return result, report
	}

	kinds, err := ParseKinds(dctx.Extractors)
	if err != nil {
		log.Warn("ignoring unknown extractors", zap.Error(err))
		kinds = nil
	}
	opts := Options{Domain: dctx.Domain, JobID: dctx.JobID}
	for _, ex := range o.registry.Select(kinds) {
		if ctx.Err() != nil {
			report.Cancelled = true
			log.Info("extraction cancelled", zap.String("next", string(ex.Kind())))
			break
		}
		partial, err := runExtractor(ctx, ex, docs, opts)
		if err != nil {
			report.Failed = append(report.Failed, ex.Kind())
			metrics.ObserveExtractorFailure(string(ex.Kind()))
			log.Warn("extractor failed",
				zap.String("extractor", string(ex.Kind())),
				zap.Error(err),
			)
			continue
		}
		if partial != nil {
			partial.Apply(&result)
		}
		report.Applied = append(report.Applied, ex.Kind())
	}
	return result, report
}

func runExtractor(ctx context.Context, ex Extractor, docs []Document, opts Options) (partial scrape.PartialResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			partial = nil
			err = fmt.Errorf("%w: %s panicked: %v\n%s", scrape.ErrExtractor, ex.Kind(), r, debug.Stack())
		}
	}()
	partial, err = ex.Extract(ctx, docs, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", scrape.ErrExtractor, ex.Kind(), err)
	}
	return partial, nil
}

func (o *Orchestrator) parse(ctx context.Context, pages []scrape.Page, dctx scrape.DomainContext, log *zap.Logger) []Document {
	docs := make([]Document, 0, len(pages))
	for i, page := range pages {
		if ctx.Err() != nil {
			break
		}
		doc, err := o.parsePage(ctx, dctx.JobID, page)
		if err != nil {
			log.Debug("page skipped", zap.String("url", page.URL), zap.Error(err))
		} else {
			docs = append(docs, doc)
		}
		if dctx.OnProgress != nil {
			dctx.OnProgress(i+1, len(pages))
		}
	}
	return docs
}

func (o *Orchestrator) parsePage(ctx context.Context, jobID string, page scrape.Page) (Document, error) {
	base, err := url.Parse(page.URL)
	if err != nil || base.Host == "" {
		return Document{}, fmt.Errorf("invalid page url %q", page.URL)
	}
	if strings.TrimSpace(page.Content) == "" {
		if o.fetcher == nil {
			return Document{}, errors.New("page has no content")
		}
		resp, err := o.fetcher.Fetch(ctx, scrape.FetchRequest{JobID: jobID, URL: page.URL, Depth: page.Depth})
		if err != nil {
			return Document{}, fmt.Errorf("fetch content: %w", err)
		}
		page.Content = string(resp.Body)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(page.Content)))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}
	if page.Title == "" {
		page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return Document{Page: page, Base: base, Doc: doc}, nil
}
