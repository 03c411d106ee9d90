package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-scraper/internal/extract"
	"github.com/JakeFAU/site-scraper/internal/scrape"
	"github.com/JakeFAU/site-scraper/internal/storage/memory"
)

const waitFor = 3 * time.Second

type recordingPublisher struct {
	mu      sync.Mutex
	updates []scrape.JobUpdate
}

func (p *recordingPublisher) Publish(_ context.Context, channel, event string, payload any) error {
	update, ok := payload.(scrape.JobUpdate)
	if !ok || event != scrape.EventJobUpdate || channel != scrape.JobChannel(update.JobID) {
		return fmt.Errorf("unexpected event %s on %s", event, channel)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	return nil
}

func (p *recordingPublisher) For(jobID string) []scrape.JobUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []scrape.JobUpdate
	for _, u := range p.updates {
		if u.JobID == jobID {
			out = append(out, u)
		}
	}
	return out
}

type fakeDiscoverer struct {
	mu       sync.Mutex
	pages    map[string][]scrape.Page
	gates    map[string]chan struct{}
	panics   map[string]bool
	calls    []string
	inflight atomic.Int32
	peak     atomic.Int32
}

func newFakeDiscoverer() *fakeDiscoverer {
	return &fakeDiscoverer{
		pages:  map[string][]scrape.Page{},
		gates:  map[string]chan struct{}{},
		panics: map[string]bool{},
	}
}

func (d *fakeDiscoverer) setPages(domain string, pages []scrape.Page) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[domain] = pages
}

func (d *fakeDiscoverer) setPanic(domain string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panics[domain] = true
}

// block makes discovery of domain wait until the returned func is called.
func (d *fakeDiscoverer) block(domain string) func() {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gates[domain] = gate
	d.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (d *fakeDiscoverer) Discover(ctx context.Context, req scrape.DiscoverRequest) ([]scrape.Page, error) {
	n := d.inflight.Add(1)
	defer d.inflight.Add(-1)
	for {
		peak := d.peak.Load()
		if n <= peak || d.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	d.mu.Lock()
	d.calls = append(d.calls, req.Domain)
	gate := d.gates[req.Domain]
	pages := d.pages[req.Domain]
	panics := d.panics[req.Domain]
	d.mu.Unlock()

	if panics {
		panic("discovery exploded")
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if req.OnProgress != nil {
		for i := range pages {
			req.OnProgress(i+1, req.MaxPages)
		}
	}
	return pages, nil
}

func (d *fakeDiscoverer) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

type flakyStore struct {
	*memory.JobStore
	failSave    atomic.Bool
	failResults atomic.Bool
	failPending atomic.Bool
}

func (s *flakyStore) SaveJob(ctx context.Context, job scrape.Job) error {
	if s.failSave.Load() {
		return errors.New("database is down")
	}
	return s.JobStore.SaveJob(ctx, job)
}

func (s *flakyStore) SaveResults(ctx context.Context, jobID string, result scrape.AggregateResult) error {
	if s.failResults.Load() {
		return errors.New("disk full")
	}
	return s.JobStore.SaveResults(ctx, jobID, result)
}

func (s *flakyStore) GetPendingJobs(ctx context.Context) ([]scrape.Job, error) {
	if s.failPending.Load() {
		return nil, errors.New("database is down")
	}
	return s.JobStore.GetPendingJobs(ctx)
}

type failingExtractor struct{ kind extract.Kind }

func (f failingExtractor) Kind() extract.Kind { return f.kind }

func (f failingExtractor) Extract(context.Context, []extract.Document, extract.Options) (scrape.PartialResult, error) {
	return nil, errors.New("malformed css")
}

type harness struct {
	mgr       *Manager
	store     *flakyStore
	discovery *fakeDiscoverer
	events    *recordingPublisher
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, cfg, extract.NewOrchestrator(nil, nil, nil), opts...)
}

func newHarnessWith(t *testing.T, cfg Config, extractor Extractor, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:     &flakyStore{JobStore: memory.NewJobStore()},
		discovery: newFakeDiscoverer(),
		events:    &recordingPublisher{},
	}
	mgr, err := New(cfg, h.store, h.discovery, extractor, h.events, nil, opts...)
	require.NoError(t, err)
	h.mgr = mgr
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return h
}

func (h *harness) submit(t *testing.T, domain string, prio scrape.Priority) string {
	t.Helper()
	resp, err := h.mgr.Submit(context.Background(), SubmitRequest{Domain: domain, Priority: string(prio)})
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusQueued, resp.Status)
	return resp.JobID
}

func (h *harness) waitStatus(t *testing.T, jobID string, want scrape.JobStatus) scrape.Job {
	t.Helper()
	var job scrape.Job
	require.Eventually(t, func() bool {
		got, err := h.mgr.Status(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = got
		return got.Status == want
	}, waitFor, 5*time.Millisecond, "job %s never reached %s", jobID, want)
	return job
}

func (h *harness) waitStored(t *testing.T, jobID string, want scrape.JobStatus) scrape.Job {
	t.Helper()
	var job scrape.Job
	require.Eventually(t, func() bool {
		got, err := h.store.GetJobStatus(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = got
		return got.Status == want
	}, waitFor, 5*time.Millisecond)
	return job
}

const sampleHTML = `<html><head><title>Example</title></head><body><nav><a href="/about">About</a></nav></body></html>`

func samplePages(domain string) []scrape.Page {
	return []scrape.Page{
		{URL: "https://" + domain + "/", Depth: 0, Content: sampleHTML},
		{URL: "https://" + domain + "/about", Depth: 1, Content: sampleHTML},
	}
}
