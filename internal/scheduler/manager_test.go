package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-scraper/internal/discovery"
	"github.com/JakeFAU/site-scraper/internal/extract"
	"github.com/JakeFAU/site-scraper/internal/scrape"
	"github.com/JakeFAU/site-scraper/internal/storage/memory"
)

func TestJobLifecycleCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.discovery.setPages("example.com", samplePages("example.com"))
	require.NoError(t, h.mgr.Start(context.Background()))

	id := h.submit(t, "Example.com", scrape.PriorityNormal)
	job := h.waitStatus(t, id, scrape.JobStatusComplete)
	require.Equal(t, 100, job.Progress)
	require.Equal(t, "Scrape completed", job.Message)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	stored := h.waitStored(t, id, scrape.JobStatusComplete)
	require.Equal(t, 100, stored.Progress)

	result, ok := h.store.Results(id)
	require.True(t, ok)
	require.Equal(t, "example.com", result.Domain)
	require.Equal(t, 2, result.PageCount)
	require.Equal(t, "Example", result.General.Title)

	rec, err := h.store.GetDomainRecord(context.Background(), "example.com")
	require.NoError(t, err)
	require.True(t, rec.HasData())
	require.Equal(t, scrape.JobStatusComplete, rec.Status)

	updates := h.events.For(id)
	require.NotEmpty(t, updates)
	require.Equal(t, scrape.JobStatusQueued, updates[0].Status)
	last := updates[len(updates)-1]
	require.Equal(t, scrape.JobStatusComplete, last.Status)
	require.Equal(t, 100, last.Progress)

	prev := -1
	var stages []int
	for _, u := range updates {
		if u.Status == scrape.JobStatusProcessing {
			require.GreaterOrEqual(t, u.Progress, prev, "progress went backwards")
			prev = u.Progress
			stages = append(stages, u.Progress)
		}
	}
	require.Contains(t, stages, progressDiscovering)
	require.Contains(t, stages, progressExtracting)
	require.Contains(t, stages, progressExtracted)
	require.Contains(t, stages, progressAssembling)
}

func TestStrictPriorityDispatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 1})
	h1 := h.submit(t, "h1.example", scrape.PriorityHigh)
	n1 := h.submit(t, "n1.example", scrape.PriorityNormal)
	h2 := h.submit(t, "h2.example", scrape.PriorityHigh)
	require.NoError(t, h.mgr.Start(context.Background()))

	for _, id := range []string{h1, n1, h2} {
		h.waitStatus(t, id, scrape.JobStatusComplete)
	}
	require.Equal(t, []string{"h1.example", "h2.example", "n1.example"}, h.discovery.Calls())
}

func TestConcurrencyLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 2})
	var releases []func()
	var ids []string
	for _, d := range []string{"a.example", "b.example", "c.example", "d.example", "e.example"} {
		releases = append(releases, h.discovery.block(d))
	}
	require.NoError(t, h.mgr.Start(context.Background()))
	for _, d := range []string{"a.example", "b.example", "c.example", "d.example", "e.example"} {
		ids = append(ids, h.submit(t, d, scrape.PriorityNormal))
	}

	require.Eventually(t, func() bool { return h.mgr.Stats().Active == 2 }, waitFor, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stats := h.mgr.Stats()
	require.Equal(t, 2, stats.Active)
	require.Equal(t, 3, stats.QueueDepth)
	require.Equal(t, 3, stats.Queued[scrape.PriorityNormal])

	for _, release := range releases {
		release()
	}
	for _, id := range ids {
		h.waitStatus(t, id, scrape.JobStatusComplete)
	}
	require.LessOrEqual(t, h.discovery.peak.Load(), int32(2))
	require.Equal(t, 0, h.mgr.Stats().Active)
}

func TestCancelQueuedJobNeverProcesses(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 1})
	release := h.discovery.block("busy.example")
	require.NoError(t, h.mgr.Start(context.Background()))

	busy := h.submit(t, "busy.example", scrape.PriorityNormal)
	h.waitStatus(t, busy, scrape.JobStatusProcessing)
	waiting := h.submit(t, "waiting.example", scrape.PriorityHigh)

	res := h.mgr.Cancel(context.Background(), waiting)
	require.True(t, res.Success)
	require.Equal(t, "Job removed from queue", res.Message)

	release()
	h.waitStatus(t, busy, scrape.JobStatusComplete)

	job := h.waitStored(t, waiting, scrape.JobStatusCancelled)
	require.Nil(t, job.StartedAt)
	require.NotContains(t, h.discovery.Calls(), "waiting.example")
	for _, u := range h.events.For(waiting) {
		require.NotEqual(t, scrape.JobStatusProcessing, u.Status)
	}

	again := h.mgr.Cancel(context.Background(), waiting)
	require.False(t, again.Success)
	require.Equal(t, "Job already cancelled", again.Message)
}

func TestCancelProcessingJobStopsEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.discovery.block("slow.example")
	require.NoError(t, h.mgr.Start(context.Background()))

	id := h.submit(t, "slow.example", scrape.PriorityNormal)
	require.Eventually(t, func() bool {
		return len(h.discovery.Calls()) == 1
	}, waitFor, 5*time.Millisecond)

	res := h.mgr.Cancel(context.Background(), id)
	require.True(t, res.Success)
	require.Equal(t, "Job cancelled", res.Message)

	job, err := h.mgr.Status(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCancelled, job.Status)
	h.waitStored(t, id, scrape.JobStatusCancelled)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.mgr.Shutdown(ctx))

	updates := h.events.For(id)
	require.Equal(t, scrape.JobStatusCancelled, updates[len(updates)-1].Status)
	for _, u := range updates[:len(updates)-1] {
		require.NotEqual(t, scrape.JobStatusCancelled, u.Status)
	}
	_, ok := h.store.Results(id)
	require.False(t, ok)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	res := h.mgr.Cancel(context.Background(), "missing")
	require.False(t, res.Success)
	require.Equal(t, "Job not found", res.Message)
}

func TestCancelStoreOnlyJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	require.NoError(t, h.store.SaveJob(context.Background(), scrape.Job{
		ID:        "orphan",
		Domain:    "orphan.example",
		Status:    scrape.JobStatusQueued,
		CreatedAt: time.Now(),
	}))
	res := h.mgr.Cancel(context.Background(), "orphan")
	require.True(t, res.Success)
	h.waitStored(t, "orphan", scrape.JobStatusCancelled)
}

func TestZeroPagesCompletesWithMinimalResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	require.NoError(t, h.mgr.Start(context.Background()))

	id := h.submit(t, "empty.example", scrape.PriorityNormal)
	job := h.waitStatus(t, id, scrape.JobStatusComplete)
	require.Equal(t, "Scrape completed with minimal results", job.Message)
	require.Equal(t, 100, job.Progress)

	h.waitStored(t, id, scrape.JobStatusComplete)
	result, ok := h.store.Results(id)
	require.True(t, ok)
	require.False(t, result.Blog.HasBlog)
	require.Empty(t, result.Images.All)
	require.NotNil(t, result.Images.All)
	require.Equal(t, scrape.DefaultColors(), result.Colors)
	require.Equal(t, "empty.example", result.General.Title)
}

func TestMinimalResultKeepsEarlierDomainData(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	_, err := h.store.UpsertDomainRecord(context.Background(), "kept.example", scrape.JobStatusComplete, []byte(`{"pageCount":9}`))
	require.NoError(t, err)
	require.NoError(t, h.mgr.Start(context.Background()))

	id := h.submit(t, "kept.example", scrape.PriorityNormal)
	h.waitStored(t, id, scrape.JobStatusComplete)

	rec, err := h.store.GetDomainRecord(context.Background(), "kept.example")
	require.NoError(t, err)
	require.JSONEq(t, `{"pageCount":9}`, string(rec.Data))
}

func TestFailingExtractorFallsBack(t *testing.T) {
	t.Parallel()

	registry := extract.NewRegistry(extract.General{}, failingExtractor{kind: extract.KindColors})
	h := newHarnessWith(t, Config{}, extract.NewOrchestrator(registry, nil, nil))
	h.discovery.setPages("brittle.example", samplePages("brittle.example"))
	require.NoError(t, h.mgr.Start(context.Background()))

	id := h.submit(t, "brittle.example", scrape.PriorityNormal)
	job := h.waitStatus(t, id, scrape.JobStatusComplete)
	require.Equal(t, "Scrape completed", job.Message)

	h.waitStored(t, id, scrape.JobStatusComplete)
	result, ok := h.store.Results(id)
	require.True(t, ok)
	require.Equal(t, "Example", result.General.Title)
	require.Equal(t, scrape.DefaultColors(), result.Colors)
}

func TestSubmitPersistenceFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.store.failSave.Store(true)

	_, err := h.mgr.Submit(context.Background(), SubmitRequest{Domain: "example.com"})
	require.ErrorIs(t, err, scrape.ErrPersistence)
	require.Equal(t, 0, h.mgr.Stats().QueueDepth)
}

func TestPipelineFailureFreesSlot(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 1})
	h.store.failResults.Store(true)
	require.NoError(t, h.mgr.Start(context.Background()))

	bad := h.submit(t, "bad.example", scrape.PriorityNormal)
	job := h.waitStatus(t, bad, scrape.JobStatusFailed)
	require.Contains(t, job.Error, "disk full")
	require.Equal(t, "Scrape failed", job.Message)
	h.waitStored(t, bad, scrape.JobStatusFailed)

	h.store.failResults.Store(false)
	good := h.submit(t, "good.example", scrape.PriorityNormal)
	h.waitStatus(t, good, scrape.JobStatusComplete)
}

func TestPipelinePanicFailsJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.discovery.setPanic("boom.example")
	require.NoError(t, h.mgr.Start(context.Background()))

	id := h.submit(t, "boom.example", scrape.PriorityNormal)
	job := h.waitStatus(t, id, scrape.JobStatusFailed)
	require.Contains(t, job.Error, "discovery exploded")
	require.Zero(t, h.mgr.Stats().Active)
}

func TestStartRecoversPendingJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 1})
	base := time.Now().Add(-time.Hour)
	started := base.Add(time.Minute)
	require.NoError(t, h.store.SaveJob(context.Background(), scrape.Job{
		ID:        "queued-later",
		Domain:    "later.example",
		Priority:  scrape.PriorityNormal,
		Status:    scrape.JobStatusQueued,
		CreatedAt: base.Add(2 * time.Minute),
	}))
	require.NoError(t, h.store.SaveJob(context.Background(), scrape.Job{
		ID:        "orphaned",
		Domain:    "orphaned.example",
		Priority:  scrape.PriorityNormal,
		Status:    scrape.JobStatusProcessing,
		Progress:  30,
		CreatedAt: base,
		StartedAt: &started,
	}))

	require.NoError(t, h.mgr.Start(context.Background()))
	h.waitStatus(t, "orphaned", scrape.JobStatusComplete)
	h.waitStatus(t, "queued-later", scrape.JobStatusComplete)
	require.Equal(t, []string{"orphaned.example", "later.example"}, h.discovery.Calls())

	require.ErrorIs(t, h.mgr.Start(context.Background()), ErrAlreadyStarted)
}

func TestStartFailsWhenStoreUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.store.failPending.Store(true)
	require.ErrorIs(t, h.mgr.Start(context.Background()), scrape.ErrPersistence)
}

func TestShutdownLeavesJobsProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.discovery.block("long.example")
	require.NoError(t, h.mgr.Start(context.Background()))

	id := h.submit(t, "long.example", scrape.PriorityNormal)
	h.waitStored(t, id, scrape.JobStatusProcessing)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.mgr.Shutdown(ctx))
	require.False(t, h.mgr.Stats().Running)

	job, err := h.store.GetJobStatus(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusProcessing, job.Status)
	require.Nil(t, job.CompletedAt)
}

func TestStatusLookupOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	_, err := h.mgr.Status(context.Background(), "nope")
	require.ErrorIs(t, err, scrape.ErrNotFound)

	id := h.submit(t, "queued.example", scrape.PriorityLow)
	job, err := h.mgr.Status(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusQueued, job.Status)
	require.Equal(t, scrape.PriorityLow, job.Priority)

	jobs, err := h.mgr.List(context.Background(), scrape.ListFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestArchiveWritesResultJSON(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	registry := extract.NewRegistry(extract.General{})
	orch := extract.NewOrchestrator(registry, nil, nil)
	h := newHarnessWith(t, Config{ArchivePrefix: "archive"}, clockedExtractor{orch: orch, at: at}, WithArchive(blobs))
	h.discovery.setPages("example.com", samplePages("example.com"))
	require.NoError(t, h.mgr.Start(context.Background()))

	id := h.submit(t, "example.com", scrape.PriorityNormal)
	h.waitStored(t, id, scrape.JobStatusComplete)

	data, contentType, ok := blobs.Object("archive/example.com/20240304T050607Z.json")
	require.True(t, ok, "paths: %s", strings.Join(blobs.Paths(), ","))
	require.Equal(t, "application/json", contentType)
	var result scrape.AggregateResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Equal(t, "example.com", result.Domain)
}

type clockedExtractor struct {
	orch *extract.Orchestrator
	at   time.Time
}

func (c clockedExtractor) Run(ctx context.Context, pages []scrape.Page, dctx scrape.DomainContext) (scrape.AggregateResult, extract.Report) {
	res, rep := c.orch.Run(ctx, pages, dctx)
	res.ScrapedAt = c.at
	return res, rep
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	store := memory.NewJobStore()
	orch := extract.NewOrchestrator(nil, nil, nil)
	_, err := New(Config{}, nil, newFakeDiscoverer(), orch, nil, nil)
	require.Error(t, err)
	_, err = New(Config{}, store, nil, orch, nil, nil)
	require.Error(t, err)
	_, err = New(Config{}, store, newFakeDiscoverer(), nil, nil, nil)
	require.Error(t, err)
}

type countingFetcher struct{ hits atomic.Int32 }

func (f *countingFetcher) Fetch(_ context.Context, req scrape.FetchRequest) (scrape.FetchResponse, error) {
	f.hits.Add(1)
	return scrape.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(`<html><head><title>Cool</title></head><body>hi</body></html>`),
	}, nil
}

func TestCooldownMeasuredFromLastRealCrawl(t *testing.T) {
	t.Parallel()

	const cooldown = 600 * time.Millisecond
	store := memory.NewJobStore()
	fetcher := &countingFetcher{}
	// No page cache, as after a restart with the in-memory cache.
	engine, err := discovery.New(discovery.Config{}, fetcher, store, nil, nil)
	require.NoError(t, err)
	mgr, err := New(Config{Cooldown: cooldown}, store, engine, extract.NewOrchestrator(nil, nil, nil), nil, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	run := func() scrape.Job {
		resp, err := mgr.Submit(context.Background(), SubmitRequest{Domain: "cool.example"})
		require.NoError(t, err)
		var job scrape.Job
		require.Eventually(t, func() bool {
			got, err := store.GetJobStatus(context.Background(), resp.JobID)
			job = got
			return err == nil && got.Status == scrape.JobStatusComplete
		}, waitFor, 5*time.Millisecond)
		return job
	}

	require.Equal(t, "Scrape completed", run().Message)
	require.EqualValues(t, 1, fetcher.hits.Load())
	rec, err := store.GetDomainRecord(context.Background(), "cool.example")
	require.NoError(t, err)
	crawledAt := rec.UpdatedAt

	time.Sleep(time.Until(crawledAt.Add(cooldown * 2 / 3)))
	require.Equal(t, "Scrape completed with minimal results", run().Message)
	require.EqualValues(t, 1, fetcher.hits.Load())
	rec, err = store.GetDomainRecord(context.Background(), "cool.example")
	require.NoError(t, err)
	require.Equal(t, crawledAt, rec.UpdatedAt, "a cooldown hit must not move the window")

	time.Sleep(time.Until(crawledAt.Add(cooldown + 100*time.Millisecond)))
	require.Equal(t, "Scrape completed", run().Message)
	require.EqualValues(t, 2, fetcher.hits.Load())
}

type startOnSaveStore struct {
	*memory.JobStore
	onSave func()
}

func (s *startOnSaveStore) SaveJob(ctx context.Context, job scrape.Job) error {
	if err := s.JobStore.SaveJob(ctx, job); err != nil {
		return err
	}
	if s.onSave != nil {
		s.onSave()
	}
	return nil
}

func TestSubmitDuringStartQueuesOnce(t *testing.T) {
	t.Parallel()

	store := &startOnSaveStore{JobStore: memory.NewJobStore()}
	discoverer := newFakeDiscoverer()
	release := discoverer.block("race.example")
	defer release()
	mgr, err := New(Config{Concurrency: 1}, store, discoverer, extract.NewOrchestrator(nil, nil, nil), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	// Recovery runs after the job is saved but before Submit enqueues it.
	store.onSave = func() { require.NoError(t, mgr.Start(context.Background())) }

	resp, err := mgr.Submit(context.Background(), SubmitRequest{Domain: "race.example"})
	require.NoError(t, err)
	stats := mgr.Stats()
	require.Equal(t, 1, stats.QueueDepth+stats.Active)

	release()
	require.Eventually(t, func() bool {
		job, err := mgr.Status(context.Background(), resp.JobID)
		return err == nil && job.Status == scrape.JobStatusComplete
	}, waitFor, 5*time.Millisecond)
	require.Zero(t, mgr.Stats().QueueDepth)
	require.Equal(t, []string{"race.example"}, discoverer.Calls())
}
