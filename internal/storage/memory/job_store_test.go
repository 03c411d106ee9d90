package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

func newJob(id string, created time.Time, status scrape.JobStatus) scrape.Job {
	return scrape.Job{
		ID:        id,
		Domain:    "example.com",
		Depth:     2,
		Priority:  scrape.PriorityNormal,
		MaxPages:  10,
		Status:    status,
		CreatedAt: created,
	}
}

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveJob(ctx, newJob("job-1", base, scrape.JobStatusQueued)))
	require.Error(t, store.SaveJob(ctx, newJob("job-1", base, scrape.JobStatusQueued)))

	started := base.Add(time.Second)
	require.NoError(t, store.UpdateJobStatus(ctx, scrape.StatusUpdate{
		JobID:     "job-1",
		Status:    scrape.JobStatusProcessing,
		Progress:  10,
		Message:   "Discovering pages",
		StartedAt: &started,
	}))
	require.NoError(t, store.UpdateJobStatus(ctx, scrape.StatusUpdate{
		JobID:    "job-1",
		Status:   scrape.JobStatusComplete,
		Progress: 100,
		Message:  "Scrape completed",
	}))

	job, err := store.GetJobStatus(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusComplete, job.Status)
	require.Equal(t, 100, job.Progress)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	// Terminal jobs ignore later writes.
	require.NoError(t, store.UpdateJobStatus(ctx, scrape.StatusUpdate{JobID: "job-1", Status: scrape.JobStatusCancelled}))
	job, err = store.GetJobStatus(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusComplete, job.Status)

	_, err = store.GetJobStatus(ctx, "missing")
	require.True(t, errors.Is(err, scrape.ErrNotFound))
	require.ErrorIs(t, store.UpdateJobStatus(ctx, scrape.StatusUpdate{JobID: "missing"}), scrape.ErrNotFound)
}

func TestJobStoreDemotionClearsStartedAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	started := time.Now().UTC()
	require.NoError(t, store.SaveJob(ctx, newJob("job-1", started, scrape.JobStatusQueued)))
	require.NoError(t, store.UpdateJobStatus(ctx, scrape.StatusUpdate{
		JobID: "job-1", Status: scrape.JobStatusProcessing, StartedAt: &started,
	}))
	require.NoError(t, store.UpdateJobStatus(ctx, scrape.StatusUpdate{JobID: "job-1", Status: scrape.JobStatusQueued}))

	job, err := store.GetJobStatus(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusQueued, job.Status)
	require.Nil(t, job.StartedAt)
}

func TestJobStoreListAndPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveJob(ctx, newJob("a", base, scrape.JobStatusQueued)))
	require.NoError(t, store.SaveJob(ctx, newJob("b", base.Add(time.Minute), scrape.JobStatusProcessing)))
	require.NoError(t, store.SaveJob(ctx, newJob("c", base.Add(2*time.Minute), scrape.JobStatusFailed)))

	all, err := store.ListJobs(ctx, scrape.ListFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, ids(all))

	page, err := store.ListJobs(ctx, scrape.ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids(page))

	failed := scrape.JobStatusFailed
	filtered, err := store.ListJobs(ctx, scrape.ListFilter{Status: &failed})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, ids(filtered))

	empty, err := store.ListJobs(ctx, scrape.ListFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, empty)

	pending, err := store.GetPendingJobs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(pending))
}

func TestJobStoreCrawlState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()

	ok, err := store.CanResumeJob(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, ok)

	state := scrape.CrawlState{
		JobID:    "job-1",
		Domain:   "example.com",
		Visited:  []string{"https://example.com/"},
		Frontier: []scrape.FrontierEntry{{URL: "https://example.com/about", Depth: 1}},
		Pages:    []scrape.Page{{URL: "https://example.com/", Content: "<html></html>"}},
	}
	require.NoError(t, store.SaveCrawlState(ctx, state))
	state.Visited[0] = "mutated"

	ok, err = store.CanResumeJob(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := store.LoadCrawlState(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/", loaded.Visited[0])
	require.Len(t, loaded.Frontier, 1)

	require.NoError(t, store.ClearCrawlState(ctx, "job-1"))
	_, err = store.LoadCrawlState(ctx, "job-1")
	require.ErrorIs(t, err, scrape.ErrNotFound)
}

func TestJobStoreResultsAndDomains(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	require.ErrorIs(t, store.SaveResults(ctx, "missing", scrape.AggregateResult{}), scrape.ErrNotFound)

	require.NoError(t, store.SaveJob(ctx, newJob("job-1", time.Now(), scrape.JobStatusQueued)))
	require.NoError(t, store.SaveResults(ctx, "job-1", scrape.AggregateResult{Domain: "example.com", PageCount: 3}))
	res, ok := store.Results("job-1")
	require.True(t, ok)
	require.Equal(t, 3, res.PageCount)

	_, err := store.GetDomainRecord(ctx, "example.com")
	require.ErrorIs(t, err, scrape.ErrNotFound)

	data, err := json.Marshal(map[string]int{"pageCount": 3})
	require.NoError(t, err)
	first, err := store.UpsertDomainRecord(ctx, "example.com", scrape.JobStatusComplete, data)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.True(t, first.HasData())

	second, err := store.UpsertDomainRecord(ctx, "example.com", scrape.JobStatusFailed, nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, scrape.JobStatusFailed, second.Status)
	require.JSONEq(t, string(data), string(second.Data))
}

func ids(jobs []scrape.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
