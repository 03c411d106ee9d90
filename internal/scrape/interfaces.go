package scrape

import (
	"context"
	"io"
	"net/http"
	"time"
)

// JobStore is the durability source of truth for jobs, crawl state and results.
type JobStore interface {
	SaveJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, update StatusUpdate) error
	GetJobStatus(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, filter ListFilter) ([]Job, error)
	// GetPendingJobs returns every non-terminal job ordered by creation time.
	GetPendingJobs(ctx context.Context) ([]Job, error)

	CanResumeJob(ctx context.Context, jobID string) (bool, error)
	SaveCrawlState(ctx context.Context, state CrawlState) error
	LoadCrawlState(ctx context.Context, jobID string) (CrawlState, error)
	ClearCrawlState(ctx context.Context, jobID string) error

	SaveResults(ctx context.Context, jobID string, result AggregateResult) error
	UpsertDomainRecord(ctx context.Context, domain string, status JobStatus, data []byte) (DomainRecord, error)
	GetDomainRecord(ctx context.Context, domain string) (DomainRecord, error)
}

// EventPublisher broadcasts payloads to subscribers of a channel. Delivery is
// best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       string
	URL         string
	Depth       int
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
