package scrape

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusComplete, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a forward edge of the
// job state machine.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing || next == JobStatusCancelled
	case JobStatusProcessing:
		return next == JobStatusComplete || next == JobStatusFailed || next == JobStatusCancelled
	default:
		return false
	}
}

// ParseStatus validates a status string.
func ParseStatus(raw string) (JobStatus, error) {
	status := JobStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case JobStatusQueued, JobStatusProcessing, JobStatusComplete, JobStatusFailed, JobStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, raw)
	}
}

// Priority selects the dispatch tier of a job.
type Priority string

// Supported priorities, highest first.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists the tiers in dispatch order.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority validates a priority string; empty selects normal.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	switch p {
	case "":
		return PriorityNormal, nil
	case PriorityHigh, PriorityNormal, PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidRequest, raw)
	}
}

// Job represents the metadata persisted for each submitted scrape request.
type Job struct {
	ID             string     `json:"jobId"`
	Domain         string     `json:"domain"`
	Depth          int        `json:"depth"`
	Priority       Priority   `json:"priority"`
	MaxPages       int        `json:"maxPages"`
	Extractors     []string   `json:"extractors,omitempty"`
	BypassCooldown bool       `json:"bypassCooldown"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	Message        string     `json:"message"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate scheduler-owned state.
func (j Job) Clone() Job {
	out := j
	if j.Extractors != nil {
		out.Extractors = append([]string(nil), j.Extractors...)
	}
	if j.StartedAt != nil {
		ts := *j.StartedAt
		out.StartedAt = &ts
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}

// Channel returns the event channel scoped to the job.
func (j Job) Channel() string {
	return JobChannel(j.ID)
}

// JobChannel formats the job-scoped event channel name.
func JobChannel(jobID string) string {
	return "job-" + jobID
}

// EventJobUpdate is the event name carried on job channels.
const EventJobUpdate = "job-update"

// JobUpdate is the payload of a job-update event.
type JobUpdate struct {
	JobID    string    `json:"jobId"`
	Domain   string    `json:"domain"`
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message"`
}

// Update snapshots the job into an event payload.
func (j Job) Update() JobUpdate {
	return JobUpdate{
		JobID:    j.ID,
		Domain:   j.Domain,
		Status:   j.Status,
		Progress: j.Progress,
		Message:  j.Message,
	}
}

// StatusUpdate carries a job state change to the store.
type StatusUpdate struct {
	JobID       string
	Status      JobStatus
	Progress    int
	Message     string
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ListFilter narrows ListJobs results.
type ListFilter struct {
	Status *JobStatus
	Limit  int
	Offset int
}

// Page is one discovered crawl unit. Pages only live for the duration of a job.
type Page struct {
	URL     string `json:"url"`
	Depth   int    `json:"depth"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// FrontierEntry is a URL waiting to be crawled.
type FrontierEntry struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// CrawlState captures partial discovery progress so an interrupted job can resume.
type CrawlState struct {
	JobID     string          `json:"jobId"`
	Domain    string          `json:"domain"`
	Visited   []string        `json:"visited"`
	Frontier  []FrontierEntry `json:"frontier"`
	Pages     []Page          `json:"pages"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// DomainRecord is the durable anchor per crawled domain.
type DomainRecord struct {
	ID        string          `json:"id"`
	Domain    string          `json:"domain"`
	Status    JobStatus       `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// HasData reports whether a successful crawl has populated the record.
func (r DomainRecord) HasData() bool {
	return len(r.Data) > 0 && string(r.Data) != "null"
}

// DiscoverRequest captures the inputs of one discovery run.
type DiscoverRequest struct {
	Domain         string
	Depth          int
	JobID          string
	MaxPages       int
	BypassCooldown bool
	Cooldown       time.Duration
	// OnProgress is called after each page with the number of pages gathered so far.
	OnProgress func(discovered, limit int)
}

// DomainContext is handed to the extraction orchestrator.
type DomainContext struct {
	Domain     string
	JobID      string
	Extractors []string
	OnProgress func(done, total int)
}

// NormalizeDomain lower-cases the host and strips scheme, path and port.
func NormalizeDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	d = strings.Trim(d, ".")
	if d == "" || strings.ContainsAny(d, " \t") {
		return "", fmt.Errorf("%w: invalid domain %q", ErrInvalidRequest, raw)
	}
	return d, nil
}
