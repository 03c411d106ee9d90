package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/site-scraper/internal/id/uuid"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// JobStore provides an in-memory scrape.JobStore for development and testing.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]scrape.Job
	states  map[string]scrape.CrawlState
	results map[string]scrape.AggregateResult
	domains map[string]scrape.DomainRecord
	now     func() time.Time
}

var _ scrape.JobStore = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]scrape.Job),
		states:  make(map[string]scrape.CrawlState),
		results: make(map[string]scrape.AggregateResult),
		domains: make(map[string]scrape.DomainRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SaveJob stores a new job.
func (s *JobStore) SaveJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// UpdateJobStatus applies a status change. Writes to terminal jobs are ignored
// so repeated cancellation stays idempotent.
func (s *JobStore) UpdateJobStatus(_ context.Context, update scrape.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[update.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", update.JobID, scrape.ErrNotFound)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = update.Status
	job.Progress = update.Progress
	job.Message = update.Message
	job.Error = update.Error
	if update.StartedAt != nil {
		job.StartedAt = pointerTime(*update.StartedAt)
	}
	if update.Status == scrape.JobStatusQueued {
		job.StartedAt = nil
	}
	if update.CompletedAt != nil {
		job.CompletedAt = pointerTime(*update.CompletedAt)
	} else if update.Status.IsTerminal() {
		job.CompletedAt = pointerTime(s.now())
	}
	s.jobs[update.JobID] = job
	return nil
}

// GetJobStatus fetches a job by ID.
func (s *JobStore) GetJobStatus(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	return job.Clone(), nil
}

// ListJobs returns jobs newest first, filtered and paginated.
func (s *JobStore) ListJobs(_ context.Context, filter scrape.ListFilter) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scrape.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset >= len(out) {
		return []scrape.Job{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetPendingJobs returns queued and processing jobs, oldest first.
func (s *JobStore) GetPendingJobs(_ context.Context) ([]scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scrape.Job
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CanResumeJob reports whether partial crawl state exists for the job.
func (s *JobStore) CanResumeJob(_ context.Context, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[jobID]
	return ok && (len(state.Frontier) > 0 || len(state.Pages) > 0), nil
}

// SaveCrawlState replaces the checkpoint for a job.
func (s *JobStore) SaveCrawlState(_ context.Context, state scrape.CrawlState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal crawl state: %w", err)
	}
	var copied scrape.CrawlState
	if err := json.Unmarshal(data, &copied); err != nil {
		return fmt.Errorf("copy crawl state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.JobID] = copied
	return nil
}

// LoadCrawlState returns the checkpoint for a job.
func (s *JobStore) LoadCrawlState(_ context.Context, jobID string) (scrape.CrawlState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[jobID]
	if !ok {
		return scrape.CrawlState{}, fmt.Errorf("crawl state %s: %w", jobID, scrape.ErrNotFound)
	}
	return state, nil
}

// ClearCrawlState drops the checkpoint for a job.
func (s *JobStore) ClearCrawlState(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, jobID)
	return nil
}

// SaveResults records the aggregate produced by a job.
func (s *JobStore) SaveResults(_ context.Context, jobID string, result scrape.AggregateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	s.results[jobID] = result
	return nil
}

// Results returns the saved aggregate for a job.
func (s *JobStore) Results(jobID string) (scrape.AggregateResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[jobID]
	return res, ok
}

// UpsertDomainRecord creates the record on first use and updates it in place
// afterwards. A nil data argument keeps the existing data.
func (s *JobStore) UpsertDomainRecord(
	_ context.Context,
	domain string,
	status scrape.JobStatus,
	data []byte,
) (scrape.DomainRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	rec, ok := s.domains[domain]
	if !ok {
		id, err := uuid.NewGenerator().NewID()
		if err != nil {
			return scrape.DomainRecord{}, fmt.Errorf("generate domain id: %w", err)
		}
		rec = scrape.DomainRecord{
			ID:        id,
			Domain:    domain,
			CreatedAt: now,
		}
	}
	rec.Status = status
	rec.UpdatedAt = now
	if data != nil {
		rec.Data = append([]byte(nil), data...)
	}
	s.domains[domain] = rec
	return rec, nil
}

// GetDomainRecord fetches the record for a domain.
func (s *JobStore) GetDomainRecord(_ context.Context, domain string) (scrape.DomainRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.domains[domain]
	if !ok {
		return scrape.DomainRecord{}, fmt.Errorf("domain %s: %w", domain, scrape.ErrNotFound)
	}
	return rec, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
