// Package scheduler owns the job lifecycle: admission into the priority
// queue, bounded-concurrency dispatch, the per-job pipeline and cancellation.
//
// A single mutex guards the queue, the active set and the completed cache so
// every dispatch decision is atomic. Store writes happen outside the lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/extract"
	"github.com/JakeFAU/site-scraper/internal/id/uuid"
	"github.com/JakeFAU/site-scraper/internal/metrics"
	"github.com/JakeFAU/site-scraper/internal/queue/priority"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// Discoverer gathers the pages of a domain.
type Discoverer interface {
	Discover(ctx context.Context, req scrape.DiscoverRequest) ([]scrape.Page, error)
}

// Extractor turns pages into the aggregate result. It must not fail.
type Extractor interface {
	Run(ctx context.Context, pages []scrape.Page, dctx scrape.DomainContext) (scrape.AggregateResult, extract.Report)
}

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Option customises a Manager.
type Option func(*Manager)

// WithArchive stores a JSON copy of every result in blobs.
func WithArchive(blobs scrape.BlobStore) Option {
	return func(m *Manager) { m.archive = blobs }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides job ID generation.
func WithIDGenerator(gen scrape.IDGenerator) Option {
	return func(m *Manager) { m.ids = gen }
}

type activeJob struct {
	id     string
	job    scrape.Job
	cancel context.CancelFunc
}

// Manager schedules and runs scrape jobs.
type Manager struct {
	cfg        Config
	store      scrape.JobStore
	discoverer Discoverer
	extractor  Extractor
	events     scrape.EventPublisher
	archive    scrape.BlobStore
	ids        scrape.IDGenerator
	now        func() time.Time
	logger     *zap.Logger

	mu        sync.Mutex
	queue     *priority.Queue
	active    map[string]*activeJob
	completed *completedCache
	started   bool
	stopping  bool

	wake        chan struct{}
	loopDone    chan struct{}
	stopLoop    context.CancelFunc
	workerCtx   context.Context
	stopWorkers context.CancelFunc
	workers     sync.WaitGroup
}

// New constructs a Manager. events may be nil.
func New(
	cfg Config,
	store scrape.JobStore,
	discoverer Discoverer,
	extractor Extractor,
	events scrape.EventPublisher,
	logger *zap.Logger,
	opts ...Option,
) (*Manager, error) {
	if store == nil {
		return nil, errors.New("scheduler: job store is required")
	}
	if discoverer == nil {
		return nil, errors.New("scheduler: discoverer is required")
	}
	if extractor == nil {
		return nil, errors.New("scheduler: extractor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:        cfg,
		store:      store,
		discoverer: discoverer,
		extractor:  extractor,
		events:     events,
		ids:        uuid.NewGenerator(),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.Named("scheduler"),
		queue:      priority.New(),
		active:     make(map[string]*activeJob),
		completed:  newCompletedCache(cfg.CompletedCacheSize),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.workerCtx, m.stopWorkers = context.WithCancel(context.Background())
	return m, nil
}

// Submit validates, persists and enqueues a job.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	job, err := m.cfg.normalize(req)
	if err != nil {
		return SubmitResponse{}, err
	}
	id, err := m.ids.NewID()
	if err != nil {
		return SubmitResponse{}, fmt.Errorf("%w: %w", scrape.ErrPipeline, err)
	}
	job.ID = id
	job.Status = scrape.JobStatusQueued
	job.Message = "Queued"
	job.CreatedAt = m.now()

	if err := m.store.SaveJob(ctx, job); err != nil {
		return SubmitResponse{}, fmt.Errorf("%w: save job %s: %w", scrape.ErrPersistence, id, err)
	}

	m.mu.Lock()
	// A concurrent Start may already have recovered the saved job.
	_, queued := m.queue.Get(id)
	_, running := m.active[id]
	if !queued && !running {
		m.queue.Push(job)
		m.publishLocked(job)
	}
	eta := m.cfg.estimate(max(m.queue.Position(id), 0), len(m.active))
	m.observeLocked()
	m.mu.Unlock()
	m.signal()

	metrics.ObserveSubmitted(string(job.Priority))
	m.logger.Info("job submitted",
		zap.String("job_id", id),
		zap.String("domain", job.Domain),
		zap.String("priority", string(job.Priority)),
		zap.Duration("estimated", eta),
	)
	return SubmitResponse{JobID: id, Status: scrape.JobStatusQueued, EstimatedTime: eta}, nil
}

// Status returns the freshest known view of a job.
func (m *Manager) Status(ctx context.Context, jobID string) (scrape.Job, error) {
	m.mu.Lock()
	if aj, ok := m.active[jobID]; ok {
		job := aj.job.Clone()
		m.mu.Unlock()
		return job, nil
	}
	if job, ok := m.completed.get(jobID); ok {
		m.mu.Unlock()
		return job.Clone(), nil
	}
	if job, ok := m.queue.Get(jobID); ok {
		m.mu.Unlock()
		return job.Clone(), nil
	}
	m.mu.Unlock()

	job, err := m.store.GetJobStatus(ctx, jobID)
	if err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
		}
		return scrape.Job{}, fmt.Errorf("%w: get job %s: %w", scrape.ErrPersistence, jobID, err)
	}
	return job, nil
}

// List delegates to the job store.
func (m *Manager) List(ctx context.Context, filter scrape.ListFilter) ([]scrape.Job, error) {
	jobs, err := m.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %w", scrape.ErrPersistence, err)
	}
	return jobs, nil
}

// Cancel stops a queued or processing job. It never returns an error; the
// result explains what happened.
func (m *Manager) Cancel(ctx context.Context, jobID string) CancelResult {
	m.mu.Lock()
	if aj, ok := m.active[jobID]; ok {
		aj.cancel()
		delete(m.active, jobID)
		job := m.terminateLocked(&aj.job, scrape.JobStatusCancelled, aj.job.Progress, "Cancelled by request", "")
		m.mu.Unlock()
		m.signal()
		m.persistTerminal(job)
		m.logger.Info("processing job cancelled", zap.String("job_id", jobID))
		return CancelResult{Success: true, Message: "Job cancelled"}
	}
	if queued, ok := m.queue.Remove(jobID); ok {
		job := m.terminateLocked(&queued, scrape.JobStatusCancelled, queued.Progress, "Cancelled before start", "")
		m.mu.Unlock()
		m.persistTerminal(job)
		m.logger.Info("queued job cancelled", zap.String("job_id", jobID))
		return CancelResult{Success: true, Message: "Job removed from queue"}
	}
	m.mu.Unlock()

	job, err := m.store.GetJobStatus(ctx, jobID)
	switch {
	case errors.Is(err, scrape.ErrNotFound):
		return CancelResult{Success: false, Message: "Job not found"}
	case err != nil:
		m.logger.Warn("cancel lookup failed", zap.String("job_id", jobID), zap.Error(err))
		return CancelResult{Success: false, Message: "Job store unavailable"}
	case job.Status.IsTerminal():
		return CancelResult{Success: false, Message: fmt.Sprintf("Job already %s", job.Status)}
	}
	completedAt := m.now()
	if err := m.store.UpdateJobStatus(ctx, scrape.StatusUpdate{
		JobID:       jobID,
		Status:      scrape.JobStatusCancelled,
		Progress:    job.Progress,
		Message:     "Cancelled by request",
		CompletedAt: &completedAt,
	}); err != nil {
		m.logger.Warn("cancel write failed", zap.String("job_id", jobID), zap.Error(err))
		return CancelResult{Success: false, Message: "Job store unavailable"}
	}
	return CancelResult{Success: true, Message: "Job cancelled"}
}

// Start recovers unfinished jobs from the store and launches the dispatch loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	if err := m.recoverPending(ctx); err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}

	loopCtx, stop := context.WithCancel(context.Background())
	m.mu.Lock()
	m.stopLoop = stop
	m.loopDone = make(chan struct{})
	m.mu.Unlock()
	go m.loop(loopCtx)
	m.signal()
	m.logger.Info("scheduler started", zap.Int("concurrency", m.cfg.Concurrency))
	return nil
}

func (m *Manager) recoverPending(ctx context.Context) error {
	pending, err := m.store.GetPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("%w: load pending jobs: %w", scrape.ErrPersistence, err)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	demoted := 0
	for i := range pending {
		job := &pending[i]
		if job.Status == scrape.JobStatusProcessing {
			job.Status = scrape.JobStatusQueued
			job.StartedAt = nil
			job.Message = "Recovered after restart"
			if err := m.store.UpdateJobStatus(ctx, scrape.StatusUpdate{
				JobID:    job.ID,
				Status:   scrape.JobStatusQueued,
				Progress: job.Progress,
				Message:  job.Message,
			}); err != nil {
				return fmt.Errorf("%w: demote job %s: %w", scrape.ErrPersistence, job.ID, err)
			}
			demoted++
		}
	}

	m.mu.Lock()
	for _, job := range pending {
		// Jobs submitted before Start are already queued.
		if _, queued := m.queue.Get(job.ID); queued {
			continue
		}
		m.queue.Push(job)
	}
	m.observeLocked()
	m.mu.Unlock()
	if len(pending) > 0 {
		m.logger.Info("recovered pending jobs", zap.Int("jobs", len(pending)), zap.Int("demoted", demoted))
	}
	return nil
}

// Shutdown stops dispatching, cancels running workers and waits for them to
// return. Interrupted jobs stay processing in the store for the next Start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.started || m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	stopLoop, loopDone := m.stopLoop, m.loopDone
	m.mu.Unlock()

	stopLoop()
	select {
	case <-loopDone:
	case <-ctx.Done():
		return fmt.Errorf("stop dispatch loop: %w", ctx.Err())
	}
	m.stopWorkers()

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for workers: %w", ctx.Err())
	}
}

// Stats reports queue depth, active jobs and cache size.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Queued:      m.queue.LenByTier(),
		QueueDepth:  m.queue.Len(),
		Active:      len(m.active),
		Completed:   m.completed.len(),
		Concurrency: m.cfg.Concurrency,
		Running:     m.started && !m.stopping,
	}
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			m.processNextJob()
		}
	}
}

// processNextJob fills every free slot, highest tier first.
func (m *Manager) processNextJob() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		return
	}
	for len(m.active) < m.cfg.Concurrency {
		job, ok := m.queue.Pop()
		if !ok {
			break
		}
		m.startLocked(job)
	}
	m.observeLocked()
}

func (m *Manager) startLocked(job scrape.Job) {
	ctx, cancel := context.WithCancel(m.workerCtx)
	startedAt := m.now()
	job.Status = scrape.JobStatusProcessing
	job.Progress = 0
	job.Message = "Starting"
	job.Error = ""
	job.StartedAt = &startedAt
	aj := &activeJob{id: job.ID, job: job, cancel: cancel}
	m.active[job.ID] = aj
	m.publishLocked(job)

	m.workers.Add(1)
	go m.run(ctx, aj, job.Clone())
}

// ownsLocked reports whether aj still holds its slot. Callers hold m.mu.
func (m *Manager) ownsLocked(aj *activeJob) bool {
	return !m.stopping && m.active[aj.id] == aj
}

// advance records forward progress for a job the caller still owns. Lower
// progress and updates from workers that lost ownership are dropped.
func (m *Manager) advance(aj *activeJob, progress int, message string) bool {
	m.mu.Lock()
	if !m.ownsLocked(aj) || progress < aj.job.Progress {
		m.mu.Unlock()
		return false
	}
	if progress == aj.job.Progress && message == aj.job.Message {
		m.mu.Unlock()
		return true
	}
	aj.job.Progress = progress
	aj.job.Message = message
	job := aj.job.Clone()
	m.publishLocked(job)
	m.mu.Unlock()

	m.persist(scrape.StatusUpdate{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Message:   job.Message,
		StartedAt: job.StartedAt,
	})
	return true
}

// finish moves an owned job to a terminal status and frees its slot.
func (m *Manager) finish(aj *activeJob, status scrape.JobStatus, progress int, message, errText string) bool {
	m.mu.Lock()
	if m.active[aj.id] != aj {
		m.mu.Unlock()
		return false
	}
	delete(m.active, aj.id)
	aj.cancel()
	job := m.terminateLocked(&aj.job, status, max(progress, aj.job.Progress), message, errText)
	m.mu.Unlock()
	m.signal()
	m.persistTerminal(job)
	return true
}

// terminateLocked stamps job as terminal, caches and publishes it.
func (m *Manager) terminateLocked(job *scrape.Job, status scrape.JobStatus, progress int, message, errText string) scrape.Job {
	completedAt := m.now()
	job.Status = status
	job.Progress = progress
	job.Message = message
	job.Error = errText
	job.CompletedAt = &completedAt
	snapshot := job.Clone()
	m.completed.add(snapshot)
	m.publishLocked(snapshot)
	m.observeLocked()
	metrics.ObserveFinished(string(status))
	return snapshot
}

func (m *Manager) persistTerminal(job scrape.Job) {
	m.persist(scrape.StatusUpdate{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		Message:     job.Message,
		Error:       job.Error,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	})
}

func (m *Manager) persist(update scrape.StatusUpdate) {
	ctx, cancel := m.storeContext()
	defer cancel()
	if err := m.store.UpdateJobStatus(ctx, update); err != nil {
		m.logger.Warn("job status write failed",
			zap.String("job_id", update.JobID),
			zap.String("status", string(update.Status)),
			zap.Error(err),
		)
	}
}

// storeContext bounds worker-side store calls. It is detached from job
// cancellation so terminal writes still land.
func (m *Manager) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
}

// publishLocked emits a job-update event. The publisher must not block.
func (m *Manager) publishLocked(job scrape.Job) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(context.Background(), job.Channel(), scrape.EventJobUpdate, job.Update()); err != nil {
		m.logger.Warn("publish job update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (m *Manager) observeLocked() {
	metrics.SetActiveJobs(len(m.active))
	for tier, n := range m.queue.LenByTier() {
		metrics.SetQueueDepth(string(tier), n)
	}
}
