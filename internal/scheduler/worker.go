package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// Pipeline progress milestones.
const (
	progressDiscovering = 10
	progressExtracting  = 30
	progressExtracted   = 60
	progressAssembling  = 80
	progressComplete    = 100
)

const archiveTimeLayout = "20060102T150405Z"

// run executes the pipeline for one job. Every mutation goes through the
// manager, which discards it once the worker no longer owns the job.
func (m *Manager) run(ctx context.Context, aj *activeJob, job scrape.Job) {
	log := m.logger.With(zap.String("job_id", job.ID), zap.String("domain", job.Domain))
	defer m.workers.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			m.fail(aj, fmt.Errorf("%w: panic: %v", scrape.ErrPipeline, r), log)
		}
	}()

	storeCtx, cancel := m.storeContext()
	err := m.store.UpdateJobStatus(storeCtx, scrape.StatusUpdate{
		JobID:     job.ID,
		Status:    scrape.JobStatusProcessing,
		Progress:  0,
		Message:   job.Message,
		StartedAt: job.StartedAt,
	})
	cancel()
	if err != nil {
		m.fail(aj, fmt.Errorf("%w: mark processing: %w", scrape.ErrPipeline, err), log)
		return
	}

	if m.halted(ctx, aj) || !m.advance(aj, progressDiscovering, "Discovering pages") {
		return
	}
	pages, err := m.discoverer.Discover(ctx, scrape.DiscoverRequest{
		Domain:         job.Domain,
		Depth:          job.Depth,
		JobID:          job.ID,
		MaxPages:       job.MaxPages,
		BypassCooldown: job.BypassCooldown,
		Cooldown:       m.cfg.Cooldown,
		OnProgress: func(discovered, limit int) {
			m.advance(aj, scale(progressDiscovering, progressExtracting-1, discovered, limit),
				fmt.Sprintf("Discovering pages (%d/%d)", discovered, limit))
		},
	})
	if err != nil {
		if m.halted(ctx, aj) {
			return
		}
		log.Warn("discovery failed, continuing with no pages",
			zap.Error(fmt.Errorf("%w: %w", scrape.ErrDiscovery, err)))
		pages = nil
	}

	if m.halted(ctx, aj) || !m.advance(aj, progressExtracting, "Extracting content") {
		return
	}
	result, report := m.extractor.Run(ctx, pages, scrape.DomainContext{
		Domain:     job.Domain,
		JobID:      job.ID,
		Extractors: job.Extractors,
		OnProgress: func(done, total int) {
			m.advance(aj, scale(progressExtracting, progressExtracted, done, total),
				fmt.Sprintf("Extracting content (%d/%d pages)", done, total))
		},
	})
	if len(report.Failed) > 0 {
		log.Warn("extractors fell back to defaults", zap.Any("failed", report.Failed))
	}

	if m.halted(ctx, aj) || !m.advance(aj, progressAssembling, "Assembling results") {
		return
	}
	if err := m.persistResult(job, result, log); err != nil {
		m.fail(aj, err, log)
		return
	}

	if m.halted(ctx, aj) {
		return
	}
	message := "Scrape completed"
	if report.Minimal {
		message = "Scrape completed with minimal results"
	}
	if m.finish(aj, scrape.JobStatusComplete, progressComplete, message, "") {
		log.Info("job complete", zap.Int("pages", result.PageCount), zap.Bool("minimal", report.Minimal))
	}
}

// persistResult saves the aggregate, refreshes the domain record and archives
// a JSON copy. Archive failures are logged only.
func (m *Manager) persistResult(job scrape.Job, result scrape.AggregateResult, log *zap.Logger) error {
	ctx, cancel := m.storeContext()
	defer cancel()

	if err := m.store.SaveResults(ctx, job.ID, result); err != nil {
		return fmt.Errorf("%w: save results: %w", scrape.ErrPipeline, err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("%w: encode results: %w", scrape.ErrPipeline, err)
	}

	if err := m.recordDomain(ctx, job.Domain, result.PageCount, data); err != nil {
		return err
	}

	if m.archive != nil {
		key := path.Join(m.cfg.ArchivePrefix, job.Domain, result.ScrapedAt.UTC().Format(archiveTimeLayout)+".json")
		uri, err := m.archive.PutObject(ctx, key, "application/json", bytes.NewReader(data))
		if err != nil {
			log.Warn("archive result failed", zap.String("path", key), zap.Error(err))
		} else {
			log.Debug("result archived", zap.String("uri", uri))
		}
	}
	return nil
}

// recordDomain upserts the domain record after a crawl that found pages. A
// zero-page run only creates a missing record: its UpdatedAt is the cooldown
// anchor and must keep pointing at the last real crawl.
func (m *Manager) recordDomain(ctx context.Context, domain string, pages int, data []byte) error {
	if pages == 0 {
		_, err := m.store.GetDomainRecord(ctx, domain)
		if err == nil {
			return nil
		}
		if !errors.Is(err, scrape.ErrNotFound) {
			return fmt.Errorf("%w: load domain record: %w", scrape.ErrPipeline, err)
		}
		data = nil
	}
	if _, err := m.store.UpsertDomainRecord(ctx, domain, scrape.JobStatusComplete, data); err != nil {
		return fmt.Errorf("%w: upsert domain record: %w", scrape.ErrPipeline, err)
	}
	return nil
}

func (m *Manager) fail(aj *activeJob, err error, log *zap.Logger) {
	if m.finish(aj, scrape.JobStatusFailed, 0, "Scrape failed", err.Error()) {
		log.Error("job failed", zap.Error(err))
	}
}

// halted is the cancellation checkpoint between pipeline stages.
func (m *Manager) halted(ctx context.Context, aj *activeJob) bool {
	if ctx.Err() != nil {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.ownsLocked(aj)
}

// scale maps done/total linearly onto [from, to].
func scale(from, to, done, total int) int {
	if total <= 0 {
		return from
	}
	done = min(max(done, 0), total)
	return from + (to-from)*done/total
}
