// Package postgres persists scrape jobs, crawl state, results and domain records
// in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-scraper/internal/id/uuid"
	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore implements scrape.JobStore on top of pgx.
type JobStore struct {
	pool pool
	now  func() time.Time
}

var _ scrape.JobStore = (*JobStore)(nil)

// NewJobStore connects to Postgres using cfg.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewJobStoreWithPool(p)
}

// NewJobStoreWithPool wraps an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool) (*JobStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &JobStore{
		pool: p,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// Exec runs an arbitrary parametrised statement.
func (s *JobStore) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const jobColumns = `id, domain, depth, priority, max_pages, extractors, bypass_cooldown,
	status, progress, message, error, created_at, started_at, completed_at`

// SaveJob inserts a new job row.
func (s *JobStore) SaveJob(ctx context.Context, job scrape.Job) error {
	extractors := job.Extractors
	if extractors == nil {
		extractors = []string{}
	}
	rawExtractors, err := json.Marshal(extractors)
	if err != nil {
		return fmt.Errorf("marshal extractors: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO scrape_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID,
		job.Domain,
		job.Depth,
		string(job.Priority),
		job.MaxPages,
		rawExtractors,
		job.BypassCooldown,
		string(job.Status),
		job.Progress,
		job.Message,
		job.Error,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJobStatus writes a state change. Terminal rows are left untouched.
func (s *JobStore) UpdateJobStatus(ctx context.Context, update scrape.StatusUpdate) error {
	completedAt := update.CompletedAt
	if completedAt == nil && update.Status.IsTerminal() {
		now := s.now()
		completedAt = &now
	}
	tag, err := s.pool.Exec(ctx, `UPDATE scrape_jobs SET
			status = $2,
			progress = $3,
			message = $4,
			error = $5,
			started_at = CASE WHEN $8 THEN NULL ELSE COALESCE($6, started_at) END,
			completed_at = COALESCE($7, completed_at)
		WHERE id = $1 AND status NOT IN ('complete', 'failed', 'cancelled')`,
		update.JobID,
		string(update.Status),
		update.Progress,
		update.Message,
		update.Error,
		update.StartedAt,
		completedAt,
		update.Status == scrape.JobStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", update.JobID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scrape_jobs WHERE id = $1)`,
		update.JobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job %s: %w", update.JobID, err)
	}
	if !exists {
		return fmt.Errorf("job %s: %w", update.JobID, scrape.ErrNotFound)
	}
	return nil
}

// GetJobStatus loads one job.
func (s *JobStore) GetJobStatus(ctx context.Context, jobID string) (scrape.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, fmt.Errorf("job %s: %w", jobID, scrape.ErrNotFound)
	}
	if err != nil {
		return scrape.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns jobs newest first. A zero limit returns every matching row.
func (s *JobStore) ListJobs(ctx context.Context, filter scrape.ListFilter) ([]scrape.Job, error) {
	var status *string
	if filter.Status != nil {
		v := string(*filter.Status)
		status = &v
	}
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM scrape_jobs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, status, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// GetPendingJobs returns queued and processing jobs, oldest first.
func (s *JobStore) GetPendingJobs(ctx context.Context) ([]scrape.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM scrape_jobs
		WHERE status IN ('queued', 'processing')
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("pending jobs: %w", err)
	}
	return collectJobs(rows)
}

// CanResumeJob reports whether a checkpoint exists for the job.
func (s *JobStore) CanResumeJob(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM crawl_states WHERE job_id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check crawl state %s: %w", jobID, err)
	}
	return exists, nil
}

// SaveCrawlState upserts the checkpoint for a job.
func (s *JobStore) SaveCrawlState(ctx context.Context, state scrape.CrawlState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal crawl state: %w", err)
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO crawl_states (job_id, domain, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		state.JobID, state.Domain, raw, updatedAt)
	if err != nil {
		return fmt.Errorf("save crawl state %s: %w", state.JobID, err)
	}
	return nil
}

// LoadCrawlState reads the checkpoint for a job.
func (s *JobStore) LoadCrawlState(ctx context.Context, jobID string) (scrape.CrawlState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM crawl_states WHERE job_id = $1`, jobID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.CrawlState{}, fmt.Errorf("crawl state %s: %w", jobID, scrape.ErrNotFound)
	}
	if err != nil {
		return scrape.CrawlState{}, fmt.Errorf("load crawl state %s: %w", jobID, err)
	}
	var state scrape.CrawlState
	if err := json.Unmarshal(raw, &state); err != nil {
		return scrape.CrawlState{}, fmt.Errorf("decode crawl state %s: %w", jobID, err)
	}
	return state, nil
}

// ClearCrawlState deletes the checkpoint for a job.
func (s *JobStore) ClearCrawlState(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM crawl_states WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clear crawl state %s: %w", jobID, err)
	}
	return nil
}

// SaveResults upserts the aggregate for a job.
func (s *JobStore) SaveResults(ctx context.Context, jobID string, result scrape.AggregateResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	scrapedAt := result.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = s.now()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO job_results (job_id, domain, result, scraped_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE SET result = EXCLUDED.result, scraped_at = EXCLUDED.scraped_at`,
		jobID, result.Domain, raw, scrapedAt)
	if err != nil {
		return fmt.Errorf("save results %s: %w", jobID, err)
	}
	return nil
}

// UpsertDomainRecord inserts or updates the record for domain. A nil data keeps
// the stored data.
func (s *JobStore) UpsertDomainRecord(
	ctx context.Context,
	domain string,
	status scrape.JobStatus,
	data []byte,
) (scrape.DomainRecord, error) {
	id, err := uuid.NewGenerator().NewID()
	if err != nil {
		return scrape.DomainRecord{}, fmt.Errorf("generate domain id: %w", err)
	}
	now := s.now()
	if _, err := s.Exec(ctx, `INSERT INTO domains (id, domain, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (domain) DO UPDATE SET
			status = EXCLUDED.status,
			data = COALESCE(EXCLUDED.data, domains.data),
			updated_at = EXCLUDED.updated_at`,
		id, domain, string(status), data, now); err != nil {
		return scrape.DomainRecord{}, fmt.Errorf("upsert domain %s: %w", domain, err)
	}
	return s.GetDomainRecord(ctx, domain)
}

// GetDomainRecord loads the record for domain.
func (s *JobStore) GetDomainRecord(ctx context.Context, domain string) (scrape.DomainRecord, error) {
	var (
		rec    scrape.DomainRecord
		status string
		data   []byte
	)
	err := s.pool.QueryRow(ctx, `SELECT id::text, domain, status, data, created_at, updated_at
		FROM domains WHERE domain = $1`, domain).
		Scan(&rec.ID, &rec.Domain, &status, &data, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.DomainRecord{}, fmt.Errorf("domain %s: %w", domain, scrape.ErrNotFound)
	}
	if err != nil {
		return scrape.DomainRecord{}, fmt.Errorf("get domain %s: %w", domain, err)
	}
	rec.Status = scrape.JobStatus(status)
	rec.Data = data
	return rec, nil
}

func scanJob(row pgx.Row) (scrape.Job, error) {
	var (
		job        scrape.Job
		priority   string
		status     string
		extractors []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Domain,
		&job.Depth,
		&priority,
		&job.MaxPages,
		&extractors,
		&job.BypassCooldown,
		&status,
		&job.Progress,
		&job.Message,
		&job.Error,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	); err != nil {
		return scrape.Job{}, err
	}
	job.Priority = scrape.Priority(priority)
	job.Status = scrape.JobStatus(status)
	if len(extractors) > 0 {
		if err := json.Unmarshal(extractors, &job.Extractors); err != nil {
			return scrape.Job{}, fmt.Errorf("decode extractors: %w", err)
		}
		if len(job.Extractors) == 0 {
			job.Extractors = nil
		}
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]scrape.Job, error) {
	defer rows.Close()
	out := []scrape.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}
