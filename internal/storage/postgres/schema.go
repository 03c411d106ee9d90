package postgres

import (
	"context"
	"fmt"
)

// schema is applied statement by statement by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS scrape_jobs (
		id              TEXT PRIMARY KEY,
		domain          TEXT NOT NULL,
		depth           INTEGER NOT NULL,
		priority        TEXT NOT NULL,
		max_pages       INTEGER NOT NULL,
		extractors      JSONB NOT NULL DEFAULT '[]'::jsonb,
		bypass_cooldown BOOLEAN NOT NULL DEFAULT FALSE,
		status          TEXT NOT NULL,
		progress        INTEGER NOT NULL DEFAULT 0,
		message         TEXT NOT NULL DEFAULT '',
		error           TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		started_at      TIMESTAMPTZ,
		completed_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS scrape_jobs_status_created_idx ON scrape_jobs (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS crawl_states (
		job_id     TEXT PRIMARY KEY REFERENCES scrape_jobs (id) ON DELETE CASCADE,
		domain     TEXT NOT NULL,
		state      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS job_results (
		job_id     TEXT PRIMARY KEY REFERENCES scrape_jobs (id) ON DELETE CASCADE,
		domain     TEXT NOT NULL,
		result     JSONB NOT NULL,
		scraped_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS domains (
		id         UUID PRIMARY KEY,
		domain     TEXT NOT NULL UNIQUE,
		status     TEXT NOT NULL,
		data       JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the tables used by the job store.
func (s *JobStore) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
