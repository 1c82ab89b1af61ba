// Package postgres provides Postgres-backed persistence implementations.
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

	"github.com/crowdlens/social-crawler/internal/scrape"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the subset of pgxpool.Pool the stores use; pgxmock satisfies
// it in tests.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements scrape.JobStore and scrape.SeenStore on Postgres.
type Store struct {
	pool dbPool
}

// New creates a Store with its own connection pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, campaign_ref, sources, status, progress, error_text, queued_at, started_at, completed_at`

// CreateJob inserts a new queued job row.
func (s *Store) CreateJob(ctx context.Context, job scrape.ScrapeJob) error {
	sources, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	progress, err := json.Marshal(job.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	queuedAt := job.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO scrape_jobs (id, campaign_ref, sources, status, progress, error_text, queued_at)
VALUES ($1, $2, $3, $4, $5, '', $6)`,
		job.ID, job.CampaignRef, sources, string(scrape.JobStatusQueued), progress, queuedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// ClaimJob transitions queued -> running atomically; the WHERE clause is
// the lock.
func (s *Store) ClaimJob(ctx context.Context, jobID string) (scrape.ScrapeJob, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE scrape_jobs
SET status = $2, started_at = now()
WHERE id = $1 AND status = $3
RETURNING `+jobColumns,
		jobID, string(scrape.JobStatusRunning), string(scrape.JobStatusQueued))

	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.ScrapeJob{}, s.classifyMiss(ctx, jobID)
	}
	return scrape.ScrapeJob{}, fmt.Errorf("claim job: %w", err)
}

// UpdateProgress overwrites the progress document.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress scrape.Progress) error {
	doc, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE scrape_jobs SET progress = $2 WHERE id = $1`, jobID, doc)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrJobNotFound
	}
	return nil
}

// FinishJob transitions running -> completed/failed.
func (s *Store) FinishJob(ctx context.Context, jobID string, status scrape.JobStatus, errText string) error {
	if status != scrape.JobStatusCompleted && status != scrape.JobStatusFailed {
		return errors.New("finish status must be completed or failed")
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_jobs
SET status = $2, error_text = $3, completed_at = now()
WHERE id = $1 AND status = $4`,
		jobID, string(status), errText, string(scrape.JobStatusRunning))
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, jobID)
	}
	return nil
}

// CancelJob transitions queued -> cancelled. Running and terminal jobs are
// rejected.
func (s *Store) CancelJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE scrape_jobs
SET status = $2, completed_at = now()
WHERE id = $1 AND status = $3`,
		jobID, string(scrape.JobStatusCancelled), string(scrape.JobStatusQueued))
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, jobID)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (scrape.ScrapeJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.ScrapeJob{}, scrape.ErrJobNotFound
	}
	if err != nil {
		return scrape.ScrapeJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// classifyMiss distinguishes an unknown job from one in the wrong state
// after a guarded UPDATE matched nothing.
func (s *Store) classifyMiss(ctx context.Context, jobID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scrape_jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return scrape.ErrJobNotFound
	}
	return scrape.ErrNotQueued
}

// KnownIDs returns every recorded id for a campaign and entity kind.
func (s *Store) KnownIDs(ctx context.Context, campaignRef, kind string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT entity_id FROM seen_ids WHERE campaign_ref = $1 AND kind = $2`, campaignRef, kind)
	if err != nil {
		return nil, fmt.Errorf("query seen ids: %w", err)
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen id: %w", err)
		}
		known[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen ids: %w", err)
	}
	return known, nil
}

// RecordIDs marks ids as seen; re-recording an id is a no-op.
func (s *Store) RecordIDs(ctx context.Context, campaignRef, kind string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO seen_ids (campaign_ref, kind, entity_id)
SELECT $1, $2, unnest($3::text[])
ON CONFLICT DO NOTHING`,
		campaignRef, kind, ids)
	if err != nil {
		return fmt.Errorf("record seen ids: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (scrape.ScrapeJob, error) {
	var (
		job          scrape.ScrapeJob
		sourcesDoc   []byte
		progressDoc  []byte
		statusString string
	)
	err := row.Scan(
		&job.ID,
		&job.CampaignRef,
		&sourcesDoc,
		&statusString,
		&progressDoc,
		&job.Error,
		&job.QueuedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return scrape.ScrapeJob{}, err
	}
	job.Status = scrape.JobStatus(statusString)
	if len(sourcesDoc) > 0 {
		if err := json.Unmarshal(sourcesDoc, &job.Sources); err != nil {
			return scrape.ScrapeJob{}, fmt.Errorf("unmarshal sources: %w", err)
		}
	}
	if len(progressDoc) > 0 {
		if err := json.Unmarshal(progressDoc, &job.Progress); err != nil {
			return scrape.ScrapeJob{}, fmt.Errorf("unmarshal progress: %w", err)
		}
	}
	return job, nil
}
