package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

const uniqueViolation = "23505"

type jobPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// JobStore persists crawl jobs in crawl_jobs and their listing outcomes in
// crawl_listings.
type JobStore struct {
	pool  jobPool
	clock crawler.Clock
}

// NewJobStore builds a JobStore over pool.
func NewJobStore(pool jobPool, clock crawler.Clock) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool, clock: clock}, nil
}

func (s *JobStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO crawl_jobs (id, status, submitted_at, parameters, counters)
VALUES ($1, $2, $3, $4, $5)`,
		job.ID, string(job.Status), job.Submitted, params, counters)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a job that is not yet terminal to status.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE crawl_jobs SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = CASE WHEN $6 THEN COALESCE(started_at, $5) ELSE started_at END,
	finished_at = CASE WHEN $7 THEN $5 ELSE finished_at END
WHERE id = $1 AND status NOT IN ('succeeded', 'partial', 'failed', 'canceled')`,
		jobID, string(status), errText, payload, s.now(),
		status == crawler.JobStatusRunning, status.IsTerminal())
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM crawl_jobs WHERE id = $1`, jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup job: %w", err)
	}
	return nil
}

// RecordListing stores one listing outcome.
func (s *JobStore) RecordListing(ctx context.Context, jobID string, result crawler.ListingResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal listing: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO crawl_listings (job_id, seed_url, result, recorded_at)
VALUES ($1, $2, $3, $4)`,
		jobID, result.SeedURL, payload, s.now())
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// GetJob loads a job and its listing outcomes.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	var (
		job      crawler.Job
		status   string
		errText  *string
		params   []byte
		counters []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, counters
FROM crawl_jobs WHERE id = $1`, jobID).Scan(
		&job.ID, &status, &job.Submitted, &job.Started, &job.Finished, &errText, &params, &counters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	if errText != nil {
		job.ErrorText = *errText
	}
	if err := json.Unmarshal(params, &job.Parameters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode parameters: %w", err)
	}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &job.Counters); err != nil {
			return crawler.Job{}, fmt.Errorf("decode counters: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, `
SELECT result FROM crawl_listings WHERE job_id = $1 ORDER BY recorded_at`, jobID)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return crawler.Job{}, fmt.Errorf("scan listing: %w", err)
		}
		var lr crawler.ListingResult
		if err := json.Unmarshal(raw, &lr); err != nil {
			return crawler.Job{}, fmt.Errorf("decode listing: %w", err)
		}
		job.Listings = append(job.Listings, lr)
	}
	if err := rows.Err(); err != nil {
		return crawler.Job{}, fmt.Errorf("iterate listings: %w", err)
	}
	return job, nil
}
