package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Schema creates the tables the stores write to. Statements are idempotent.
func Schema(productTable string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	retailer TEXT NOT NULL,
	record_key TEXT NOT NULL,
	name TEXT NOT NULL,
	price TEXT,
	numeric_price DOUBLE PRECISION,
	image_url TEXT,
	category TEXT,
	source_url TEXT NOT NULL,
	detail_url TEXT,
	fingerprint TEXT NOT NULL,
	scraped_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (retailer, record_key)
)`, productTable),
		`CREATE TABLE IF NOT EXISTS crawl_jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error_text TEXT,
	parameters JSONB NOT NULL,
	counters JSONB
)`,
		`CREATE TABLE IF NOT EXISTS crawl_listings (
	job_id TEXT NOT NULL REFERENCES crawl_jobs (id) ON DELETE CASCADE,
	seed_url TEXT NOT NULL,
	result JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
)`,
	}
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, db execer, productTable string) error {
	if productTable == "" {
		productTable = "products"
	}
	if !validTableName.MatchString(productTable) {
		return fmt.Errorf("invalid table name %q", productTable)
	}
	for _, stmt := range Schema(productTable) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
