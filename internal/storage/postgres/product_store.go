// Package postgres provides Postgres-backed persistence for product records
// and crawl jobs.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Connect opens a pgx pool for cfg.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
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
	return pool, nil
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ProductStore upserts product records keyed by (retailer, record_key).
// Missing optional fields never overwrite stored values.
type ProductStore struct {
	pool  txBeginner
	table string
	query string
}

// NewProductStore builds a store over pool writing to table.
func NewProductStore(pool txBeginner, table string) (*ProductStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "products"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ProductStore{pool: pool, table: table, query: upsertQuery(table)}, nil
}

func upsertQuery(table string) string {
	return fmt.Sprintf(`
INSERT INTO %[1]s (
	retailer,
	record_key,
	name,
	price,
	numeric_price,
	image_url,
	category,
	source_url,
	detail_url,
	fingerprint,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (retailer, record_key) DO UPDATE SET
	name = EXCLUDED.name,
	price = COALESCE(EXCLUDED.price, %[1]s.price),
	numeric_price = COALESCE(EXCLUDED.numeric_price, %[1]s.numeric_price),
	image_url = COALESCE(EXCLUDED.image_url, %[1]s.image_url),
	category = COALESCE(EXCLUDED.category, %[1]s.category),
	source_url = EXCLUDED.source_url,
	detail_url = COALESCE(EXCLUDED.detail_url, %[1]s.detail_url),
	fingerprint = EXCLUDED.fingerprint,
	scraped_at = EXCLUDED.scraped_at`, table)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Upsert writes records in one transaction.
func (s *ProductStore) Upsert(ctx context.Context, retailer string, records []crawler.ProductRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	for _, rec := range records {
		key := rec.StoreKey()
		if key == "" {
			continue
		}
		_, err := tx.Exec(ctx, s.query,
			retailer,
			key,
			rec.Name,
			nullable(rec.Price),
			rec.NumericPrice,
			nullable(rec.ImageURL),
			nullable(rec.Category),
			rec.SourceURL,
			nullable(rec.DetailURL),
			rec.Fingerprint,
			rec.ScrapedAt,
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("upsert %q: %w", key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}
