// Package postgres provides a Postgres-backed record store for shared
// deployments where the harvest state outlives a single machine.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/storage/sqlq"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id BIGSERIAL PRIMARY KEY,
	url TEXT UNIQUE NOT NULL,
	title TEXT,
	category TEXT NOT NULL,
	published_date TEXT,
	description TEXT,
	collected_at TEXT,
	crawled BOOLEAN NOT NULL DEFAULT FALSE,
	used_in_dataset BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_articles_category_crawled ON articles (category, crawled);
`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MustExist       bool
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RecordStore writes article rows into Postgres.
type RecordStore struct {
	pool pool
	qb   sqlq.Builder
}

// Open connects to Postgres and prepares the articles table.
func Open(ctx context.Context, cfg Config) (*RecordStore, error) {
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(ctx, p, cfg.MustExist)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(ctx context.Context, p pool, mustExist bool) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if mustExist {
		var exists bool
		if err := p.QueryRow(ctx, "SELECT to_regclass('public.articles') IS NOT NULL").Scan(&exists); err != nil {
			return nil, fmt.Errorf("check articles table: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("articles table: %w", harvest.ErrStateMissing)
		}
	} else if _, err := p.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &RecordStore{pool: p, qb: sqlq.Dollar()}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Upsert inserts rec unless its locator is already stored.
func (s *RecordStore) Upsert(ctx context.Context, rec harvest.Record) (harvest.UpsertResult, error) {
	query, args, err := s.qb.Insert(rec)
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return harvest.Duplicate, nil
	}
	return harvest.Inserted, nil
}

// FetchCandidates returns pending records of category, oldest first.
func (s *RecordStore) FetchCandidates(ctx context.Context, category harvest.Category, limit int) ([]harvest.Record, error) {
	query, args, err := s.qb.Candidates(category, limit)
	if err != nil {
		return nil, fmt.Errorf("build candidates: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	defer rows.Close()

	var out []harvest.Record
	for rows.Next() {
		var (
			rec                                    harvest.Record
			title, category, published, desc, coll *string
			crawled                                bool
		)
		if err := rows.Scan(&rec.Seq, &rec.Locator, &title, &category, &published, &desc, &coll, &crawled, &rec.Used); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		rec.Title = deref(title)
		rec.Category = harvest.Category(deref(category))
		rec.PublishedAt = deref(published)
		rec.Summary = deref(desc)
		rec.DiscoveredAt = sqlq.ParseTime(deref(coll))
		rec.CrawlState = sqlq.State(crawled)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// MarkAttempted flags locator as crawled.
func (s *RecordStore) MarkAttempted(ctx context.Context, locator string) error {
	query, args, err := s.qb.MarkAttempted(locator)
	if err != nil {
		return fmt.Errorf("build mark attempted: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark attempted: %w", err)
	}
	return nil
}

// MarkAccepted flags locator as crawled and used in the dataset.
func (s *RecordStore) MarkAccepted(ctx context.Context, locator string) error {
	query, args, err := s.qb.MarkAccepted(locator)
	if err != nil {
		return fmt.Errorf("build mark accepted: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark accepted: %w", err)
	}
	return nil
}

// Stats aggregates record counts.
func (s *RecordStore) Stats(ctx context.Context) (harvest.Stats, error) {
	query, args, err := s.qb.Stats()
	if err != nil {
		return harvest.Stats{}, fmt.Errorf("build stats: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return harvest.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := harvest.Stats{ByCategory: map[harvest.Category]harvest.CategoryStats{}}
	for rows.Next() {
		var (
			category      string
			crawled, used bool
			count         int64
		)
		if err := rows.Scan(&category, &crawled, &used, &count); err != nil {
			return harvest.Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.Add(harvest.Category(category), crawled, used, count)
	}
	if err := rows.Err(); err != nil {
		return harvest.Stats{}, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// Reset returns skipped records of category to pending.
func (s *RecordStore) Reset(ctx context.Context, category harvest.Category) (int64, error) {
	query, args, err := s.qb.Reset(category)
	if err != nil {
		return 0, fmt.Errorf("build reset: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset %s: %w", category, err)
	}
	return tag.RowsAffected(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
