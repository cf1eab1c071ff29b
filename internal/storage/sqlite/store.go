// Package sqlite implements harvest.RecordStore on a single SQLite file using
// the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/newscorpus/internal/harvest"
	"github.com/JakeFAU/newscorpus/internal/storage/sqlq"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT UNIQUE NOT NULL,
	title TEXT,
	category TEXT NOT NULL,
	published_date TEXT,
	description TEXT,
	collected_at TEXT,
	crawled INTEGER DEFAULT 0,
	used_in_dataset INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_articles_category_crawled ON articles (category, crawled);
`

// Config controls where the database lives.
type Config struct {
	Path string
	// MustExist makes Open fail with harvest.ErrStateMissing instead of
	// creating a fresh database.
	MustExist bool
}

// Store is a SQLite-backed record store. It assumes a single writer.
type Store struct {
	db *sqlx.DB
	qb sqlq.Builder
}

type articleRow struct {
	ID          int64          `db:"id"`
	URL         string         `db:"url"`
	Title       sql.NullString `db:"title"`
	Category    string         `db:"category"`
	Published   sql.NullString `db:"published_date"`
	Description sql.NullString `db:"description"`
	CollectedAt sql.NullString `db:"collected_at"`
	Crawled     sql.NullBool   `db:"crawled"`
	Used        sql.NullBool   `db:"used_in_dataset"`
}

func (r articleRow) record() harvest.Record {
	return harvest.Record{
		Seq:          r.ID,
		Locator:      r.URL,
		Title:        r.Title.String,
		Summary:      r.Description.String,
		Category:     harvest.Category(r.Category),
		PublishedAt:  r.Published.String,
		DiscoveredAt: sqlq.ParseTime(r.CollectedAt.String),
		CrawlState:   sqlq.State(r.Crawled.Bool),
		Used:         r.Used.Bool,
	}
}

// Open opens (and unless MustExist, creates) the database at cfg.Path.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.MustExist {
		if _, err := os.Stat(cfg.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("open %s: %w", cfg.Path, harvest.ErrStateMissing)
			}
			return nil, fmt.Errorf("stat %s: %w", cfg.Path, err)
		}
	}
	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, qb: sqlq.Question()}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts rec unless its locator is already stored.
func (s *Store) Upsert(ctx context.Context, rec harvest.Record) (harvest.UpsertResult, error) {
	query, args, err := s.qb.Insert(rec)
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return harvest.Duplicate, nil
	}
	return harvest.Inserted, nil
}

// FetchCandidates returns pending records of category, oldest first.
func (s *Store) FetchCandidates(ctx context.Context, category harvest.Category, limit int) ([]harvest.Record, error) {
	query, args, err := s.qb.Candidates(category, limit)
	if err != nil {
		return nil, fmt.Errorf("build candidates: %w", err)
	}
	var rows []articleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	out := make([]harvest.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

// MarkAttempted flags locator as crawled.
func (s *Store) MarkAttempted(ctx context.Context, locator string) error {
	query, args, err := s.qb.MarkAttempted(locator)
	if err != nil {
		return fmt.Errorf("build mark attempted: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark attempted: %w", err)
	}
	return nil
}

// MarkAccepted flags locator as crawled and used in the dataset.
func (s *Store) MarkAccepted(ctx context.Context, locator string) error {
	query, args, err := s.qb.MarkAccepted(locator)
	if err != nil {
		return fmt.Errorf("build mark accepted: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark accepted: %w", err)
	}
	return nil
}

// Stats aggregates record counts.
func (s *Store) Stats(ctx context.Context) (harvest.Stats, error) {
	query, args, err := s.qb.Stats()
	if err != nil {
		return harvest.Stats{}, fmt.Errorf("build stats: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return harvest.Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	stats := harvest.Stats{ByCategory: map[harvest.Category]harvest.CategoryStats{}}
	for rows.Next() {
		var (
			category      string
			crawled, used sql.NullBool
			count         int64
		)
		if err := rows.Scan(&category, &crawled, &used, &count); err != nil {
			return harvest.Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.Add(harvest.Category(category), crawled.Bool, used.Bool, count)
	}
	if err := rows.Err(); err != nil {
		return harvest.Stats{}, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// Reset returns skipped records of category to pending.
func (s *Store) Reset(ctx context.Context, category harvest.Category) (int64, error) {
	query, args, err := s.qb.Reset(category)
	if err != nil {
		return 0, fmt.Errorf("build reset: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset %s: %w", category, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
