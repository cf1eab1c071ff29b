// Package sqlq builds the articles table queries shared by the SQL record
// store backends.
package sqlq

import (
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

// Table is the persisted record table. The name and columns match the
// database files produced by earlier harvests.
const Table = "articles"

// Column names of the articles table.
const (
	ColID          = "id"
	ColURL         = "url"
	ColTitle       = "title"
	ColCategory    = "category"
	ColPublished   = "published_date"
	ColDescription = "description"
	ColCollectedAt = "collected_at"
	ColCrawled     = "crawled"
	ColUsed        = "used_in_dataset"
)

// TimeLayout is how collected_at is stored.
const TimeLayout = harvest.PublishedLayout

// Columns is the select list every backend scans records from.
var Columns = []string{
	ColID, ColURL, ColTitle, ColCategory, ColPublished,
	ColDescription, ColCollectedAt, ColCrawled, ColUsed,
}

// Builder renders queries for one placeholder dialect.
type Builder struct {
	sb sq.StatementBuilderType
	// textOrder is appended to text sort keys so that every backend orders
	// published_date by bytes, as SQLite and the memory store do.
	textOrder string
}

// Question returns a builder using ? placeholders (SQLite).
func Question() Builder {
	return Builder{sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
}

// Dollar returns a builder using $n placeholders (Postgres).
func Dollar() Builder {
	return Builder{sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar), textOrder: ` COLLATE "C"`}
}

// Insert adds rec unless its url is already present.
func (b Builder) Insert(rec harvest.Record) (string, []any, error) {
	return b.sb.Insert(Table).
		Columns(ColURL, ColTitle, ColCategory, ColPublished, ColDescription, ColCollectedAt, ColCrawled, ColUsed).
		Values(
			rec.Locator,
			rec.Title,
			string(rec.Category),
			rec.PublishedAt,
			rec.Summary,
			FormatTime(rec.DiscoveredAt),
			rec.CrawlState == harvest.CrawlAttempted,
			rec.Used,
		).
		Suffix("ON CONFLICT(" + ColURL + ") DO NOTHING").
		ToSql()
}

// Candidates selects pending records of category, oldest published first.
func (b Builder) Candidates(category harvest.Category, limit int) (string, []any, error) {
	q := b.sb.Select(Columns...).
		From(Table).
		Where(sq.Eq{ColCategory: string(category), ColCrawled: false}).
		OrderBy(ColPublished+b.textOrder+" ASC", ColID+" ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q.ToSql()
}

// MarkAttempted flags the record crawled.
func (b Builder) MarkAttempted(locator string) (string, []any, error) {
	return b.sb.Update(Table).
		Set(ColCrawled, true).
		Where(sq.Eq{ColURL: locator}).
		ToSql()
}

// MarkAccepted flags the record crawled and used.
func (b Builder) MarkAccepted(locator string) (string, []any, error) {
	return b.sb.Update(Table).
		Set(ColCrawled, true).
		Set(ColUsed, true).
		Where(sq.Eq{ColURL: locator}).
		ToSql()
}

// Stats counts records per category and lifecycle flags.
func (b Builder) Stats() (string, []any, error) {
	return b.sb.Select(ColCategory, ColCrawled, ColUsed, "COUNT(*)").
		From(Table).
		GroupBy(ColCategory, ColCrawled, ColUsed).
		OrderBy(ColCategory).
		ToSql()
}

// Reset returns skipped records of category to pending.
func (b Builder) Reset(category harvest.Category) (string, []any, error) {
	return b.sb.Update(Table).
		Set(ColCrawled, false).
		Where(sq.Eq{ColCategory: string(category), ColCrawled: true, ColUsed: false}).
		ToSql()
}

// FormatTime renders t for the collected_at column.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// ParseTime reverses FormatTime. Unparseable values yield the zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{TimeLayout, "2006-01-02T15:04:05.999999", time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// State converts the persisted crawled flag into a CrawlState.
func State(crawled bool) harvest.CrawlState {
	if crawled {
		return harvest.CrawlAttempted
	}
	return harvest.CrawlPending
}
