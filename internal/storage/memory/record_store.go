// Package memory keeps harvest records in-process for tests and throwaway runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

// RecordStore provides an in-memory implementation of harvest.RecordStore.
type RecordStore struct {
	mu      sync.RWMutex
	seq     int64
	records map[string]harvest.Record
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]harvest.Record)}
}

// Upsert stores rec unless its locator is already known.
func (s *RecordStore) Upsert(ctx context.Context, rec harvest.Record) (harvest.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Locator]; exists {
		return harvest.Duplicate, nil
	}
	s.seq++
	rec.Seq = s.seq
	if rec.CrawlState == "" {
		rec.CrawlState = harvest.CrawlPending
	}
	s.records[rec.Locator] = rec
	return harvest.Inserted, nil
}

// FetchCandidates returns pending records of category, oldest published first.
func (s *RecordStore) FetchCandidates(ctx context.Context, category harvest.Category, limit int) ([]harvest.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]harvest.Record, 0)
	for _, rec := range s.records {
		if rec.Category == category && rec.CrawlState == harvest.CrawlPending {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PublishedAt != out[j].PublishedAt {
			return out[i].PublishedAt < out[j].PublishedAt
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkAttempted flags locator as crawled. Unknown locators are ignored.
func (s *RecordStore) MarkAttempted(_ context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[locator]; ok {
		rec.CrawlState = harvest.CrawlAttempted
		s.records[locator] = rec
	}
	return nil
}

// MarkAccepted flags locator as crawled and used.
func (s *RecordStore) MarkAccepted(_ context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[locator]; ok {
		rec.CrawlState = harvest.CrawlAttempted
		rec.Used = true
		s.records[locator] = rec
	}
	return nil
}

// Stats aggregates record counts.
func (s *RecordStore) Stats(_ context.Context) (harvest.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := harvest.Stats{ByCategory: map[harvest.Category]harvest.CategoryStats{}}
	for _, rec := range s.records {
		stats.Add(rec.Category, rec.CrawlState == harvest.CrawlAttempted, rec.Used, 1)
	}
	return stats, nil
}

// Reset returns skipped records of category to pending.
func (s *RecordStore) Reset(_ context.Context, category harvest.Category) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for loc, rec := range s.records {
		if rec.Category == category && rec.CrawlState == harvest.CrawlAttempted && !rec.Used {
			rec.CrawlState = harvest.CrawlPending
			s.records[loc] = rec
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the record stored under locator.
func (s *RecordStore) Get(locator string) (harvest.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[locator]
	return rec, ok
}

// Close is a no-op.
func (s *RecordStore) Close() error { return nil }
