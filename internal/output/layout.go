// Package output persists accepted article text into the split/category
// directory layout of the corpus.
package output

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

// Layout names corpus items: <split>/<category>/<category>_<index>.<ext>.
type Layout struct {
	Width int
	Ext   string
}

// DefaultLayout is four-digit indices with a .txt extension.
func DefaultLayout() Layout {
	return Layout{Width: 4, Ext: "txt"}
}

func (l Layout) normalized() Layout {
	if l.Width <= 0 {
		l.Width = 4
	}
	l.Ext = strings.TrimPrefix(l.Ext, ".")
	if l.Ext == "" {
		l.Ext = "txt"
	}
	return l
}

// Dir returns the slash-separated directory of a split/category pair.
func (l Layout) Dir(category harvest.Category, split harvest.Split) string {
	return path.Join(string(split), string(category))
}

// FileName returns the base name of item index.
func (l Layout) FileName(category harvest.Category, index int) string {
	l = l.normalized()
	return fmt.Sprintf("%s_%0*d.%s", category, l.Width, index, l.Ext)
}

// RelPath returns the slash-separated path of item index.
func (l Layout) RelPath(category harvest.Category, split harvest.Split, index int) string {
	return path.Join(l.Dir(category, split), l.FileName(category, index))
}

// ParseIndex extracts the index from a base name produced by FileName.
// Names that do not match the layout report false.
func (l Layout) ParseIndex(category harvest.Category, name string) (int, bool) {
	l = l.normalized()
	prefix := string(category) + "_"
	suffix := "." + l.Ext
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	if len(digits) < l.Width {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// DatasetStats counts persisted items per split and category.
type DatasetStats map[harvest.Split]map[harvest.Category]int

// Total sums every split and category.
func (s DatasetStats) Total() int {
	total := 0
	for _, byCategory := range s {
		for _, n := range byCategory {
			total += n
		}
	}
	return total
}

// Counter is implemented by writers that can count persisted items.
type Counter interface {
	Count(ctx context.Context, category harvest.Category, split harvest.Split) (int, error)
}

// CollectStats counts every split of categories through c.
func CollectStats(ctx context.Context, c Counter, categories []harvest.Category) (DatasetStats, error) {
	stats := make(DatasetStats, len(harvest.Splits))
	for _, split := range harvest.Splits {
		stats[split] = make(map[harvest.Category]int, len(categories))
		for _, category := range categories {
			n, err := c.Count(ctx, category, split)
			if err != nil {
				return nil, err
			}
			stats[split][category] = n
		}
	}
	return stats, nil
}
