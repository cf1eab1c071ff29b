// Package feed discovers article locators from category RSS feeds and
// records them in the record store.
package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/newscorpus/internal/extract"
	"github.com/JakeFAU/newscorpus/internal/harvest"
)

// Entry is a feed item reduced to the fields a Record needs.
type Entry struct {
	Locator     string
	Title       string
	Summary     string
	PublishedAt string
}

// Parsed is the result of parsing one feed document.
type Parsed struct {
	Entries []Entry
	// Skipped counts items without a usable locator.
	Skipped int
}

// ParseFeed parses an RSS or Atom document. Items without a usable link are
// dropped and counted.
func ParseFeed(ctx context.Context, body []byte) (Parsed, error) {
	if err := ctx.Err(); err != nil {
		return Parsed{}, fmt.Errorf("parse feed: %w", err)
	}
	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return Parsed{}, fmt.Errorf("parse feed: %w", err)
	}

	out := Parsed{Entries: make([]Entry, 0, len(parsed.Items))}
	for _, item := range parsed.Items {
		if item == nil {
			out.Skipped++
			continue
		}
		locator, err := CanonicalLocator(extractLink(item))
		if err != nil {
			out.Skipped++
			continue
		}
		out.Entries = append(out.Entries, Entry{
			Locator:     locator,
			Title:       extract.CleanText(item.Title),
			Summary:     extract.StripHTML(item.Description),
			PublishedAt: publishedAt(item),
		})
	}
	return out, nil
}

// extractLink prefers the explicit link and falls back to a GUID that looks
// like a URL.
func extractLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	if guid := strings.TrimSpace(item.GUID); strings.HasPrefix(guid, "http") {
		return guid
	}
	return ""
}

func publishedAt(item *gofeed.Item) string {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC().Format(harvest.PublishedLayout)
	}
	return strings.TrimSpace(item.Published)
}
