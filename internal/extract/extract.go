// Package extract turns article pages into normalized plain text with goquery.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/newscorpus/internal/harvest"
)

// Selectors lists the CSS selectors tried for each article part. Within a
// part the first selector that yields text wins.
type Selectors struct {
	Title     []string
	Sapo      []string
	Body      []string
	Paragraph string
	// MinParagraphRunes drops body paragraphs that are not longer than this.
	MinParagraphRunes int
}

// DefaultSelectors matches the thanhnien.vn article layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Title:             []string{"h1.detail-title span[data-role=title]", "h1.detail-title"},
		Sapo:              []string{"h2.detail-sapo", "div.detail-sapo"},
		Body:              []string{"div.detail-content", "#main-detail-content"},
		Paragraph:         "p",
		MinParagraphRunes: 20,
	}
}

// Extractor is the default harvest.Extractor.
type Extractor struct {
	sel Selectors
}

// New builds an Extractor; empty selector lists fall back to the defaults.
func New(sel Selectors) *Extractor {
	def := DefaultSelectors()
	if len(sel.Title) == 0 {
		sel.Title = def.Title
	}
	if len(sel.Sapo) == 0 {
		sel.Sapo = def.Sapo
	}
	if len(sel.Body) == 0 {
		sel.Body = def.Body
	}
	if sel.Paragraph == "" {
		sel.Paragraph = def.Paragraph
	}
	if sel.MinParagraphRunes < 0 {
		sel.MinParagraphRunes = 0
	}
	return &Extractor{sel: sel}
}

// Extract joins title, sapo and body paragraphs and collapses whitespace.
// Pages without any of them yield harvest.ErrNoContent.
func (e *Extractor) Extract(page harvest.FetchResponse) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var parts []string
	if title := firstText(doc, e.sel.Title); title != "" {
		parts = append(parts, title)
	}
	if sapo := firstText(doc, e.sel.Sapo); sapo != "" {
		parts = append(parts, sapo)
	}
	parts = append(parts, e.paragraphs(doc)...)

	if len(parts) == 0 {
		return "", harvest.ErrNoContent
	}
	text := CleanText(strings.Join(parts, "\n\n"))
	if text == "" {
		return "", harvest.ErrNoContent
	}
	return text, nil
}

func (e *Extractor) paragraphs(doc *goquery.Document) []string {
	for _, sel := range e.sel.Body {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		var out []string
		container.Find(e.sel.Paragraph).Each(func(_ int, p *goquery.Selection) {
			text := strings.TrimSpace(p.Text())
			if utf8.RuneCountInString(text) > e.sel.MinParagraphRunes {
				out = append(out, text)
			}
		})
		return out
	}
	return nil
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// CleanText collapses every run of whitespace into a single space.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripHTML returns the visible text of an HTML fragment, whitespace collapsed.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return CleanText(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return CleanText(fragment)
	}
	return CleanText(doc.Text())
}
