package extract

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

const maxNavigationLinks = 100

// Navigation collects header and nav links from the root page.
type Navigation struct{}

// Kind implements Extractor.
func (Navigation) Kind() Kind { return KindNavigation }

// Extract implements Extractor.
func (Navigation) Extract(_ context.Context, docs []Document, _ Options) (scrape.PartialResult, error) {
	root := rootDocument(docs)
	seen := newOrdered()
	links := []scrape.Link{}
	root.Doc.Find("nav a[href], header a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		u := absURL(root.Base, s.AttrOr("href", ""))
		if u == "" || !seen.add(u) {
			return true
		}
		text := cleanText(s.Text())
		if text == "" {
			text = cleanText(s.AttrOr("aria-label", s.AttrOr("title", "")))
		}
		links = append(links, scrape.Link{Text: text, URL: u})
		return len(links) < maxNavigationLinks
	})
	return scrape.NavigationSection{Links: links}, nil
}
