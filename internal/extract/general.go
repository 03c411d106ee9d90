package extract

import (
	"context"
	"strings"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// General extracts site metadata from the root page.
type General struct{}

// Kind implements Extractor.
func (General) Kind() Kind { return KindGeneral }

// Extract implements Extractor.
func (General) Extract(_ context.Context, docs []Document, opts Options) (scrape.PartialResult, error) {
	root := rootDocument(docs)
	doc := root.Doc

	section := scrape.GeneralSection{
		Title:       cleanText(doc.Find("title").First().Text()),
		Description: metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`),
		Language:    strings.TrimSpace(doc.Find("html").AttrOr("lang", "")),
		Keywords:    []string{},
	}
	if section.Title == "" {
		section.Title = metaContent(doc, `meta[property="og:title"]`, `meta[property="og:site_name"]`)
	}
	if section.Title == "" {
		section.Title = opts.Domain
	}
	if section.Description == "" {
		section.Description = "Website for " + opts.Domain
	}

	keywords := newOrdered()
	for _, kw := range strings.Split(metaContent(doc, `meta[name="keywords"]`), ",") {
		keywords.add(strings.TrimSpace(kw))
	}
	section.Keywords = keywords.items

	if href, ok := doc.Find(`link[rel~="icon"]`).First().Attr("href"); ok {
		section.Favicon = absURL(root.Base, href)
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		section.CanonicalURL = absURL(root.Base, href)
	}
	return section, nil
}
