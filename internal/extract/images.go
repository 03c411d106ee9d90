package extract

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

const maxImages = 200

var heroMarkers = []string{"hero", "banner", "jumbotron", "masthead", "splash"}

// Images collects and categorises image URLs across all pages.
type Images struct{}

// Kind implements Extractor.
func (Images) Kind() Kind { return KindImages }

// Extract implements Extractor.
func (Images) Extract(_ context.Context, docs []Document, _ Options) (scrape.PartialResult, error) {
	all, logos, icons, hero, content, og := newOrdered(), newOrdered(), newOrdered(), newOrdered(), newOrdered(), newOrdered()

	for _, d := range docs {
		d.Doc.Find("img").Each(func(_ int, s *goquery.Selection) {
			src := s.AttrOr("src", "")
			if strings.TrimSpace(src) == "" || strings.HasPrefix(src, "data:") {
				src = s.AttrOr("data-src", "")
			}
			u := absURL(d.Base, src)
			if u == "" || len(all.items) >= maxImages || !all.add(u) {
				return
			}
			switch {
			case isLogo(s, u):
				logos.add(u)
			case isHero(s):
				hero.add(u)
			default:
				content.add(u)
			}
		})
		d.Doc.Find(`meta[property="og:image"], meta[name="twitter:image"]`).Each(func(_ int, s *goquery.Selection) {
			if u := absURL(d.Base, s.AttrOr("content", "")); u != "" {
				og.add(u)
				all.add(u)
			}
		})
		d.Doc.Find(`link[rel~="icon"], link[rel="apple-touch-icon"], link[rel="mask-icon"]`).Each(func(_ int, s *goquery.Selection) {
			if u := absURL(d.Base, s.AttrOr("href", "")); u != "" {
				icons.add(u)
				all.add(u)
			}
		})
	}

	return scrape.ImagesSection{
		All:       all.items,
		Logos:     logos.items,
		Icons:     icons.items,
		Hero:      hero.items,
		Content:   content.items,
		OpenGraph: og.items,
	}, nil
}

func isLogo(s *goquery.Selection, u string) bool {
	hay := strings.ToLower(u + " " + s.AttrOr("alt", "") + " " + s.AttrOr("class", "") + " " + s.AttrOr("id", ""))
	if strings.Contains(hay, "logo") {
		return true
	}
	return s.ParentsFiltered("a").FilterFunction(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		return href == "/" && s.ParentsFiltered("header").Length() > 0
	}).Length() > 0
}

func isHero(s *goquery.Selection) bool {
	for node := s; node.Length() > 0; node = node.Parent() {
		attrs := strings.ToLower(node.AttrOr("class", "") + " " + node.AttrOr("id", ""))
		for _, m := range heroMarkers {
			if strings.Contains(attrs, m) {
				return true
			}
		}
	}
	return false
}
