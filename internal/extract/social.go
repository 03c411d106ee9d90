package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

var socialHosts = map[string]string{
	"facebook.com":  "facebook",
	"fb.com":        "facebook",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"instagram.com": "instagram",
	"linkedin.com":  "linkedin",
	"youtube.com":   "youtube",
	"youtu.be":      "youtube",
	"tiktok.com":    "tiktok",
	"pinterest.com": "pinterest",
	"github.com":    "github",
}

var shareMarkers = []string{"sharer", "/share", "intent/", "shareArticle", "/pin/create"}

// SocialMedia finds profile links to well-known networks.
type SocialMedia struct{}

// Kind implements Extractor.
func (SocialMedia) Kind() Kind { return KindSocialMedia }

// Extract implements Extractor.
func (SocialMedia) Extract(_ context.Context, docs []Document, _ Options) (scrape.PartialResult, error) {
	links := map[string]string{}
	for _, d := range docs {
		d.Doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			raw := absURL(d.Base, s.AttrOr("href", ""))
			if raw == "" {
				return
			}
			u, err := url.Parse(raw)
			if err != nil {
				return
			}
			network, ok := socialHosts[strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")]
			if !ok || isShareLink(raw) || strings.Trim(u.Path, "/") == "" {
				return
			}
			if _, exists := links[network]; !exists {
				links[network] = raw
			}
		})
	}
	return scrape.SocialMediaSection{Links: links}, nil
}

func isShareLink(raw string) bool {
	for _, m := range shareMarkers {
		if strings.Contains(raw, m) {
			return true
		}
	}
	return false
}
