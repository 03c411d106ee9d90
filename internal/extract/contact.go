package extract

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

var (
	emailRe         = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	labelledPhoneRe = regexp.MustCompile(`(?i)\b(?:phone|tel|call)\s*[:.]?\s*(\+?[0-9][0-9 ().\-]{6,}[0-9])`)
)

// Contact gathers e-mail addresses and phone numbers.
type Contact struct{}

// Kind implements Extractor.
func (Contact) Kind() Kind { return KindContact }

// Extract implements Extractor.
func (Contact) Extract(_ context.Context, docs []Document, _ Options) (scrape.PartialResult, error) {
	emails, phones := newOrdered(), newOrdered()
	for _, d := range docs {
		d.Doc.Find(`a[href^="mailto:"], a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
			href := strings.TrimSpace(s.AttrOr("href", ""))
			switch {
			case strings.HasPrefix(strings.ToLower(href), "mailto:"):
				addr := href[len("mailto:"):]
				if i := strings.IndexByte(addr, '?'); i >= 0 {
					addr = addr[:i]
				}
				if decoded, err := url.PathUnescape(addr); err == nil {
					addr = decoded
				}
				addEmail(emails, addr)
			default:
				phones.add(normalizePhone(href[len("tel:"):]))
			}
		})

		text := bodyText(d.Doc)
		for _, m := range emailRe.FindAllString(text, -1) {
			addEmail(emails, m)
		}
		for _, m := range labelledPhoneRe.FindAllStringSubmatch(text, -1) {
			phones.add(normalizePhone(m[1]))
		}
	}
	return scrape.ContactSection{Emails: emails.items, Phones: phones.items}, nil
}

func addEmail(o *ordered, addr string) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !emailRe.MatchString(addr) || isImageName(addr) {
		return
	}
	o.add(addr)
}

func isImageName(addr string) bool {
	switch strings.ToLower(path.Ext(addr)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp":
		return true
	}
	return false
}

// normalizePhone keeps digits and a leading plus.
func normalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if len(digits) < 7 {
		return ""
	}
	return b.String()
}
