package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// absURL resolves href against base and returns "" for non-http(s) targets.
func absURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "data:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// bodyText returns the visible text of the document without scripts or styles.
func bodyText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return cleanText(body.Text())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

// ordered collects unique strings preserving first-seen order.
type ordered struct {
	seen  map[string]struct{}
	items []string
}

func newOrdered() *ordered {
	return &ordered{seen: map[string]struct{}{}, items: []string{}}
}

func (o *ordered) add(s string) bool {
	if s == "" {
		return false
	}
	if _, ok := o.seen[s]; ok {
		return false
	}
	o.seen[s] = struct{}{}
	o.items = append(o.items, s)
	return true
}

func (o *ordered) has(s string) bool {
	_, ok := o.seen[s]
	return ok
}

func rootDocument(docs []Document) Document {
	for _, d := range docs {
		if d.Depth == 0 {
			return d
		}
	}
	return docs[0]
}
