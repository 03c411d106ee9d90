package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

const maxBlogPosts = 50

var blogSections = []string{"blog", "news", "articles", "posts"}

// Blog detects a blog section and lists its posts.
type Blog struct{}

// Kind implements Extractor.
func (Blog) Kind() Kind { return KindBlog }

// Extract implements Extractor.
func (Blog) Extract(_ context.Context, docs []Document, _ Options) (scrape.PartialResult, error) {
	section := scrape.BlogSection{Posts: []scrape.BlogPost{}}
	seen := newOrdered()
	indexDepth := -1

	addPost := func(p scrape.BlogPost) {
		if p.URL == "" || len(section.Posts) >= maxBlogPosts || !seen.add(p.URL) {
			return
		}
		section.Posts = append(section.Posts, p)
	}

	for _, d := range docs {
		segments := pathSegments(d.Base)
		inSection := len(segments) > 0 && isBlogSegment(segments[0])
		articles := d.Doc.Find("article")
		if !inSection && articles.Length() == 0 {
			continue
		}
		section.HasBlog = true

		if inSection && len(segments) == 1 && (indexDepth < 0 || d.Depth < indexDepth) {
			section.BlogURL = d.URL
			indexDepth = d.Depth
		}

		if articles.Length() > 1 || (inSection && len(segments) == 1) {
			articles.Each(func(_ int, s *goquery.Selection) {
				addPost(postFromArticle(d, s))
			})
			continue
		}
		if inSection || articles.Length() == 1 {
			addPost(postFromPage(d, articles))
		}
	}
	if section.HasBlog && section.BlogURL == "" && len(section.Posts) > 0 {
		section.BlogURL = section.Posts[0].URL
	}
	return section, nil
}

func isBlogSegment(seg string) bool {
	seg = strings.ToLower(seg)
	for _, s := range blogSections {
		if seg == s {
			return true
		}
	}
	return false
}

func pathSegments(u *url.URL) []string {
	var out []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func postFromArticle(d Document, s *goquery.Selection) scrape.BlogPost {
	heading := s.Find("h1, h2, h3").First()
	link := heading.Find("a[href]").First()
	if link.Length() == 0 {
		link = s.Find("a[href]").First()
	}
	post := scrape.BlogPost{
		Title:     cleanText(heading.Text()),
		URL:       absURL(d.Base, link.AttrOr("href", "")),
		Published: publishedDate(s),
		Excerpt:   truncate(cleanText(s.Find("p").First().Text()), 200),
	}
	if post.Title == "" {
		post.Title = cleanText(link.Text())
	}
	if post.URL == "" {
		post.URL = d.URL
	}
	return post
}

func postFromPage(d Document, article *goquery.Selection) scrape.BlogPost {
	scope := d.Doc.Selection
	if article.Length() > 0 {
		scope = article.First()
	}
	title := cleanText(scope.Find("h1").First().Text())
	if title == "" {
		title = d.Title
	}
	return scrape.BlogPost{
		Title:     title,
		URL:       d.URL,
		Published: publishedDate(scope),
		Excerpt:   truncate(cleanText(scope.Find("p").First().Text()), 200),
	}
}

func publishedDate(s *goquery.Selection) string {
	t := s.Find("time").First()
	if v, ok := t.Attr("datetime"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if v := cleanText(t.Text()); v != "" {
		return v
	}
	if v, ok := s.Find(`meta[property="article:published_time"]`).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
