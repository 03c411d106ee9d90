package extract

import (
	"bytes"
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

const homeHTML = `<!doctype html>
<html lang="en">
<head>
  <title> Acme Books </title>
  <meta name="description" content="Independent bookshop">
  <meta name="keywords" content="books, reading ,books, ">
  <meta name="theme-color" content="#336699">
  <meta property="og:image" content="/og.png">
  <link rel="icon" href="/favicon.ico">
  <link rel="canonical" href="https://example.com/">
  <style>
    body { background: #ffffff; color: #111; }
    .btn { background-color: rgb(51, 102, 153); border-color: #E4572E; }
    #header { color: #336699 }
  </style>
</head>
<body>
  <header>
    <a href="/"><img src="/img/brand.svg" alt="Acme"></a>
    <nav>
      <a href="/about">About   us</a>
      <a href="/blog">Blog</a>
      <a href="/about">About again</a>
      <a href="javascript:void(0)">Menu</a>
    </nav>
  </header>
  <section class="hero"><img src="hero.jpg"></section>
  <main>
    <img src="/img/shelf.jpg"><img data-src="/img/lazy.jpg" src="data:image/gif;base64,AA">
    <p style="color: #E4572E">Call us. Phone: +1 (555) 010-2000</p>
    <p>Write to Sales@Example.com or see ISBN: 0-306-40615-2 and 978-0-306-40615-7 but not 978-0-306-40615-8.</p>
    <a href="mailto:hello@example.com?subject=hi">Mail</a>
    <a href="tel:+1-555-010-3000">Call</a>
    <a href="https://www.facebook.com/acmebooks">Facebook</a>
    <a href="https://twitter.com/intent/tweet?url=x">Share</a>
    <a href="https://x.com/acmebooks">X</a>
    <a href="https://github.com/">GitHub home</a>
  </main>
</body>
</html>`

const blogHTML = `<html><head><title>Blog</title></head><body>
  <article><h2><a href="/blog/first">First post</a></h2><time datetime="2024-01-02">Jan 2</time><p>Hello world.</p></article>
  <article><h2>Second post</h2><a href="/blog/second">read</a><p>More.</p></article>
</body></html>`

var scrapedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newDoc(t *testing.T, rawURL, html string, depth int) Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	require.NoError(t, err)
	base, err := url.Parse(rawURL)
	require.NoError(t, err)
	return Document{Page: scrape.Page{URL: rawURL, Depth: depth, Content: html}, Base: base, Doc: doc}
}

func fixtureDocs(t *testing.T) []Document {
	return []Document{
		newDoc(t, "https://example.com/", homeHTML, 0),
		newDoc(t, "https://example.com/blog", blogHTML, 1),
	}
}

func run(t *testing.T, ex Extractor, docs []Document) scrape.AggregateResult {
	t.Helper()
	partial, err := ex.Extract(context.Background(), docs, Options{Domain: "example.com"})
	require.NoError(t, err)
	res := scrape.MinimalResult("example.com", scrapedAt)
	partial.Apply(&res)
	return res
}

func TestParseKinds(t *testing.T) {
	t.Parallel()

	kinds, err := ParseKinds([]string{"Colors", "general", "colors"})
	require.NoError(t, err)
	require.Equal(t, []Kind{KindColors, KindGeneral}, kinds)

	_, err = ParseKinds([]string{"weather"})
	require.ErrorIs(t, err, scrape.ErrInvalidRequest)
}

func TestRegistrySelectKeepsRegistryOrder(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	selected := r.Select([]Kind{KindContact, KindGeneral})
	require.Len(t, selected, 2)
	require.Equal(t, KindGeneral, selected[0].Kind())
	require.Equal(t, KindContact, selected[1].Kind())
	require.Len(t, r.Select(nil), len(AllKinds))
}

func TestGeneral(t *testing.T) {
	t.Parallel()

	g := run(t, General{}, fixtureDocs(t)).General
	require.Equal(t, "Acme Books", g.Title)
	require.Equal(t, "Independent bookshop", g.Description)
	require.Equal(t, "en", g.Language)
	require.Equal(t, []string{"books", "reading"}, g.Keywords)
	require.Equal(t, "https://example.com/favicon.ico", g.Favicon)
	require.Equal(t, "https://example.com/", g.CanonicalURL)

	bare := run(t, General{}, []Document{newDoc(t, "https://example.com/", "<html><body></body></html>", 0)}).General
	require.Equal(t, "example.com", bare.Title)
	require.Equal(t, "Website for example.com", bare.Description)
}

func TestNavigation(t *testing.T) {
	t.Parallel()

	links := run(t, Navigation{}, fixtureDocs(t)).Navigation.Links
	require.Equal(t, []scrape.Link{
		{Text: "", URL: "https://example.com/"},
		{Text: "About us", URL: "https://example.com/about"},
		{Text: "Blog", URL: "https://example.com/blog"},
	}, links)
}

func TestBlog(t *testing.T) {
	t.Parallel()

	blog := run(t, Blog{}, fixtureDocs(t)).Blog
	require.True(t, blog.HasBlog)
	require.Equal(t, "https://example.com/blog", blog.BlogURL)
	require.Len(t, blog.Posts, 2)
	require.Equal(t, scrape.BlogPost{
		Title:     "First post",
		URL:       "https://example.com/blog/first",
		Published: "2024-01-02",
		Excerpt:   "Hello world.",
	}, blog.Posts[0])
	require.Equal(t, "https://example.com/blog/second", blog.Posts[1].URL)

	none := run(t, Blog{}, fixtureDocs(t)[:1]).Blog
	require.False(t, none.HasBlog)
	require.NotNil(t, none.Posts)
}

func TestImages(t *testing.T) {
	t.Parallel()

	img := run(t, Images{}, fixtureDocs(t)).Images
	require.Equal(t, []string{"https://example.com/img/brand.svg"}, img.Logos)
	require.Equal(t, []string{"https://example.com/hero.jpg"}, img.Hero)
	require.Equal(t, []string{"https://example.com/img/shelf.jpg", "https://example.com/img/lazy.jpg"}, img.Content)
	require.Equal(t, []string{"https://example.com/og.png"}, img.OpenGraph)
	require.Equal(t, []string{"https://example.com/favicon.ico"}, img.Icons)
	require.Len(t, img.All, 6)
}

func TestColors(t *testing.T) {
	t.Parallel()

	c := run(t, Colors{}, fixtureDocs(t)).Colors
	require.Equal(t, "#336699", c.Primary)
	require.Equal(t, "#E4572E", c.Secondary)
	require.Equal(t, scrape.DefaultAccentColor, c.Accent)
	require.Equal(t, "#FFFFFF", c.Background)
	require.Equal(t, "#111111", c.Text)
	require.Equal(t, "#336699", c.All[0])

	plain := run(t, Colors{}, []Document{newDoc(t, "https://example.com/", "<html></html>", 0)}).Colors
	require.Equal(t, scrape.DefaultColors(), plain)
}

func TestSocialMedia(t *testing.T) {
	t.Parallel()

	links := run(t, SocialMedia{}, fixtureDocs(t)).SocialMedia.Links
	require.Equal(t, map[string]string{
		"facebook": "https://www.facebook.com/acmebooks",
		"twitter":  "https://x.com/acmebooks",
	}, links)
}

func TestISBN(t *testing.T) {
	t.Parallel()

	isbn := run(t, ISBN{}, fixtureDocs(t)).ISBN
	require.Equal(t, []string{"0306406152"}, isbn.ISBN10)
	require.Equal(t, []string{"9780306406157"}, isbn.ISBN13)
}

func TestContact(t *testing.T) {
	t.Parallel()

	contact := run(t, Contact{}, fixtureDocs(t)).Contact
	require.Equal(t, []string{"hello@example.com", "sales@example.com"}, contact.Emails)
	require.Equal(t, []string{"+15550103000", "+15550102000"}, contact.Phones)
}
