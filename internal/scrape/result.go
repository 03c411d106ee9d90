package scrape

import "time"

// AggregateResult is the per-domain output of a scrape. Every section is always
// populated, either with extractor output or its default.
type AggregateResult struct {
	Domain      string             `json:"domain"`
	ScrapedAt   time.Time          `json:"scrapedAt"`
	PageCount   int                `json:"pageCount"`
	General     GeneralSection     `json:"general"`
	Navigation  NavigationSection  `json:"navigation"`
	Blog        BlogSection        `json:"blog"`
	Images      ImagesSection      `json:"images"`
	Colors      ColorsSection      `json:"colors"`
	SocialMedia SocialMediaSection `json:"socialMedia"`
	ISBN        ISBNSection        `json:"isbn"`
	Contact     ContactSection     `json:"contact"`
}

// PartialResult is one extractor's contribution to the aggregate.
type PartialResult interface {
	Apply(result *AggregateResult)
}

// GeneralSection holds site-wide metadata.
type GeneralSection struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Language     string   `json:"language"`
	Keywords     []string `json:"keywords"`
	Favicon      string   `json:"favicon"`
	CanonicalURL string   `json:"canonicalUrl"`
}

// Apply implements PartialResult.
func (s GeneralSection) Apply(r *AggregateResult) { r.General = s }

// Link is a labelled hyperlink.
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// NavigationSection lists the site's primary navigation.
type NavigationSection struct {
	Links []Link `json:"links"`
}

// Apply implements PartialResult.
func (s NavigationSection) Apply(r *AggregateResult) { r.Navigation = s }

// BlogPost is one detected article.
type BlogPost struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Published string `json:"published,omitempty"`
	Excerpt   string `json:"excerpt,omitempty"`
}

// BlogSection describes the site's blog, if any.
type BlogSection struct {
	HasBlog bool       `json:"hasBlog"`
	BlogURL string     `json:"blogUrl,omitempty"`
	Posts   []BlogPost `json:"posts"`
}

// Apply implements PartialResult.
func (s BlogSection) Apply(r *AggregateResult) { r.Blog = s }

// ImagesSection groups image URLs by category.
type ImagesSection struct {
	All       []string `json:"all"`
	Logos     []string `json:"logos"`
	Icons     []string `json:"icons"`
	Hero      []string `json:"hero"`
	Content   []string `json:"content"`
	OpenGraph []string `json:"openGraph"`
}

// Apply implements PartialResult.
func (s ImagesSection) Apply(r *AggregateResult) { r.Images = s }

// ColorsSection is the inferred brand palette.
type ColorsSection struct {
	Primary    string   `json:"primary"`
	Secondary  string   `json:"secondary"`
	Accent     string   `json:"accent"`
	Background string   `json:"background"`
	Text       string   `json:"text"`
	All        []string `json:"all"`
}

// Apply implements PartialResult.
func (s ColorsSection) Apply(r *AggregateResult) { r.Colors = s }

// SocialMediaSection maps network name to profile URL.
type SocialMediaSection struct {
	Links map[string]string `json:"links"`
}

// Apply implements PartialResult.
func (s SocialMediaSection) Apply(r *AggregateResult) { r.SocialMedia = s }

// ISBNSection lists validated ISBNs found in page text.
type ISBNSection struct {
	ISBN10 []string `json:"isbn10"`
	ISBN13 []string `json:"isbn13"`
}

// Apply implements PartialResult.
func (s ISBNSection) Apply(r *AggregateResult) { r.ISBN = s }

// ContactSection lists contact points.
type ContactSection struct {
	Emails []string `json:"emails"`
	Phones []string `json:"phones"`
}

// Apply implements PartialResult.
func (s ContactSection) Apply(r *AggregateResult) { r.Contact = s }

// Default palette used when no colors can be inferred.
const (
	DefaultPrimaryColor    = "#1F2937"
	DefaultSecondaryColor  = "#4B5563"
	DefaultAccentColor     = "#3B82F6"
	DefaultBackgroundColor = "#FFFFFF"
	DefaultTextColor       = "#111827"
)

// DefaultColors returns the brand-neutral fallback palette.
func DefaultColors() ColorsSection {
	return ColorsSection{
		Primary:    DefaultPrimaryColor,
		Secondary:  DefaultSecondaryColor,
		Accent:     DefaultAccentColor,
		Background: DefaultBackgroundColor,
		Text:       DefaultTextColor,
		All: []string{
			DefaultPrimaryColor,
			DefaultSecondaryColor,
			DefaultAccentColor,
			DefaultBackgroundColor,
			DefaultTextColor,
		},
	}
}

// MinimalResult builds the fallback aggregate using only the domain name.
// Collections are empty rather than nil so consumers never need null checks.
func MinimalResult(domain string, scrapedAt time.Time) AggregateResult {
	return AggregateResult{
		Domain:    domain,
		ScrapedAt: scrapedAt,
		General: GeneralSection{
			Title:       domain,
			Description: "Website for " + domain,
			Keywords:    []string{},
		},
		Navigation: NavigationSection{Links: []Link{}},
		Blog:       BlogSection{HasBlog: false, Posts: []BlogPost{}},
		Images: ImagesSection{
			All:       []string{},
			Logos:     []string{},
			Icons:     []string{},
			Hero:      []string{},
			Content:   []string{},
			OpenGraph: []string{},
		},
		Colors:      DefaultColors(),
		SocialMedia: SocialMediaSection{Links: map[string]string{}},
		ISBN:        ISBNSection{ISBN10: []string{}, ISBN13: []string{}},
		Contact:     ContactSection{Emails: []string{}, Phones: []string{}},
	}
}
