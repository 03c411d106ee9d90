// Package extract turns discovered pages into the aggregate scrape result.
//
// The Orchestrator parses every page once with goquery and then runs each
// registered Extractor over the shared documents. A failing extractor only
// costs its own section, which keeps its default value.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// Kind names an extractor and the result section it fills.
type Kind string

// Extractor kinds in registry order.
const (
	KindGeneral     Kind = "general"
	KindNavigation  Kind = "navigation"
	KindBlog        Kind = "blog"
	KindImages      Kind = "images"
	KindColors      Kind = "colors"
	KindSocialMedia Kind = "socialMedia"
	KindISBN        Kind = "isbn"
	KindContact     Kind = "contact"
)

// AllKinds lists every supported kind in registry order.
var AllKinds = []Kind{
	KindGeneral,
	KindNavigation,
	KindBlog,
	KindImages,
	KindColors,
	KindSocialMedia,
	KindISBN,
	KindContact,
}

// ParseKinds validates extractor names. Matching is case-insensitive.
func ParseKinds(names []string) ([]Kind, error) {
	out := make([]Kind, 0, len(names))
	seen := make(map[Kind]struct{}, len(names))
	for _, name := range names {
		kind, ok := lookupKind(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown extractor %q", scrape.ErrInvalidRequest, name)
		}
		if _, dup := seen[kind]; dup {
			continue
		}
		seen[kind] = struct{}{}
		out = append(out, kind)
	}
	return out, nil
}

func lookupKind(name string) (Kind, bool) {
	name = strings.TrimSpace(name)
	for _, k := range AllKinds {
		if strings.EqualFold(string(k), name) {
			return k, true
		}
	}
	return "", false
}

// Document is a parsed page shared by all extractors. Extractors must not
// mutate Doc.
type Document struct {
	scrape.Page
	Base *url.URL
	Doc  *goquery.Document
}

// Options carries per-run context to extractors.
type Options struct {
	Domain string
	JobID  string
}

// Extractor derives one section of the aggregate from the parsed pages.
type Extractor interface {
	Kind() Kind
	Extract(ctx context.Context, docs []Document, opts Options) (scrape.PartialResult, error)
}

// Registry holds extractors in their fixed application order.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds a registry; later registrations of a kind replace earlier ones
// in place.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// DefaultRegistry returns every built-in extractor in registry order.
func DefaultRegistry() *Registry {
	return NewRegistry(
		General{},
		Navigation{},
		Blog{},
		Images{},
		Colors{},
		SocialMedia{},
		ISBN{},
		Contact{},
	)
}

// Register adds or replaces an extractor.
func (r *Registry) Register(e Extractor) {
	for i, existing := range r.extractors {
		if existing.Kind() == e.Kind() {
			r.extractors[i] = e
			return
		}
	}
	r.extractors = append(r.extractors, e)
}

// Select returns the extractors whose kinds are in want, in registry order.
// An empty want selects everything.
func (r *Registry) Select(want []Kind) []Extractor {
	if len(want) == 0 {
		return append([]Extractor(nil), r.extractors...)
	}
	set := make(map[Kind]struct{}, len(want))
	for _, k := range want {
		set[k] = struct{}{}
	}
	out := make([]Extractor, 0, len(want))
	for _, e := range r.extractors {
		if _, ok := set[e.Kind()]; ok {
			out = append(out, e)
		}
	}
	return out
}
