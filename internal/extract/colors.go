package extract

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

const (
	maxPaletteColors = 10
	themeColorWeight = 5
)

var (
	hexColorRe     = regexp.MustCompile(`#([0-9a-fA-F]{6}|[0-9a-fA-F]{3})\b`)
	rgbColorRe     = regexp.MustCompile(`rgba?\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})`)
	cssDeclBlockRe = regexp.MustCompile(`\{([^{}]*)\}`)
)

// Colors infers a brand palette from inline styles, style blocks and theme-color.
type Colors struct{}

// Kind implements Extractor.
func (Colors) Kind() Kind { return KindColors }

// Extract implements Extractor.
func (Colors) Extract(_ context.Context, docs []Document, _ Options) (scrape.PartialResult, error) {
	counts := map[string]int{}
	first := map[string]int{}
	seq := 0
	add := func(c string, weight int) {
		if _, ok := first[c]; !ok {
			first[c] = seq
			seq++
		}
		counts[c] += weight
	}

	for _, d := range docs {
		if v := metaContent(d.Doc, `meta[name="theme-color"]`); v != "" {
			for _, c := range parseColors(v) {
				add(c, themeColorWeight)
			}
		}
		d.Doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
			for _, c := range parseColors(s.AttrOr("style", "")) {
				add(c, 1)
			}
		})
		d.Doc.Find("style").Each(func(_ int, s *goquery.Selection) {
			for _, block := range cssDeclBlockRe.FindAllStringSubmatch(s.Text(), -1) {
				for _, c := range parseColors(block[1]) {
					add(c, 1)
				}
			}
		})
	}

	if len(counts) == 0 {
		return scrape.DefaultColors(), nil
	}

	ranked := make([]string, 0, len(counts))
	for c := range counts {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return first[ranked[i]] < first[ranked[j]]
	})
	if len(ranked) > maxPaletteColors {
		ranked = ranked[:maxPaletteColors]
	}

	section := scrape.ColorsSection{All: ranked}
	var brand []string
	for _, c := range ranked {
		switch l := luminance(c); {
		case l > 240:
			if section.Background == "" {
				section.Background = c
			}
		case l < 30:
			if section.Text == "" {
				section.Text = c
			}
		default:
			brand = append(brand, c)
		}
	}
	defaults := scrape.DefaultColors()
	section.Primary = pick(brand, 0, defaults.Primary)
	section.Secondary = pick(brand, 1, defaults.Secondary)
	section.Accent = pick(brand, 2, defaults.Accent)
	if section.Background == "" {
		section.Background = defaults.Background
	}
	if section.Text == "" {
		section.Text = defaults.Text
	}
	return section, nil
}

func pick(list []string, i int, fallback string) string {
	if i < len(list) {
		return list[i]
	}
	return fallback
}

// parseColors returns every hex or rgb() color in s as #RRGGBB.
func parseColors(s string) []string {
	var out []string
	for _, m := range hexColorRe.FindAllStringSubmatch(s, -1) {
		out = append(out, normalizeHex(m[1]))
	}
	for _, m := range rgbColorRe.FindAllStringSubmatch(s, -1) {
		r, g, b := channel(m[1]), channel(m[2]), channel(m[3])
		out = append(out, fmt.Sprintf("#%02X%02X%02X", r, g, b))
	}
	return out
}

func normalizeHex(h string) string {
	h = strings.ToUpper(h)
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	return "#" + h
}

func channel(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// luminance returns the perceived brightness of a #RRGGBB color in 0..255.
func luminance(hex string) float64 {
	v, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 128
	}
	r := float64((v >> 16) & 0xFF)
	g := float64((v >> 8) & 0xFF)
	b := float64(v & 0xFF)
	return 0.299*r + 0.587*g + 0.114*b
}
