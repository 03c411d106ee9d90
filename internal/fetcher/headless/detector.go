package headless

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// DetectorConfig tunes the JS-shell heuristic.
type DetectorConfig struct {
	MinHTMLBytes  int      `mapstructure:"min_html_bytes"`
	MinTextBytes  int      `mapstructure:"min_text_bytes"`
	ShellMarkers  []string `mapstructure:"shell_markers"`
	RootSelectors []string `mapstructure:"root_selectors"`
}

// DefaultDetectorConfig returns markers common to client-rendered frameworks.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinHTMLBytes: 512,
		MinTextBytes: 200,
		ShellMarkers: []string{
			"enable javascript",
			"you need to enable javascript",
			"__next_data__",
			"ng-version",
		},
		RootSelectors: []string{"#root", "#app", "#__next", "[data-reactroot]"},
	}
}

// Detector flags responses that look like an empty client-rendered shell.
type Detector struct {
	cfg     DetectorConfig
	markers [][]byte
}

var _ scrape.HeadlessDetector = (*Detector)(nil)

// NewDetector constructs a Detector.
func NewDetector(cfg DetectorConfig) *Detector {
	markers := make([][]byte, 0, len(cfg.ShellMarkers))
	for _, m := range cfg.ShellMarkers {
		m = strings.TrimSpace(m)
		if m != "" {
			markers = append(markers, bytes.ToLower([]byte(m)))
		}
	}
	return &Detector{cfg: cfg, markers: markers}
}

// ShouldPromote reports whether the probe body needs JavaScript to render.
func (d *Detector) ShouldPromote(probe scrape.FetchResponse) bool {
	if d == nil || probe.UsedHeadless {
		return false
	}
	body := probe.Body
	if d.cfg.MinHTMLBytes > 0 && len(body) < d.cfg.MinHTMLBytes {
		return true
	}
	lower := bytes.ToLower(body)
	for _, m := range d.markers {
		if bytes.Contains(lower, m) {
			return true
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.TrimSpace(doc.Find("body").Text())
	if d.cfg.MinTextBytes <= 0 || len(text) >= d.cfg.MinTextBytes {
		return false
	}
	for _, sel := range d.cfg.RootSelectors {
		if node := doc.Find(sel); node.Length() > 0 && strings.TrimSpace(node.Text()) == "" {
			return true
		}
	}
	return false
}
