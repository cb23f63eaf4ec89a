package extractor

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"
)

// Detector decides whether a fetched page needs JavaScript rendering before
// reviews can be extracted.
type Detector struct {
	minHTMLBytes int
	selectors    []string
	keywords     [][]byte
}

// DefaultDetector is tuned for review listings: tiny documents, hydration
// markers, or markup with none of the known review containers all indicate a
// JS-rendered page.
func DefaultDetector() *Detector {
	return NewDetector(2048, reviewContainerSelectors, []string{
		"enable javascript",
		"__next_data__",
		"window.__initial_state__",
	})
}

// NewDetector constructs a Detector with the given thresholds.
func NewDetector(minBytes int, selectors, keywords []string) *Detector {
	lower := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		lower = append(lower, bytes.ToLower([]byte(kw)))
	}
	return &Detector{
		minHTMLBytes: minBytes,
		selectors:    selectors,
		keywords:     lower,
	}
}

// NeedsRendering inspects the raw HTML for signals that a headless browser
// pass is required.
func (d *Detector) NeedsRendering(html []byte) bool {
	if d == nil {
		return false
	}
	if d.minHTMLBytes > 0 && len(html) < d.minHTMLBytes {
		return true
	}
	lower := bytes.ToLower(html)
	for _, kw := range d.keywords {
		if bytes.Contains(lower, kw) {
			return true
		}
	}
	return d.missingSelectors(html)
}

func (d *Detector) missingSelectors(html []byte) bool {
	if len(d.selectors) == 0 || len(html) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return true
	}
	for _, sel := range d.selectors {
		if doc.Find(sel).Length() > 0 {
			return false
		}
	}
	return true
}
