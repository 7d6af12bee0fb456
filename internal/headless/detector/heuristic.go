// Package detector decides when an HTTP probe must be re-fetched through a
// headless renderer.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/document"
	"github.com/JakeFAU/shelfscan/internal/extract"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	// BodyLengthThreshold is the size under which a script-heavy page is
	// treated as an application shell.
	BodyLengthThreshold int
	// LazyImageRatio is the share of product images without a real src
	// that marks a listing as lazily rendered.
	LazyImageRatio float64
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold, LazyImageRatio: 0.5}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	doc, err := document.Parse(resp.URL, body)
	if err != nil {
		return true
	}

	nodes := extract.ProductNodes(doc)
	if nodes.Length() > 0 {
		return h.lazyImages(nodes)
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(doc, len(body)) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// lazyImages reports whether enough product cards show no loaded image.
func (h *Heuristic) lazyImages(nodes *goquery.Selection) bool {
	total, lazy := 0, 0
	nodes.Each(func(_ int, node *goquery.Selection) {
		img := node.Find("img").First()
		if img.Length() == 0 {
			return
		}
		total++
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(src, "data:") || strings.Contains(strings.ToLower(src), "placeholder") {
			lazy++
		}
	})
	if total == 0 {
		return false
	}
	return float64(lazy)/float64(total) >= h.LazyImageRatio
}

// scriptDensityHigh reports whether inline scripts make up a quarter or
// more of the page.
func scriptDensityHigh(doc *document.Document, size int) bool {
	if size == 0 {
		return false
	}
	coverage := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		coverage += len(s.Text()) + len("<script></script>")
	})
	return coverage*100/size >= 25
}
