package resolve

import (
	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/document"
)

// Category returns the first non-empty candidate. The extractor cascade
// order already encodes preference.
func Category(candidates []crawler.Candidate) (string, bool) {
	for _, c := range candidates {
		if v := document.CollapseSpace(c.Value); v != "" {
			return v, true
		}
	}
	return "", false
}
