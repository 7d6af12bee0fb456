package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/shelfscan/internal/document"
)

// ProductNodeSelector matches one product entry on a listing page.
const ProductNodeSelector = `div.product-list__item, article.product-card, div.product-card, [data-cnstrc-item-id]`

const detailLinkSelector = `a.product--view, a.product-view`

var urlSKU = regexp.MustCompile(`-([A-Z0-9]{6,})(?:$|[.\-/?#])`)

// ProductNodes returns the outermost product nodes of a listing page.
// Nodes nested inside another matched node are dropped so one card never
// counts twice.
func ProductNodes(doc *document.Document) *goquery.Selection {
	return doc.Find(ProductNodeSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered(ProductNodeSelector).Length() == 0
	})
}

// IsPlaceholder reports whether a node is a skeleton card with no item id,
// no item name and no detail link.
func IsPlaceholder(node *goquery.Selection) bool {
	if strings.TrimSpace(node.AttrOr("data-cnstrc-item-id", "")) != "" {
		return false
	}
	if strings.TrimSpace(node.AttrOr("data-cnstrc-item-name", "")) != "" {
		return false
	}
	return document.Attr(node.Find(detailLinkSelector), "href") == ""
}

// SiteKey returns the site-assigned item id or SKU of a listing node.
func SiteKey(node *goquery.Selection) string {
	return document.Attr(node, "data-cnstrc-item-id", "data-cnstrc-item-sku")
}

// SiteKeyFromURL pulls a SKU-like suffix out of a detail page URL.
func SiteKeyFromURL(raw string) string {
	if m := urlSKU.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// DetailURL returns the absolute product page link of a listing node.
func DetailURL(doc *document.Document, node *goquery.Selection) string {
	href := document.Attr(node.Find(detailLinkSelector), "href")
	if href == "" {
		return ""
	}
	return doc.Resolve(href)
}
