package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/document"
	"github.com/JakeFAU/shelfscan/internal/resolve"
)

var priceStrategies = []Strategy{
	priceFromJSONLD,
	priceFromCard,
	priceFromSelectors,
	priceFromText,
}

var (
	detailPriceSelectors = []string{"span.now", ".item-price", ".price", ".selling-price", `[class*="price"]`}
	pricePattern         = regexp.MustCompile(`\bR\s?\d+(?:[.,]\d{2})?`)
)

const cardPriceSelector = `[class*="price"]`

func priceFromJSONLD(in Input) []crawler.Candidate {
	if !in.detail() {
		return nil
	}
	node := productLD(in.Doc)
	if node == nil {
		return nil
	}
	return single(offerPrice(node), "jsonld")
}

// priceFromCard joins the text of the outermost price elements in a listing
// node. Was and now prices end up in one candidate; the resolver keeps the
// lowest.
func priceFromCard(in Input) []crawler.Candidate {
	if in.detail() {
		return nil
	}
	var parts []string
	in.Node.Find(cardPriceSelector).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsUntilSelection(in.Node).Filter(cardPriceSelector).Length() > 0 {
			return
		}
		if t := document.NodeText(s); t != "" {
			parts = append(parts, t)
		}
	})
	return single(strings.Join(parts, " "), "card")
}

func priceFromSelectors(in Input) []crawler.Candidate {
	if !in.detail() {
		return nil
	}
	for _, selector := range detailPriceSelectors {
		var found string
		in.Doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			t := document.NodeText(s)
			if strings.Contains(t, "R") {
				found = t
				return false
			}
			return true
		})
		if found != "" {
			return single(found, "selector")
		}
	}
	return nil
}

// priceFromText scans visible text for currency tokens. Weight carries the
// byte offset of each token so the resolver can search the text after it.
func priceFromText(in Input) []crawler.Candidate {
	text := in.text()
	var out []crawler.Candidate
	for _, loc := range pricePattern.FindAllStringIndex(text, -1) {
		out = append(out, crawler.Candidate{
			Value:  text[loc[0]:loc[1]],
			Weight: loc[0],
			Source: resolve.SourceBodyText,
		})
	}
	return out
}
