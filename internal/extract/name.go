package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/document"
)

var nameStrategies = []Strategy{
	nameFromJSONLD,
	nameFromItemAttr,
	nameFromCard,
	nameFromHeading,
	nameFromTitle,
}

var (
	cardNameSelectors   = []string{"h3", `[class*="title"]`, `[class*="name"]`}
	detailNameSelectors = []string{"h1.product-detail__name", "h1.product__name", "h1.item-title", "h1"}
)

func single(value, source string) []crawler.Candidate {
	value = document.CollapseSpace(value)
	if value == "" {
		return nil
	}
	return []crawler.Candidate{{Value: value, Source: source}}
}

func nameFromJSONLD(in Input) []crawler.Candidate {
	if !in.detail() {
		return nil
	}
	node := productLD(in.Doc)
	if node == nil {
		return nil
	}
	if v := single(document.String(node["name"]), "jsonld"); v != nil {
		return v
	}
	return single(document.String(node["title"]), "jsonld")
}

func nameFromItemAttr(in Input) []crawler.Candidate {
	if in.detail() {
		return nil
	}
	return single(in.Node.AttrOr("data-cnstrc-item-name", ""), "item_attr")
}

func nameFromCard(in Input) []crawler.Candidate {
	if in.detail() {
		return nil
	}
	return single(ownText(in.Node, cardNameSelectors...), "card")
}

func nameFromHeading(in Input) []crawler.Candidate {
	if !in.detail() {
		return nil
	}
	return single(document.FirstText(in.Doc.Root(), detailNameSelectors...), "heading")
}

func nameFromTitle(in Input) []crawler.Candidate {
	if !in.detail() {
		return nil
	}
	return single(in.Doc.Title(), "title")
}

// ownText returns the first non-empty direct text of a node matched by one
// of selectors, in selector order. Child element text is ignored so a title
// wrapper does not pick up badges or prices nested inside it.
func ownText(root *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		var found string
		root.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = document.CollapseSpace(s.Contents().FilterFunction(func(_ int, c *goquery.Selection) bool {
				return goquery.NodeName(c) == "#text"
			}).Text())
			if found == "" {
				found = document.NodeText(s)
			}
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}
