package document

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CollapseSpace trims s and folds internal whitespace runs to one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NodeText returns the text under sel with element boundaries separated by
// spaces, skipping script, style and template content.
func NodeText(sel *goquery.Selection) string {
	var b strings.Builder
	collectText(sel, &b)
	return CollapseSpace(b.String())
}

func collectText(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "#text":
			b.WriteString(s.Text())
			b.WriteByte(' ')
		case "script", "style", "template", "noscript", "#comment":
		default:
			collectText(s, b)
			b.WriteByte(' ')
		}
	})
}

// Attr returns the first non-empty attribute among names on the first node.
func Attr(sel *goquery.Selection, names ...string) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	first := sel.First()
	for _, name := range names {
		if v := strings.TrimSpace(first.AttrOr(name, "")); v != "" {
			return v
		}
	}
	return ""
}

// FirstText returns the first non-empty collapsed text among the nodes
// matched by each selector, evaluated in order under root.
func FirstText(root *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		var found string
		root.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = NodeText(s)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}
