package extract

import (
	"strconv"

	"github.com/JakeFAU/shelfscan/internal/document"
)

// productLD returns the first JSON-LD node typed Product or ProductModel.
func productLD(doc *document.Document) map[string]any {
	for _, n := range doc.JSONLD() {
		m, ok := n.(map[string]any)
		if !ok {
			continue
		}
		if document.TypeMatches(m, "Product", "ProductModel") {
			return m
		}
	}
	return nil
}

// scalarString renders JSON strings and numbers as text.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		if name := document.String(t["name"]); name != "" {
			return name
		}
		return document.String(t["url"])
	}
	return ""
}

// offerPrice reads offers.price from an object or the first offer of a list.
func offerPrice(node map[string]any) string {
	switch offers := node["offers"].(type) {
	case map[string]any:
		if p := scalarString(offers["price"]); p != "" {
			return p
		}
		return scalarString(offers["lowPrice"])
	case []any:
		if len(offers) == 0 {
			return ""
		}
		if first, ok := offers[0].(map[string]any); ok {
			return scalarString(first["price"])
		}
	}
	return ""
}

// imageValues flattens the image field: a string, a list of strings or a
// list of objects with a url.
func imageValues(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case map[string]any:
		if u := document.String(t["url"]); u != "" {
			return []string{u}
		}
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, imageValues(item)...)
		}
		return out
	}
	return nil
}
