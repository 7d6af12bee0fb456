// Package extract pulls candidate field values out of product pages and
// listing product nodes. Every field has an ordered table of strategies;
// strategies are pure and never fail, an absent signal yields no candidates.
package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/document"
	"github.com/JakeFAU/shelfscan/internal/resolve"
)

// Field names an extracted product attribute.
type Field string

// Fields with a strategy table.
const (
	FieldName     Field = "name"
	FieldPrice    Field = "price"
	FieldImage    Field = "image"
	FieldCategory Field = "category"
)

// Input is what a strategy reads. Node is nil when the whole document
// describes a single product.
type Input struct {
	Doc      *document.Document
	Node     *goquery.Selection
	Name     string
	Retailer string
}

func (in Input) scope() *goquery.Selection {
	if in.Node != nil {
		return in.Node
	}
	return in.Doc.Root()
}

func (in Input) detail() bool {
	return in.Node == nil
}

func (in Input) text() string {
	if in.Node != nil {
		return document.NodeText(in.Node)
	}
	return in.Doc.BodyText()
}

// Strategy produces zero or more candidates for one field.
type Strategy func(Input) []crawler.Candidate

// Strategies returns the ordered table for field.
func Strategies(field Field) []Strategy {
	switch field {
	case FieldName:
		return nameStrategies
	case FieldPrice:
		return priceStrategies
	case FieldImage:
		return imageStrategies
	case FieldCategory:
		return categoryStrategies
	}
	return nil
}

// First runs the table for field and returns the first non-empty result.
func First(field Field, in Input) []crawler.Candidate {
	for _, s := range Strategies(field) {
		if out := s(in); len(out) > 0 {
			return out
		}
	}
	return nil
}

// All runs every strategy for field and concatenates the results in
// cascade order.
func All(field Field, in Input) []crawler.Candidate {
	var out []crawler.Candidate
	for _, s := range Strategies(field) {
		out = append(out, s(in)...)
	}
	return out
}

// Item is the result of extracting one product.
type Item struct {
	Record  crawler.ProductRecord
	SiteKey string
}

// Name resolves the product name. Empty means not found.
func Name(in Input) string {
	for _, c := range First(FieldName, in) {
		if v := document.CollapseSpace(c.Value); v != "" {
			return v
		}
	}
	return ""
}

// Price resolves the price through the repair cascade.
func Price(in Input) (resolve.Amount, bool) {
	candidates := First(FieldPrice, in)
	if len(candidates) == 0 {
		return resolve.Amount{}, false
	}
	pi := resolve.PriceInput{Candidates: candidates, PageText: in.text()}
	if in.detail() {
		pi.Blobs = in.Doc.EmbeddedJSON()
	}
	return resolve.Price(pi)
}

// Image resolves the best image URL.
func Image(in Input) string {
	v, _ := resolve.Image(All(FieldImage, in))
	return v
}

// Category resolves the category. Name should already be set on in.
func Category(in Input) string {
	v, _ := resolve.Category(First(FieldCategory, in))
	return v
}

// Product extracts every field for in. The record carries no source,
// retailer or fingerprint; callers fill those.
func Product(in Input) Item {
	in.Name = Name(in)
	rec := crawler.ProductRecord{Name: in.Name}
	if amount, ok := Price(in); ok {
		rec.Price = amount.String()
		rec.NumericPrice = resolve.ParseNumeric(rec.Price)
	}
	rec.ImageURL = Image(in)
	rec.Category = Category(in)
	item := Item{Record: rec}
	if in.detail() {
		item.SiteKey = SiteKeyFromURL(in.Doc.URL())
	} else {
		item.SiteKey = SiteKey(in.Node)
		rec.DetailURL = DetailURL(in.Doc, in.Node)
		item.Record = rec
	}
	return item
}
