// Package resolve picks the best value among extraction candidates.
package resolve

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/document"
)

// RepairWindow is how far past an integer price token the repair step looks
// for a detached two-digit fraction.
const RepairWindow = 160

var (
	// Space-grouped thousands ("R1 299.99") only count when a fraction
	// follows; otherwise a trailing unit size ("R25 250 g") would merge in.
	currencyAmount = regexp.MustCompile(`R\s?(?:(\d{1,3}(?: \d{3})+)[.,](\d{2})|(\d+(?:,\d{3})*)(?:[.,](\d{2}))?)`)
	bareAmount     = regexp.MustCompile(`(\d+(?:,\d{3})*)[.,](\d{2})`)
	bareInteger    = regexp.MustCompile(`^\s*(\d+(?:,\d{3})*)\s*$`)
	detachedCents  = regexp.MustCompile(`[.,]\s?(\d{2})(?:\D|$)`)
	centedAmount   = regexp.MustCompile(`R\s?\d+[.,]\d{2}`)
	blobDecimal    = regexp.MustCompile(`^R?\s?\d+[.,]\d{2}$`)
	nonNumeric     = regexp.MustCompile(`[^0-9.]`)
)

// Amount is a parsed currency value.
type Amount struct {
	Rands    int64
	Cents    int
	HasCents bool
}

// Value returns the amount as a float.
func (a Amount) Value() float64 {
	return float64(a.Rands) + float64(a.Cents)/100
}

// String renders the fixed-precision currency string, e.g. "R 62.99".
func (a Amount) String() string {
	return fmt.Sprintf("R %d.%02d", a.Rands, a.Cents)
}

// ParseNumeric strips every character that is not a digit or decimal point
// and parses the rest. Empty or unparseable input yields nil.
func ParseNumeric(raw string) *float64 {
	cleaned := nonNumeric.ReplaceAllString(raw, "")
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ParseAmounts returns every "R"-prefixed amount in raw, in order of
// appearance. When raw carries no currency symbol, bare decimals such as
// "24.99" or a lone integer are accepted instead.
func ParseAmounts(raw string) []Amount {
	var out []Amount
	for _, m := range currencyAmount.FindAllStringSubmatch(raw, -1) {
		whole, cents := m[1], m[2]
		if whole == "" {
			whole, cents = m[3], m[4]
		}
		if a, ok := buildAmount(whole, cents); ok {
			out = append(out, a)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, m := range bareAmount.FindAllStringSubmatch(raw, -1) {
		if a, ok := buildAmount(m[1], m[2]); ok {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		if m := bareInteger.FindStringSubmatch(raw); m != nil {
			if a, ok := buildAmount(m[1], ""); ok {
				out = append(out, a)
			}
		}
	}
	return out
}

func buildAmount(whole, cents string) (Amount, bool) {
	whole = strings.NewReplacer(",", "", " ", "").Replace(whole)
	rands, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Amount{}, false
	}
	a := Amount{Rands: rands}
	if cents != "" {
		c, err := strconv.Atoi(cents)
		if err != nil {
			return Amount{}, false
		}
		a.Cents = c
		a.HasCents = true
	}
	return a, true
}

// Lowest returns the smallest amount in raw, which is the selling price when
// a node shows both a was and a now price.
func Lowest(raw string) (Amount, bool) {
	amounts := ParseAmounts(raw)
	if len(amounts) == 0 {
		return Amount{}, false
	}
	best := amounts[0]
	for _, a := range amounts[1:] {
		if a.Value() < best.Value() {
			best = a
		}
	}
	return best, true
}

// FromFloat converts a numeric blob value to an Amount.
func FromFloat(v float64) Amount {
	total := int64(math.Round(v * 100))
	return Amount{Rands: total / 100, Cents: int(total % 100), HasCents: true}
}

// PriceInput is everything the repair cascade may consult.
type PriceInput struct {
	// Candidates hold raw price text in cascade order. A Weight >= 0 on a
	// body-text candidate is its offset in PageText.
	Candidates []crawler.Candidate
	PageText   string
	Blobs      []any
}

// Price resolves the final amount. It walks candidates in order and stops at
// the first value carrying a two-digit fraction, repairing integer values
// from the text window that follows them, then from any cented amount on
// the page, then from inlined data blobs. If nothing carries cents the first
// parseable amount is used as-is.
func Price(in PriceInput) (Amount, bool) {
	var fallback *Amount
	for _, c := range in.Candidates {
		a, ok := Lowest(c.Value)
		if !ok {
			continue
		}
		if a.HasCents {
			return a, true
		}
		if repaired, ok := repairFromWindow(a, c, in.PageText); ok {
			return repaired, true
		}
		if fallback == nil {
			cp := a
			fallback = &cp
		}
	}
	if fallback == nil {
		return Amount{}, false
	}
	if m := centedAmount.FindString(in.PageText); m != "" {
		if a, ok := Lowest(m); ok {
			return a, true
		}
	}
	if a, ok := priceFromBlobs(in.Blobs); ok {
		return a, true
	}
	return *fallback, true
}

func repairFromWindow(a Amount, c crawler.Candidate, text string) (Amount, bool) {
	token := strings.TrimSpace(c.Value)
	if token == "" || text == "" {
		return Amount{}, false
	}
	idx := -1
	if c.Source == SourceBodyText && c.Weight >= 0 && c.Weight < len(text) && strings.HasPrefix(text[c.Weight:], token) {
		idx = c.Weight
	} else {
		idx = strings.Index(text, token)
	}
	if idx < 0 {
		return Amount{}, false
	}
	start := idx + len(token)
	if loc := currencyAmount.FindStringIndex(token); loc != nil {
		start = idx + loc[1]
	}
	end := idx + RepairWindow
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return Amount{}, false
	}
	m := detachedCents.FindStringSubmatch(text[start:end])
	if m == nil {
		return Amount{}, false
	}
	cents, err := strconv.Atoi(m[1])
	if err != nil {
		return Amount{}, false
	}
	a.Cents = cents
	a.HasCents = true
	return a, true
}

// SourceBodyText marks a price candidate found by scanning page text.
const SourceBodyText = "body_text"

func priceFromBlobs(blobs []any) (Amount, bool) {
	var found Amount
	var ok bool
	scan := func(priceKeysOnly bool) {
		for _, blob := range blobs {
			document.Walk(blob, func(key string, value any) bool {
				if priceKeysOnly && !strings.Contains(strings.ToLower(key), "price") {
					return true
				}
				switch v := value.(type) {
				case float64:
					if v > 0 && v != math.Trunc(v) {
						found, ok = FromFloat(v), true
						return false
					}
				case string:
					s := strings.TrimSpace(v)
					if blobDecimal.MatchString(s) {
						if a, good := Lowest(s); good {
							found, ok = a, true
							return false
						}
					}
				}
				return true
			})
			if ok {
				return
			}
		}
	}
	scan(true)
	if !ok {
		scan(false)
	}
	return found, ok
}
