package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/document"
)

var categoryStrategies = []Strategy{
	categoryFromJSONLD,
	categoryFromBreadcrumbs,
	categoryFromDepartmentLinks,
	categoryFromBlobs,
	categoryFromKeywords,
	categoryFromSection,
	categoryFromVocabulary,
	categoryFromNameKeywords,
	categoryFromBodyKeywords,
}

var (
	breadcrumbSelectors = []string{
		"nav.breadcrumb a",
		`nav[aria-label="breadcrumb"] a`,
		"ul.breadcrumb li a",
		".breadcrumbs a",
		".breadcrumb a",
		".breadcrumbs li",
		".breadcrumb li",
	}
	departmentSelectors = []string{
		`a[href*="/department/"]`,
		`a[href*="/departments/"]`,
		`a[href*="/category/"]`,
		`a[href*="/categories/"]`,
	}
	genericCrumbs = map[string]bool{"home": true, "products": true, "shop": true}

	blobCategoryKeys = map[string]bool{
		"department": true, "category": true, "categories": true,
		"categoryname": true, "departmentname": true,
	}
	blobCategoryPaths = []string{
		"props.pageProps.initialState",
		"props.pageProps.initialProps",
		"props.pageProps.product",
		"props.pageProps.productData",
		"props.pageProps.pageProps",
		"props.pageProps",
		"props",
	}
	keywordStopWords = []string{"south africa", "online"}
)

// vocabulary is matched on word boundaries against page text, in order.
var vocabulary = compileVocabulary(
	"Stationery", "Toiletries", "Personal Care", "Health", "Groceries",
	"Bakery", "Beverages", "Electronics", "Baby",
)

type vocabEntry struct {
	name    string
	pattern *regexp.Regexp
}

func compileVocabulary(names ...string) []vocabEntry {
	out := make([]vocabEntry, 0, len(names))
	for _, n := range names {
		out = append(out, vocabEntry{name: n, pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(n) + `\b`)})
	}
	return out
}

// keywordCategories maps substrings of product names to categories. Order
// matters: the first category with a matching keyword wins.
var keywordCategories = []struct {
	category string
	keywords []string
}{
	{"Stationery", []string{"pencil", "crayon", "pen", "stationery", "notebook", "book", "paper", "diary", "counter book", "office"}},
	{"Toiletries", []string{"toilet", "toiletries", "soap", "bath", "shower", "toilet paper"}},
	{"Personal Care", []string{"toothpaste", "toothbrush", "deodorant", "conditioner", "shampoo", "lotion", "skincare", "razor"}},
	{"Health", []string{"vitamin", "paracetamol", "aspirin", "cold", "syrup", "medicine", "capsule"}},
	{"Groceries", []string{"milk", "bread", "butter", "cheese", "grocery", "rice", "pasta", "flour"}},
	{"Bakery", []string{"bakery", "cake", "bread", "bake"}},
	{"Beverages", []string{"cola", "drink", "juice", "tea", "coffee", "beverage"}},
	{"Electronics", []string{"charger", "battery", "headphone", "earbud", "electronic", "camera"}},
	{"Baby", []string{"baby", "nappy", "diaper", "milk formula"}},
}

func categoryFromJSONLD(in Input) []crawler.Candidate {
	node := productLD(in.Doc)
	if node == nil {
		return nil
	}
	for _, key := range []string{"category", "productCategory"} {
		switch v := node[key].(type) {
		case []any:
			for i := len(v) - 1; i >= 0; i-- {
				if s := scalarString(v[i]); strings.TrimSpace(s) != "" {
					return single(s, "jsonld")
				}
			}
		default:
			if out := single(scalarString(v), "jsonld"); out != nil {
				return out
			}
		}
	}
	return nil
}

// categoryFromBreadcrumbs takes the last meaningful crumb, or the one before
// it when the trail ends with the product itself.
func categoryFromBreadcrumbs(in Input) []crawler.Candidate {
	for _, selector := range breadcrumbSelectors {
		var crumbs []string
		in.Doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			t := document.NodeText(s)
			if t == "" || genericCrumbs[strings.ToLower(t)] {
				return
			}
			crumbs = append(crumbs, t)
		})
		if len(crumbs) == 0 {
			continue
		}
		last := crumbs[len(crumbs)-1]
		if len(crumbs) > 1 && in.Name != "" && strings.EqualFold(last, document.CollapseSpace(in.Name)) {
			return single(crumbs[len(crumbs)-2], "breadcrumb")
		}
		return single(last, "breadcrumb")
	}
	return nil
}

func categoryFromDepartmentLinks(in Input) []crawler.Candidate {
	for _, selector := range departmentSelectors {
		var last string
		in.Doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			t := document.NodeText(s)
			if t != "" && !genericCrumbs[strings.ToLower(t)] {
				last = t
			}
		})
		if last != "" {
			return single(last, "department_link")
		}
	}
	return nil
}

func categoryFromBlobs(in Input) []crawler.Candidate {
	for _, blob := range in.Doc.EmbeddedJSON() {
		if v := blobCategory(blob); v != "" {
			return single(v, "blob")
		}
	}
	return nil
}

// blobCategory looks at the usual product containers first, then anywhere
// in the blob.
func blobCategory(blob any) string {
	var ids map[string]string
	for _, path := range blobCategoryPaths {
		obj, ok := document.Lookup(blob, path).(map[string]any)
		if !ok {
			continue
		}
		if v := displayCategory(obj["displayCategories"]); v != "" {
			return v
		}
		if mc, present := obj["merchandiseCategory"]; present && mc != nil {
			if ids == nil {
				ids = idNameTable(blob)
			}
			if v := merchandiseCategory(blob, mc, ids); v != "" {
				return v
			}
		}
		if v := findCategory(obj); v != "" {
			return v
		}
	}
	return findCategory(blob)
}

func displayCategory(v any) string {
	list, ok := v.([]any)
	if !ok {
		return ""
	}
	for i := len(list) - 1; i >= 0; i-- {
		switch el := list[i].(type) {
		case map[string]any:
			if name := document.String(el["name"]); name != "" {
				return name
			}
		case string:
			if s := strings.TrimSpace(el); s != "" {
				return s
			}
		}
	}
	return ""
}

func merchandiseCategory(blob, mc any, ids map[string]string) string {
	key := scalarString(mc)
	if key == "" {
		return ""
	}
	if name, ok := ids[key]; ok {
		return name
	}
	if name := nameByID(blob, key); name != "" {
		return name
	}
	if _, err := strconv.Atoi(key); err != nil {
		if s, ok := mc.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// idNameTable indexes every object carrying both an id and a name.
func idNameTable(blob any) map[string]string {
	out := map[string]string{}
	record := func(v any) {
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		name, ok := m["name"].(string)
		if !ok {
			return
		}
		if id := scalarID(m["id"]); id != "" {
			if _, exists := out[id]; !exists {
				out[id] = name
			}
		}
	}
	record(blob)
	document.Walk(blob, func(_ string, value any) bool {
		record(value)
		return true
	})
	return out
}

func scalarID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// nameByID finds an object whose id equals target and returns its display
// name, preferring displayName over name.
func nameByID(blob any, target string) string {
	var found string
	check := func(v any) bool {
		m, ok := v.(map[string]any)
		if !ok || scalarID(m["id"]) != target {
			return false
		}
		if dn := document.String(m["displayName"]); dn != "" {
			found = dn
			return true
		}
		if n := document.String(m["name"]); n != "" {
			found = n
			return true
		}
		return false
	}
	if check(blob) {
		return found
	}
	document.Walk(blob, func(_ string, value any) bool {
		return !check(value)
	})
	return found
}

// findCategory returns the first category-shaped key holding a string or an
// object with a name.
func findCategory(v any) string {
	var found string
	document.Walk(v, func(key string, value any) bool {
		if !blobCategoryKeys[strings.ToLower(key)] {
			return true
		}
		switch t := value.(type) {
		case string:
			found = strings.TrimSpace(t)
		case map[string]any:
			found = document.String(t["name"])
		}
		return found == ""
	})
	return found
}

func categoryFromKeywords(in Input) []crawler.Candidate {
	raw := in.Doc.Meta("keywords")
	if raw == "" {
		return nil
	}
	stop := append([]string{}, keywordStopWords...)
	if r := strings.ToLower(strings.TrimSpace(in.Retailer)); r != "" {
		stop = append(stop, r)
	}
	for _, part := range strings.Split(raw, ",") {
		p := document.CollapseSpace(part)
		if len(p) <= 2 || len(strings.Fields(p)) > 3 {
			continue
		}
		low := strings.ToLower(p)
		blocked := false
		for _, s := range stop {
			if strings.Contains(low, s) {
				blocked = true
				break
			}
		}
		if !blocked {
			return single(p, "meta_keywords")
		}
	}
	return nil
}

func categoryFromSection(in Input) []crawler.Candidate {
	return single(in.Doc.Meta("article:section"), "meta_section")
}

// categoryFromVocabulary and categoryFromBodyKeywords read only the card
// text on a listing page; site navigation would match every card.
func categoryFromVocabulary(in Input) []crawler.Candidate {
	text := in.text()
	for _, v := range vocabulary {
		if v.pattern.MatchString(text) {
			return single(v.name, "vocabulary")
		}
	}
	return nil
}

func categoryFromNameKeywords(in Input) []crawler.Candidate {
	return keywordCategory(in.Name, "name_keyword")
}

func categoryFromBodyKeywords(in Input) []crawler.Candidate {
	return keywordCategory(in.text(), "body_keyword")
}

func keywordCategory(text, source string) []crawler.Candidate {
	low := strings.ToLower(text)
	if low == "" {
		return nil
	}
	for _, kc := range keywordCategories {
		for _, kw := range kc.keywords {
			if strings.Contains(low, kw) {
				return single(kc.category, source)
			}
		}
	}
	return nil
}
