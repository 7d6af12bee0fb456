package crawlstate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/shelfscan/internal/document"
)

var (
	countPhrase  = regexp.MustCompile(`(?i)(?:of\s+)?(\d[\d,]*)\s*(?:results?|products|items)\b`)
	firstNumber  = regexp.MustCompile(`\d[\d,]*`)
	counterNodes = []string{
		"div.search-results__count",
		"div.results-count",
		"span.total-results",
		"span.results",
		"span.search-result-count",
		"p.results-count",
		"div.results-count__value",
	}
	scriptTotalKeys = compileTotalKeys(
		"totalResults", "totalProducts", "total", "productCount",
		"totalItems", "total_products", "totalRecords",
	)
)

func compileTotalKeys(keys ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(keys))
	for _, k := range keys {
		out = append(out, regexp.MustCompile(`"`+regexp.QuoteMeta(k)+`"\s*[:=]\s*(\d+)`))
	}
	return out
}

// totalSource is one way to read item counts off a page. It may report
// several candidates in page order; zero entries are ignored.
type totalSource struct {
	name string
	read func(doc *document.Document, nodes int) []int
}

func one(f func(*document.Document, int) int) func(*document.Document, int) []int {
	return func(d *document.Document, nodes int) []int { return []int{f(d, nodes)} }
}

var totalSources = []totalSource{
	{"text", func(d *document.Document, _ int) []int { return countsIn(d.BodyText()) }},
	{"meta_description", func(d *document.Document, _ int) []int { return countsIn(d.Meta("description")) }},
	{"counter", one(totalFromCounter)},
	{"data_attribute", one(totalFromDataAttribute)},
	{"paginator", one(totalFromPaginator)},
	{"script", one(totalFromScripts)},
}

// InferTotal returns the total item count a listing page advertises and
// the signal it came from. Zero means no signal.
func InferTotal(doc *document.Document, nodes int) (int, string) {
	return InferTotalAtLeast(doc, nodes, 1)
}

// InferTotalAtLeast is InferTotal ignoring every count below floor, such as
// "Buy any 2 items" promo text on a page that already shows 24 products.
func InferTotalAtLeast(doc *document.Document, nodes, floor int) (int, string) {
	if doc == nil {
		return 0, ""
	}
	if floor < 1 {
		floor = 1
	}
	for _, src := range totalSources {
		for _, n := range src.read(doc, nodes) {
			if n >= floor {
				return n, src.name
			}
		}
	}
	return 0, ""
}

func parseCount(s string) int {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func countsIn(text string) []int {
	var out []int
	for _, m := range countPhrase.FindAllStringSubmatch(text, -1) {
		if n := parseCount(m[1]); n > 0 {
			out = append(out, n)
		}
	}
	return out
}

func totalFromCounter(doc *document.Document, _ int) int {
	for _, sel := range counterNodes {
		t := document.NodeText(doc.Find(sel).First())
		if m := firstNumber.FindString(t); m != "" {
			if n := parseCount(m); n > 0 {
				return n
			}
		}
	}
	return 0
}

func totalFromDataAttribute(doc *document.Document, _ int) int {
	v := document.Attr(doc.Find("div.product-list__list[data-cnstrc-num-results], [data-cnstrc-num-results]"), "data-cnstrc-num-results")
	return parseCount(v)
}

// totalFromPaginator multiplies the page count of a "page X of Y" widget
// by the page size.
func totalFromPaginator(doc *document.Document, nodes int) int {
	var nums []int
	doc.Find("nav.pagination .page-num-mobile strong").Each(func(_ int, s *goquery.Selection) {
		nums = append(nums, parseCount(document.CollapseSpace(s.Text())))
	})
	if len(nums) < 2 || nums[1] <= 0 {
		return 0
	}
	size := parseCount(document.Attr(doc.Find("[data-cnstrc-page-size]"), "data-cnstrc-page-size"))
	if size <= 0 {
		size = nodes
	}
	return nums[1] * size
}

func totalFromScripts(doc *document.Document, _ int) int {
	for _, body := range doc.Scripts("") {
		for _, re := range scriptTotalKeys {
			if m := re.FindStringSubmatch(body); m != nil {
				if n := parseCount(m[1]); n > 0 {
					return n
				}
			}
		}
	}
	return 0
}
