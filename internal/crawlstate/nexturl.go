package crawlstate

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/shelfscan/internal/document"
)

// Next URL strategies, reported for logging.
const (
	ViaRelNext        = "rel_next"
	ViaNextLabel      = "next_label"
	ViaActiveSibling  = "active_sibling"
	ViaParamIncrement = "param_increment"
	ViaParamAppended  = "param_appended"
)

// pageParams are the query parameters recognized as pagination. "page" is
// a page index; the rest are item offsets.
var pageParams = []string{"page", "No", "offset", "start"}

var nextLabel = regexp.MustCompile(`(?i)^next(?:\s+page)?\s*[›»>→]*$`)

// NextInput is what the next-URL cascade needs to know about the page.
type NextInput struct {
	Doc          *document.Document
	Current      string
	Page         int
	PageSize     int
	Total        int
	MaxJumpPages int
}

// NextURL resolves the next listing page. It returns "" when the cascade
// decides there is no next page. Doc may be nil for a page whose fetch
// failed, in which case only URL-based strategies run.
func NextURL(in NextInput) (string, string) {
	if in.Doc != nil {
		for _, s := range []struct {
			via  string
			find func(*document.Document) string
		}{
			{ViaRelNext, relNext},
			{ViaNextLabel, labeledNext},
			{ViaActiveSibling, activeSibling},
		} {
			if href := s.find(in.Doc); href != "" {
				if abs := in.Doc.Resolve(href); abs != "" {
					return abs, s.via
				}
			}
		}
	}
	return paramNext(in)
}

func usableHref(s *goquery.Selection) string {
	href := strings.TrimSpace(s.AttrOr("href", ""))
	if href == "" || href == "#" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	return href
}

func relNext(doc *document.Document) string {
	var href string
	doc.Find(`link[rel~="next"], a[rel~="next"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href = usableHref(s)
		return href == ""
	})
	return href
}

// labeledNext finds an anchor labelled "Next" by its text, a span inside
// it, its aria-label, or a pagination_nav block mentioning Next.
func labeledNext(doc *document.Document) string {
	var href string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := document.NodeText(a)
		aria := strings.ToLower(a.AttrOr("aria-label", ""))
		spanNext := a.Find("span").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(s.Text(), "Next")
		}).Length() > 0
		if nextLabel.MatchString(label) || spanNext || strings.Contains(aria, "next") {
			href = usableHref(a)
		}
		return href == ""
	})
	if href != "" {
		return href
	}
	doc.Find("div.pagination_nav").EachWithBreak(func(_ int, nav *goquery.Selection) bool {
		if strings.Contains(nav.Text(), "Next") {
			href = usableHref(nav.Find("a[href]").First())
		}
		return href == ""
	})
	return href
}

func activeSibling(doc *document.Document) string {
	active := doc.Find(`a.pagination__nav--active, [aria-current="page"]`).First()
	if active.Length() == 0 {
		return ""
	}
	if href := usableHref(active.NextAllFiltered("a").First()); href != "" {
		return href
	}
	return usableHref(active.Closest("li").NextAllFiltered("li").First().Find("a").First())
}

// paramNext increments a recognized pagination parameter, or appends an
// offset when the URL carries none.
func paramNext(in NextInput) (string, string) {
	u, err := url.Parse(in.Current)
	if err != nil {
		return "", ""
	}
	size := in.PageSize
	if size <= 0 {
		size = DefaultConfig().DefaultPageSize
	}
	jump := in.MaxJumpPages
	if jump <= 0 {
		jump = DefaultConfig().MaxJumpPages
	}
	q := u.Query()
	present := false
	for _, param := range pageParams {
		raw, ok := q[param]
		if !ok || len(raw) == 0 {
			continue
		}
		present = true
		cur, err := strconv.Atoi(strings.TrimSpace(raw[0]))
		if err != nil {
			continue
		}
		next := cur + size
		if param == "page" {
			next = cur + 1
		}
		if next <= cur || next-cur > jump*size {
			return "", ""
		}
		if in.Total > 0 {
			pos := next
			if param == "page" {
				pos = (next - 1) * size
			}
			if pos >= in.Total {
				return "", ""
			}
		}
		q.Set(param, strconv.Itoa(next))
		u.RawQuery = q.Encode()
		u.Fragment = ""
		return u.String(), ViaParamIncrement
	}
	if present {
		return "", ""
	}
	offset := strconv.Itoa(in.Page * size)
	if u.RawQuery == "" {
		u.RawQuery = "No=" + offset
	} else {
		u.RawQuery += "&No=" + offset
	}
	u.Fragment = ""
	return u.String(), ViaParamAppended
}
