package resolve

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

var (
	imageDenylist = []string{
		"share-card", "logo", "icon", "banner", "header", "footer", "placeholder", "sprite",
	}
	trackerMarkers = []string{
		"t.co/", "twitter", "adsct", "ads-twitter", "tracking", "doubleclick",
		"facebook.com/tr", "google-analytics",
	}
	imageAllowlist = []string{"catalog", "sixty60", "checkers", "/files/", "media", "images"}
)

// hostRewrite maps cluster-only image hosts to the public host serving the
// same paths.
type hostRewrite struct {
	pattern *regexp.Regexp
	target  string
}

var hostRewrites = []hostRewrite{
	{
		pattern: regexp.MustCompile(`^https?://catalog-admin[^/]*\.svc\.cluster\.local(?::\d+)?`),
		target:  "https://catalog.sixty60.co.za",
	},
}

// NormalizeImageURL unescapes entities, rewrites cluster hosts to their
// public equivalent and upgrades plain http to https.
func NormalizeImageURL(raw string) string {
	u := strings.TrimSpace(html.UnescapeString(raw))
	if u == "" {
		return ""
	}
	for _, rw := range hostRewrites {
		if rw.pattern.MatchString(u) {
			u = rw.pattern.ReplaceAllString(u, rw.target)
		}
	}
	if strings.HasPrefix(u, "http://") {
		u = "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Rejected reports whether an image candidate can never be selected.
func Rejected(c crawler.Candidate) bool {
	u := strings.ToLower(c.Value)
	if u == "" || strings.HasPrefix(u, "data:") || strings.HasPrefix(u, "blob:") {
		return true
	}
	if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
		return true
	}
	if parsed, err := url.Parse(u); err == nil && strings.HasSuffix(parsed.Path, ".svg") {
		return true
	}
	alt := strings.ToLower(c.Alt)
	for _, bad := range imageDenylist {
		if strings.Contains(u, bad) || strings.Contains(alt, bad) {
			return true
		}
	}
	for _, tracker := range trackerMarkers {
		if strings.Contains(u, tracker) {
			return true
		}
	}
	return false
}

func allowlisted(u string) bool {
	u = strings.ToLower(u)
	for _, marker := range imageAllowlist {
		if strings.Contains(u, marker) {
			return true
		}
	}
	return false
}

// Image picks the best image URL. Candidates are deduplicated by exact URL,
// filtered, then ranked: allowlisted hosts first, then the highest weight.
// Ties keep cascade order.
func Image(candidates []crawler.Candidate) (string, bool) {
	seen := make(map[string]struct{}, len(candidates))
	var best *crawler.Candidate
	bestAllowed := false
	for i := range candidates {
		c := candidates[i]
		if _, dup := seen[c.Value]; dup {
			continue
		}
		seen[c.Value] = struct{}{}
		if Rejected(c) {
			continue
		}
		allowed := allowlisted(c.Value)
		switch {
		case best == nil:
		case allowed && !bestAllowed:
		case allowed == bestAllowed && c.Weight > best.Weight:
		default:
			continue
		}
		best = &candidates[i]
		bestAllowed = allowed
	}
	if best == nil {
		return "", false
	}
	return best.Value, true
}

// SrcsetEntry is one candidate in a srcset attribute.
type SrcsetEntry struct {
	URL   string
	Width int
}

// ParseSrcset splits a srcset attribute. Width descriptors are kept as-is;
// density descriptors become density×1000 so they rank alongside widths.
func ParseSrcset(srcset string) []SrcsetEntry {
	var out []SrcsetEntry
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		entry := SrcsetEntry{URL: fields[0]}
		if len(fields) > 1 {
			desc := strings.ToLower(fields[len(fields)-1])
			switch {
			case strings.HasSuffix(desc, "w"):
				if w, err := strconv.Atoi(strings.TrimSuffix(desc, "w")); err == nil {
					entry.Width = w
				}
			case strings.HasSuffix(desc, "x"):
				if x, err := strconv.ParseFloat(strings.TrimSuffix(desc, "x"), 64); err == nil {
					entry.Width = int(x * 1000)
				}
			}
		}
		out = append(out, entry)
	}
	return out
}

// LargestFromSrcset returns the entry with the highest declared resolution.
func LargestFromSrcset(srcset string) (SrcsetEntry, bool) {
	entries := ParseSrcset(srcset)
	if len(entries) == 0 {
		return SrcsetEntry{}, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.Width > best.Width {
			best = e
		}
	}
	return best, true
}
