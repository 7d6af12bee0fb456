package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL for comparisons.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters, drops the fragment and trims a trailing slash from the path.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// SameURL reports whether a and b address the same page.
func SameURL(a, b string) bool {
	na, errA := NormalizeURL(a)
	nb, errB := NormalizeURL(b)
	if errA != nil || errB != nil {
		return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
	}
	return na == nb
}

// Host returns the lowercase hostname of rawURL or "".
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

var retailerHosts = []struct {
	marker string
	name   string
}{
	{"pnp.co.za", "Pick n Pay"},
	{"picknpay", "Pick n Pay"},
	{"checkers.co.za", "Checkers"},
	{"sixty60", "Checkers"},
	{"woolworths.co.za", "Woolworths"},
	{"shoprite.co.za", "Shoprite"},
}

// RetailerFromURL infers the retailer label from a listing URL, falling back
// to the bare host.
func RetailerFromURL(rawURL string) string {
	host := Host(rawURL)
	for _, rh := range retailerHosts {
		if strings.Contains(host, rh.marker) {
			return rh.name
		}
	}
	if host == "" {
		return "unknown"
	}
	return strings.TrimPrefix(host, "www.")
}
