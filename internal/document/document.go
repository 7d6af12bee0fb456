// Package document wraps a fetched page in a navigable DOM with helpers for
// URL resolution, text extraction and inlined JSON payloads.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

// Document is a parsed page. It is safe for concurrent readers.
type Document struct {
	url *url.URL
	raw []byte
	doc *goquery.Document

	textOnce sync.Once
	text     string

	ldOnce sync.Once
	ld     []any

	blobOnce sync.Once
	blobs    []any
}

// Parse builds a Document from a page body fetched from rawURL.
func Parse(rawURL string, body []byte) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse document url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{url: u, raw: body, doc: doc}, nil
}

// FromResponse parses a fetch result.
func FromResponse(resp crawler.FetchResponse) (*Document, error) {
	return Parse(resp.URL, resp.Body)
}

// URL returns the address the document was fetched from.
func (d *Document) URL() string {
	return d.url.String()
}

// Raw returns the original HTML bytes.
func (d *Document) Raw() []byte {
	return d.raw
}

// Root returns the whole-document selection.
func (d *Document) Root() *goquery.Selection {
	return d.doc.Selection
}

// Find runs a CSS selector against the whole document.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.doc.Find(selector)
}

// Resolve turns ref into an absolute URL relative to the document URL.
// HTML entities are unescaped first. Unparseable refs resolve to "".
func (d *Document) Resolve(ref string) string {
	ref = strings.TrimSpace(html.UnescapeString(ref))
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "blob:") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return d.url.Scheme + ":" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return d.url.ResolveReference(u).String()
}

// Title returns the collapsed <title> text.
func (d *Document) Title() string {
	return CollapseSpace(d.doc.Find("title").First().Text())
}

// Meta returns the content of the first meta tag whose name, property or
// itemprop matches one of keys, in key order.
func (d *Document) Meta(keys ...string) string {
	for _, key := range keys {
		for _, attr := range []string{"property", "name", "itemprop"} {
			sel := d.doc.Find(fmt.Sprintf(`meta[%s=%q]`, attr, key)).First()
			if v := strings.TrimSpace(sel.AttrOr("content", "")); v != "" {
				return v
			}
		}
	}
	return ""
}

// BodyText returns the visible text of the body with whitespace collapsed.
// Element boundaries are separated by a single space.
func (d *Document) BodyText() string {
	d.textOnce.Do(func() {
		body := d.doc.Find("body")
		if body.Length() == 0 {
			body = d.doc.Selection
		}
		d.text = NodeText(body)
	})
	return d.text
}

// Scripts returns the contents of <script> elements. An empty typ returns
// every script; otherwise only scripts whose type attribute equals typ.
func (d *Document) Scripts(typ string) []string {
	var out []string
	d.doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if typ != "" && !strings.EqualFold(strings.TrimSpace(s.AttrOr("type", "")), typ) {
			return
		}
		if body := strings.TrimSpace(s.Text()); body != "" {
			out = append(out, body)
		}
	})
	return out
}

// JSONLD returns every decoded application/ld+json object, flattening
// top-level arrays and @graph containers. Malformed blocks are skipped.
func (d *Document) JSONLD() []any {
	d.ldOnce.Do(func() {
		for _, body := range d.Scripts("application/ld+json") {
			var v any
			if err := json.Unmarshal([]byte(body), &v); err != nil {
				continue
			}
			d.ld = append(d.ld, flattenLD(v)...)
		}
	})
	return d.ld
}

func flattenLD(v any) []any {
	switch t := v.(type) {
	case []any:
		var out []any
		for _, item := range t {
			out = append(out, flattenLD(item)...)
		}
		return out
	case map[string]any:
		if graph, ok := t["@graph"]; ok {
			return append([]any{t}, flattenLD(graph)...)
		}
		return []any{t}
	default:
		return nil
	}
}

var stateAssignment = regexp.MustCompile(`window\.(__[A-Z0-9_]+__)\s*=\s*`)

// EmbeddedJSON returns server-embedded data blobs: __NEXT_DATA__,
// application/json scripts and window.__STATE__ = {...} assignments.
// Malformed payloads are skipped.
func (d *Document) EmbeddedJSON() []any {
	d.blobOnce.Do(func() {
		seen := map[string]struct{}{}
		add := func(payload string) {
			payload = strings.TrimSpace(payload)
			if payload == "" {
				return
			}
			if _, dup := seen[payload]; dup {
				return
			}
			seen[payload] = struct{}{}
			var v any
			if err := json.Unmarshal([]byte(payload), &v); err != nil {
				return
			}
			d.blobs = append(d.blobs, v)
		}
		if next := d.doc.Find("script#__NEXT_DATA__").First(); next.Length() > 0 {
			add(next.Text())
		}
		for _, body := range d.Scripts("application/json") {
			add(body)
		}
		for _, body := range d.Scripts("") {
			for _, loc := range stateAssignment.FindAllStringIndex(body, -1) {
				add(balancedJSON(body[loc[1]:]))
			}
		}
	})
	return d.blobs
}

// balancedJSON returns the leading JSON object or array of s, or "".
func balancedJSON(s string) string {
	s = strings.TrimLeft(s, " \t\r\n")
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
