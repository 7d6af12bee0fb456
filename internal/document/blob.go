package document

import (
	"sort"
	"strings"
)

// Visitor is called for every key/value pair in a decoded JSON tree. Array
// elements are visited with an empty key. Returning false stops the walk.
type Visitor func(key string, value any) bool

// Walk visits v depth-first. Object keys are visited in sorted order so
// results are deterministic across runs.
func Walk(v any, visit Visitor) bool {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !visit(k, t[k]) {
				return false
			}
			if !Walk(t[k], visit) {
				return false
			}
		}
	case []any:
		for _, item := range t {
			if !visit("", item) {
				return false
			}
			if !Walk(item, visit) {
				return false
			}
		}
	}
	return true
}

// Lookup follows a dotted path of object keys. Missing segments yield nil.
func Lookup(v any, path string) any {
	if path == "" {
		return v
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// String returns v as a trimmed string when it is one.
func String(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// TypeMatches reports whether a JSON-LD node's @type equals one of types.
func TypeMatches(node map[string]any, types ...string) bool {
	match := func(s string) bool {
		for _, t := range types {
			if strings.EqualFold(s, t) {
				return true
			}
		}
		return false
	}
	switch t := node["@type"].(type) {
	case string:
		return match(t)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && match(s) {
				return true
			}
		}
	}
	return false
}
