package crawler

import "strings"

// domainPatterns matches hosts against exact names and "*.suffix" wildcards
// taken from crawl.blocked_domains.
type domainPatterns struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainPatterns(patterns []string) *domainPatterns {
	m := &domainPatterns{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			if suffix := strings.TrimPrefix(value, "*."); suffix != "" {
				m.addSuffix(suffix)
			}
		default:
			m.exact[value] = struct{}{}
		}
	}
	if len(m.exact) == 0 && len(m.suffixes) == 0 {
		return nil
	}
	return m
}

func (m *domainPatterns) addSuffix(suffix string) {
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

func (m *domainPatterns) match(host string) bool {
	if m == nil || host == "" {
		return false
	}
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Deny blocks every host matching patterns from the start, independent of
// forbidden responses. Patterns are exact hosts or "*.suffix" wildcards.
func (b *DomainBlocker) Deny(patterns ...string) *DomainBlocker {
	b.mu.Lock()
	b.denied = newDomainPatterns(patterns)
	b.mu.Unlock()
	return b
}
