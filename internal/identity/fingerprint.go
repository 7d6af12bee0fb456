// Package identity derives product fingerprints and tracks which
// fingerprints a crawl run has already reserved or emitted.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

// ErrNoIdentity is returned when a product has neither a site key nor a name.
var ErrNoIdentity = errors.New("product has no site key or name")

// Fingerprinter builds fingerprints with a pluggable digest.
type Fingerprinter struct {
	hasher crawler.Hasher
}

// NewFingerprinter returns a Fingerprinter using hasher for name digests.
func NewFingerprinter(hasher crawler.Hasher) *Fingerprinter {
	return &Fingerprinter{hasher: hasher}
}

// Fingerprint returns the identity of a product within a retailer. The
// site key wins when present; otherwise the normalized name is hashed.
func (f *Fingerprinter) Fingerprint(retailer, siteKey, name string) (string, error) {
	scope := Normalize(retailer)
	if key := strings.TrimSpace(siteKey); key != "" {
		return fmt.Sprintf("sku:%s:%s", scope, key), nil
	}
	norm := Normalize(name)
	if norm == "" {
		return "", ErrNoIdentity
	}
	digest, err := f.hasher.Hash([]byte(scope + "\x00" + norm))
	if err != nil {
		return "", fmt.Errorf("hash product name: %w", err)
	}
	return "name:" + digest, nil
}

// Normalize lowercases s, turns word joiners (- / _) into spaces, drops
// every other symbol that is not a letter or digit, and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '/', r == '_':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
