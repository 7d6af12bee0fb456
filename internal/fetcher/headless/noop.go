package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless fetcher not configured")

// Noop stands in when headless rendering is disabled. Every fetch fails
// with a render error so callers fall back to the HTTP probe.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails.
func (Noop) Fetch(_ context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Kind: crawler.FetchErrorRender, Err: ErrDisabled}
}

// Close is a no-op.
func (Noop) Close() error { return nil }
