package headless

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

// Engine names accepted by New.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// Browser is a closable headless fetcher.
type Browser interface {
	crawler.Fetcher
	Close() error
}

// New builds the headless fetcher for engine. An empty engine selects
// chromedp.
func New(engine string, cfg Config) (Browser, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineChromedp:
		return NewChromedp(cfg)
	case EngineRod:
		return NewRod(cfg)
	default:
		return nil, fmt.Errorf("unknown headless engine %q", engine)
	}
}
