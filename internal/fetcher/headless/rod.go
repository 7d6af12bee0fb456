package headless

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/metrics"
)

// Rod implements crawler.Fetcher with go-rod. It runs the same interaction
// scripts as the chromedp engine; the document status is not observable
// through rod, so successful navigations report 200.
type Rod struct {
	cfg     Config
	slots   *semaphore.Weighted
	browser *rod.Browser
}

// NewRod launches a headless browser and connects to it.
func NewRod(cfg Config) (*Rod, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	u, err := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &Rod{cfg: cfg, slots: newSlots(cfg.MaxParallel), browser: browser}, nil
}

// Close shuts the browser down.
func (r *Rod) Close() error {
	if r.browser == nil {
		return nil
	}
	if err := r.browser.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// Fetch renders request.URL in a fresh tab.
func (r *Rod) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := acquireSlot(ctx, r.slots); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer releaseSlot(r.slots)

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	defer cancel()

	start := time.Now()
	html, finalURL, err := r.render(navCtx, request)
	metrics.ObserveFetch("rod", time.Since(start))
	if err != nil {
		return crawler.FetchResponse{}, renderError(ctx, request.URL, err)
	}
	if finalURL == "" {
		finalURL = request.URL
	}
	return crawler.FetchResponse{
		URL:          finalURL,
		StatusCode:   http.StatusOK,
		Headers:      http.Header{},
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (r *Rod) render(ctx context.Context, request crawler.FetchRequest) (string, string, error) {
	page, err := r.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", "", fmt.Errorf("rod new page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			r.cfg.Logger.Debug("rod page close failed", zap.Error(cerr))
		}
	}()

	if r.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: r.cfg.UserAgent}); err != nil {
			return "", "", fmt.Errorf("rod user agent: %w", err)
		}
	}
	if len(request.Headers) > 0 {
		var kv []string
		for key, values := range request.Headers {
			for _, v := range values {
				kv = append(kv, key, v)
			}
		}
		if _, err := page.SetExtraHeaders(kv); err != nil {
			return "", "", fmt.Errorf("rod headers: %w", err)
		}
	}
	if err := page.Navigate(request.URL); err != nil {
		return "", "", fmt.Errorf("rod navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", "", fmt.Errorf("rod wait load: %w", err)
	}

	p := planFor(request.Script)
	if p.waitFor != "" {
		if _, err := page.Timeout(p.waitTimeout).Element(p.waitFor); err != nil {
			r.cfg.Logger.Debug("listing selector not found", zap.String("url", request.URL), zap.Error(err))
		}
	}
	for _, st := range p.steps {
		if st.js != "" {
			if _, err := page.Eval(st.js); err != nil {
				if ctx.Err() != nil {
					return "", "", fmt.Errorf("rod script: %w", err)
				}
				r.cfg.Logger.Debug("interaction step failed", zap.String("url", request.URL), zap.Error(err))
			}
		}
		if st.pause > 0 {
			if err := crawler.Pause(ctx, st.pause); err != nil {
				return "", "", err
			}
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", "", fmt.Errorf("rod html: %w", err)
	}
	finalURL := ""
	if info, err := page.Info(); err == nil {
		finalURL = info.URL
	}
	return html, finalURL, nil
}
