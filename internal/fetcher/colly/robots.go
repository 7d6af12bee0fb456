package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/shelfscan/internal/metrics"
)

const defaultRobotsCacheSize = 256

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// allowAll is served for hosts whose robots.txt stays unreachable after
// transient failures.
var allowAll, _ = robotstxt.FromString("User-agent: *\nAllow: /")

// robotsCache holds parsed robots.txt files for the most recently used
// hosts.
type robotsCache struct {
	client  *http.Client
	entries *lru.Cache[string, *robotstxt.RobotsData]
	logger  *zap.Logger
	backoff []time.Duration
}

func newRobotsCache(size int, client *http.Client, logger *zap.Logger) (*robotsCache, error) {
	if size <= 0 {
		size = defaultRobotsCacheSize
	}
	entries, err := lru.New[string, *robotstxt.RobotsData](size)
	if err != nil {
		return nil, fmt.Errorf("robots cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &robotsCache{client: client, entries: entries, logger: logger, backoff: robotsRetryBackoff}, nil
}

// Allowed reports whether userAgent may fetch rawURL. Unparseable URLs are
// denied; unreadable robots files allow.
func (r *robotsCache) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, err := r.load(ctx, parsed, userAgent)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	return data.TestAgent(parsed.RequestURI(), userAgent)
}

func (r *robotsCache) load(ctx context.Context, parsed *url.URL, userAgent string) (*robotstxt.RobotsData, error) {
	key := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	if data, ok := r.entries.Get(key); ok {
		return data, nil
	}
	data, err := r.fetch(ctx, key+"/robots.txt", userAgent)
	if err != nil {
		return nil, err
	}
	r.entries.Add(key, data)
	return data, nil
}

func (r *robotsCache) fetch(ctx context.Context, robotsURL, userAgent string) (*robotstxt.RobotsData, error) {
	for attempt := 0; ; attempt++ {
		data, err := r.fetchOnce(ctx, robotsURL, userAgent)
		if err == nil {
			return data, nil
		}
		if !isTransientError(err) {
			return nil, err
		}
		if attempt >= len(r.backoff) {
			metrics.ObserveRobotsFallback()
			r.logger.Info("robots unreachable; treating as allow-all", zap.String("url", robotsURL), zap.Error(err))
			return allowAll, nil
		}
		if err := sleepWithContext(ctx, r.backoff[attempt]); err != nil {
			return nil, err
		}
	}
}

func (r *robotsCache) fetchOnce(ctx context.Context, robotsURL, userAgent string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
