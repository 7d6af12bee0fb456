// Package ratelimit paces fetches per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/metrics"
)

// minRate is the floor Penalize slows a host to.
const minRate = rate.Limit(0.1)

// Limiter manages per-domain rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive rate disables pacing.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

var _ crawler.RateLimiter = (*Limiter)(nil)

func (l *Limiter) forHost(rawURL string) (string, *rate.Limiter) {
	domain := crawler.Host(rawURL)
	if domain == "" {
		domain = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[domain]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[domain] = limiter
	}
	return domain, limiter
}

// Wait blocks until a token is available for the URL's host.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain, limiter := l.forHost(rawURL)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

// Penalize halves the host's rate after a throttling response. Unpaced
// hosts are left alone.
func (l *Limiter) Penalize(rawURL string) rate.Limit {
	_, limiter := l.forHost(rawURL)
	current := limiter.Limit()
	if current == rate.Inf {
		return current
	}
	next := current / 2
	if next < minRate {
		next = minRate
	}
	limiter.SetLimit(next)
	return next
}

// Rate returns the current rate for the URL's host.
func (l *Limiter) Rate(rawURL string) rate.Limit {
	_, limiter := l.forHost(rawURL)
	return limiter.Limit()
}
