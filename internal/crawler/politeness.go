package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultForbiddenAttempts = 3

// DomainBlocker tracks repeated forbidden responses and blocks hosts on excess.
type DomainBlocker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
	denied    *domainPatterns
}

// NewDomainBlocker creates a blocker that trips after threshold 403/429s.
func NewDomainBlocker(threshold int) *DomainBlocker {
	if threshold <= 0 {
		threshold = defaultForbiddenAttempts
	}
	return &DomainBlocker{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

// IsBlocked reports whether host has been blocked.
func (b *DomainBlocker) IsBlocked(host string) bool {
	if b == nil || host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blocked[key]; ok {
		return true
	}
	return b.denied.match(key)
}

// MarkForbidden increments the counter for host and returns true once blocked.
func (b *DomainBlocker) MarkForbidden(host string) bool {
	if b == nil || host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, blocked := b.blocked[key]; blocked {
		return true
	}
	b.counts[key]++
	if b.counts[key] >= b.threshold {
		b.blocked[key] = struct{}{}
		return true
	}
	return false
}

// Pause sleeps for delay unless ctx finishes first.
func Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
