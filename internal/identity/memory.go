package identity

import (
	"context"
	"sync"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

// MemoryIndex is a process-local dedup index. Every transition happens
// under one mutex so check-and-mark never loses an update.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]crawler.IdentityState
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]crawler.IdentityState)}
}

// State returns the current state of fingerprint.
func (m *MemoryIndex) State(_ context.Context, fingerprint string) (crawler.IdentityState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[fingerprint], nil
}

// Reserve moves unseen to reserved.
func (m *MemoryIndex) Reserve(_ context.Context, fingerprint string) (bool, error) {
	return m.transition(fingerprint, crawler.IdentityUnseen, crawler.IdentityReserved), nil
}

// Claim moves unseen straight to seen.
func (m *MemoryIndex) Claim(_ context.Context, fingerprint string) (bool, error) {
	return m.transition(fingerprint, crawler.IdentityUnseen, crawler.IdentitySeen), nil
}

// Complete moves reserved to seen.
func (m *MemoryIndex) Complete(_ context.Context, fingerprint string) (bool, error) {
	return m.transition(fingerprint, crawler.IdentityReserved, crawler.IdentitySeen), nil
}

// Release returns a reservation to unseen. Seen entries are never removed.
func (m *MemoryIndex) Release(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[fingerprint] == crawler.IdentityReserved {
		delete(m.entries, fingerprint)
	}
	return nil
}

// Len reports how many fingerprints are reserved or seen.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryIndex) transition(fingerprint string, from, to crawler.IdentityState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[fingerprint] != from {
		return false
	}
	m.entries[fingerprint] = to
	return true
}
