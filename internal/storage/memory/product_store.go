package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

type productKey struct {
	retailer string
	key      string
}

// ProductStore upserts records keyed by retailer and StoreKey. Empty
// fields of an incoming record never overwrite stored values.
type ProductStore struct {
	mu      sync.RWMutex
	records map[productKey]crawler.ProductRecord
}

// NewProductStore constructs an empty ProductStore.
func NewProductStore() *ProductStore {
	return &ProductStore{records: make(map[productKey]crawler.ProductRecord)}
}

// Upsert merges records into the store.
func (s *ProductStore) Upsert(_ context.Context, retailer string, records []crawler.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		k := productKey{retailer: retailer, key: rec.StoreKey()}
		if k.key == "" {
			continue
		}
		s.records[k] = merge(s.records[k], rec)
	}
	return nil
}

func merge(old, rec crawler.ProductRecord) crawler.ProductRecord {
	if rec.Price == "" {
		rec.Price = old.Price
		rec.NumericPrice = old.NumericPrice
	}
	if rec.ImageURL == "" {
		rec.ImageURL = old.ImageURL
	}
	if rec.Category == "" {
		rec.Category = old.Category
	}
	if rec.DetailURL == "" {
		rec.DetailURL = old.DetailURL
	}
	return rec
}

// List returns the records stored for retailer ordered by key.
func (s *ProductStore) List(retailer string) []crawler.ProductRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []productKey
	for k := range s.records {
		if k.retailer == retailer {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].key < keys[j].key })
	out := make([]crawler.ProductRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.records[k])
	}
	return out
}

// Len reports how many records are stored across retailers.
func (s *ProductStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
