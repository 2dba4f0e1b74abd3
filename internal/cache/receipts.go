package cache

import (
	"context"
	"time"
)

const (
	kindReceipt   = "receipt"
	kindStatement = "statement"
)

// PDFStore caches delivered PDFs of one kind: receipts keyed by donation id,
// annual statements keyed by "{donor}:{year}".
type PDFStore struct {
	cache *Cache
	kind  string
	ttl   time.Duration
}

// NewReceiptStore returns a store for receipt PDFs whose entries expire
// after ttl.
func NewReceiptStore(c *Cache, ttl time.Duration) *PDFStore {
	return &PDFStore{cache: c, kind: kindReceipt, ttl: ttl}
}

// NewStatementStore returns a store for annual statement PDFs.
func NewStatementStore(c *Cache, ttl time.Duration) *PDFStore {
	return &PDFStore{cache: c, kind: kindStatement, ttl: ttl}
}

// Get returns the cached PDF or ErrMiss.
func (s *PDFStore) Get(ctx context.Context, id string) ([]byte, error) {
	return s.cache.Get(ctx, s.kind, id)
}

// Put caches pdf under id.
func (s *PDFStore) Put(ctx context.Context, id string, pdf []byte) error {
	return s.cache.Set(ctx, s.kind, id, pdf, s.ttl)
}
