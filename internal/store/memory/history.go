package memory

import (
	"context"
	"sync"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// CrawlHistoryStore appends crawl audit rows to an in-memory log.
type CrawlHistoryStore struct {
	mu      sync.Mutex
	records []discovery.CrawlHistory
}

// NewCrawlHistoryStore creates an empty history log.
func NewCrawlHistoryStore() *CrawlHistoryStore {
	return &CrawlHistoryStore{}
}

// RecordCrawl appends one crawl attempt. Records are never mutated
// after the append.
func (s *CrawlHistoryStore) RecordCrawl(_ context.Context, record discovery.CrawlHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of the log in append order.
func (s *CrawlHistoryStore) Records() []discovery.CrawlHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]discovery.CrawlHistory, len(s.records))
	copy(out, s.records)
	return out
}
