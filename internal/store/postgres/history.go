package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// CrawlHistoryStore appends crawl audit rows.
type CrawlHistoryStore struct {
	pool querier
}

// NewCrawlHistoryStore constructs a store from an existing pool.
func NewCrawlHistoryStore(pool querier) (*CrawlHistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CrawlHistoryStore{pool: pool}, nil
}

const insertCrawlHistory = `
INSERT INTO crawl_history (
	facility_id, source_url, status, images_found,
	crawled_at, completed_at, duration_ms, error_message, statistics
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// RecordCrawl inserts one crawl attempt. Rows are append-only.
func (s *CrawlHistoryStore) RecordCrawl(ctx context.Context, record discovery.CrawlHistory) error {
	stats, err := json.Marshal(record.Statistics)
	if err != nil {
		return fmt.Errorf("marshal crawl statistics: %w", err)
	}
	_, err = s.pool.Exec(ctx, insertCrawlHistory,
		record.FacilityID,
		record.SourceURL,
		string(record.Status),
		record.ImagesFound,
		record.CrawledAt.UTC(),
		record.CompletedAt.UTC(),
		record.DurationMs,
		record.ErrorMessage,
		stats,
	)
	if err != nil {
		return fmt.Errorf("insert crawl history: %w", err)
	}
	return nil
}
