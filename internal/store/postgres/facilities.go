package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// FacilityStore reads and updates facility rows.
type FacilityStore struct {
	pool querier
	// RecrawlAfter excludes facilities crawled more recently than this.
	RecrawlAfter time.Duration
	// MinTigerCount excludes facilities below this count.
	MinTigerCount int
}

// NewFacilityStore constructs a store from an existing pool.
func NewFacilityStore(pool querier) (*FacilityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FacilityStore{
		pool:          pool,
		RecrawlAfter:  7 * 24 * time.Hour,
		MinTigerCount: 1,
	}, nil
}

const selectFacilitiesDue = `
SELECT id, name, website_url, location, tiger_count, is_reference_source, last_crawled_at
FROM facilities
WHERE is_reference_source
  AND tiger_count >= $1
  AND website_url <> ''
  AND (last_crawled_at IS NULL OR last_crawled_at < $2)
ORDER BY tiger_count DESC, last_crawled_at ASC NULLS FIRST
LIMIT $3`

// FacilitiesNeedingCrawl applies the selection policy: reference
// sources with enough tigers, not crawled within the recrawl window,
// highest tiger counts and stalest crawls first.
func (s *FacilityStore) FacilitiesNeedingCrawl(ctx context.Context, limit int) ([]discovery.Facility, error) {
	cutoff := time.Now().UTC().Add(-s.RecrawlAfter)
	rows, err := s.pool.Query(ctx, selectFacilitiesDue, s.MinTigerCount, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("select facilities: %w", err)
	}
	defer rows.Close()

	var facilities []discovery.Facility
	for rows.Next() {
		var f discovery.Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.WebsiteURL, &f.Location, &f.TigerCount, &f.IsReferenceSource, &f.LastCrawledAt); err != nil {
			return nil, fmt.Errorf("scan facility: %w", err)
		}
		facilities = append(facilities, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facilities: %w", err)
	}
	return facilities, nil
}

// MarkCrawled records a crawl completion time.
func (s *FacilityStore) MarkCrawled(ctx context.Context, facilityID int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE facilities SET last_crawled_at = $1 WHERE id = $2`,
		at.UTC(), facilityID,
	)
	if err != nil {
		return fmt.Errorf("mark facility crawled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("facility %d not found", facilityID)
	}
	return nil
}
