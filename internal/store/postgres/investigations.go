package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// InvestigationStore persists trigger-created investigations. The
// gate's rate-limit queries deliberately exclude cancelled rows so a
// failed queueing attempt does not consume the budget.
type InvestigationStore struct {
	pool querier
}

// NewInvestigationStore constructs a store from an existing pool.
func NewInvestigationStore(pool querier) (*InvestigationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &InvestigationStore{pool: pool}, nil
}

const insertInvestigation = `
INSERT INTO investigations (
	id, title, status, priority, source, facility_ids, content_hash, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Create inserts one investigation row.
func (s *InvestigationStore) Create(ctx context.Context, investigation discovery.Investigation) error {
	_, err := s.pool.Exec(ctx, insertInvestigation,
		investigation.ID,
		investigation.Title,
		string(investigation.Status),
		string(investigation.Priority),
		investigation.Source,
		investigation.FacilityIDs,
		investigation.ContentHash,
		investigation.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert investigation: %w", err)
	}
	return nil
}

// CountAutoSince counts live auto-discovery investigations created at
// or after the given instant.
func (s *InvestigationStore) CountAutoSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM investigations
WHERE source = $1 AND status <> $2 AND created_at >= $3`,
		discovery.SourceAutoDiscovery,
		string(discovery.InvestigationStatusCancelled),
		since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count investigations: %w", err)
	}
	return count, nil
}

// LatestAutoForFacility returns the creation time of the most recent
// live auto-discovery investigation referencing the facility, or nil.
func (s *InvestigationStore) LatestAutoForFacility(ctx context.Context, facilityID int64) (*time.Time, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx, `
SELECT MAX(created_at) FROM investigations
WHERE source = $1 AND status <> $2 AND $3 = ANY(facility_ids)`,
		discovery.SourceAutoDiscovery,
		string(discovery.InvestigationStatusCancelled),
		facilityID,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("latest facility investigation: %w", err)
	}
	return latest, nil
}

// ExistsForHash reports whether a live investigation already covers an
// image with this content hash.
func (s *InvestigationStore) ExistsForHash(ctx context.Context, contentHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM investigations
	WHERE content_hash = $1 AND status <> $2
)`,
		contentHash,
		string(discovery.InvestigationStatusCancelled),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("investigation hash lookup: %w", err)
	}
	return exists, nil
}

// MarkCancelled downgrades an investigation after a queueing failure.
func (s *InvestigationStore) MarkCancelled(ctx context.Context, investigationID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE investigations SET status = $1 WHERE id = $2`,
		string(discovery.InvestigationStatusCancelled),
		investigationID,
	)
	if err != nil {
		return fmt.Errorf("cancel investigation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("investigation %s not found", investigationID)
	}
	return nil
}
