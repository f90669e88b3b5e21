package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// InvestigationStore keeps investigations in a slice; fine for the
// volumes a single process triggers.
type InvestigationStore struct {
	mu   sync.Mutex
	rows []discovery.Investigation
}

// NewInvestigationStore creates an empty store.
func NewInvestigationStore() *InvestigationStore {
	return &InvestigationStore{}
}

// Create appends an investigation.
func (s *InvestigationStore) Create(_ context.Context, investigation discovery.Investigation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == investigation.ID {
			return fmt.Errorf("investigation %s already exists", investigation.ID)
		}
	}
	s.rows = append(s.rows, investigation)
	return nil
}

// CountAutoSince counts auto-discovery investigations created at or
// after since, excluding cancelled ones.
func (s *InvestigationStore) CountAutoSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, row := range s.rows {
		if row.Source == discovery.SourceAutoDiscovery &&
			row.Status != discovery.InvestigationStatusCancelled &&
			!row.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// LatestAutoForFacility returns the newest auto-discovery creation time
// referencing the facility, or nil.
func (s *InvestigationStore) LatestAutoForFacility(_ context.Context, facilityID int64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, row := range s.rows {
		if row.Source != discovery.SourceAutoDiscovery || row.Status == discovery.InvestigationStatusCancelled {
			continue
		}
		for _, id := range row.FacilityIDs {
			if id != facilityID {
				continue
			}
			created := row.CreatedAt
			if latest == nil || created.After(*latest) {
				latest = &created
			}
		}
	}
	return latest, nil
}

// ExistsForHash reports whether any non-cancelled investigation was
// spawned for this content hash.
func (s *InvestigationStore) ExistsForHash(_ context.Context, contentHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if contentHash == "" {
		return false, nil
	}
	for _, row := range s.rows {
		if row.ContentHash == contentHash && row.Status != discovery.InvestigationStatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

// MarkCancelled sets the investigation's status to cancelled.
func (s *InvestigationStore) MarkCancelled(_ context.Context, investigationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.rows {
		if row.ID == investigationID {
			s.rows[i].Status = discovery.InvestigationStatusCancelled
			return nil
		}
	}
	return fmt.Errorf("investigation %s not found", investigationID)
}

// Investigations returns a copy of all rows.
func (s *InvestigationStore) Investigations() []discovery.Investigation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]discovery.Investigation(nil), s.rows...)
}
