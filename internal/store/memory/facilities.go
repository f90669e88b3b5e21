package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// FacilityStore keeps facilities in memory and applies the same
// selection policy as the Postgres store.
type FacilityStore struct {
	mu sync.Mutex
	// RecrawlAfter excludes facilities crawled more recently than this.
	RecrawlAfter time.Duration
	// MinTigerCount excludes facilities below this count.
	MinTigerCount int
	now           func() time.Time
	facilities    map[int64]discovery.Facility
}

// NewFacilityStore creates a store seeded with the given facilities.
func NewFacilityStore(now func() time.Time, facilities ...discovery.Facility) *FacilityStore {
	if now == nil {
		now = time.Now
	}
	s := &FacilityStore{
		RecrawlAfter:  7 * 24 * time.Hour,
		MinTigerCount: 1,
		now:           now,
		facilities:    make(map[int64]discovery.Facility),
	}
	for _, f := range facilities {
		s.facilities[f.ID] = f
	}
	return s
}

// FacilitiesNeedingCrawl returns reference-source facilities with
// enough tigers that were not crawled within the recrawl window,
// ordered by tiger count descending then last-crawled ascending with
// never-crawled first.
func (s *FacilityStore) FacilitiesNeedingCrawl(_ context.Context, limit int) ([]discovery.Facility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.RecrawlAfter)
	var due []discovery.Facility
	for _, f := range s.facilities {
		if !f.IsReferenceSource || f.TigerCount < s.MinTigerCount {
			continue
		}
		if f.LastCrawledAt != nil && f.LastCrawledAt.After(cutoff) {
			continue
		}
		due = append(due, f)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].TigerCount != due[j].TigerCount {
			return due[i].TigerCount > due[j].TigerCount
		}
		li, lj := due[i].LastCrawledAt, due[j].LastCrawledAt
		switch {
		case li == nil && lj == nil:
			return due[i].ID < due[j].ID
		case li == nil:
			return true
		case lj == nil:
			return false
		default:
			return li.Before(*lj)
		}
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkCrawled records a crawl completion time for the facility.
func (s *FacilityStore) MarkCrawled(_ context.Context, facilityID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facilities[facilityID]
	if !ok {
		return fmt.Errorf("facility %d not found", facilityID)
	}
	f.LastCrawledAt = &at
	s.facilities[facilityID] = f
	return nil
}
