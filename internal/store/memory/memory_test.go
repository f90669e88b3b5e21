package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

func TestFacilitiesNeedingCrawl_PolicyAndOrdering(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-24 * time.Hour)
	stale := now.Add(-10 * 24 * time.Hour)
	staler := now.Add(-20 * 24 * time.Hour)

	store := NewFacilityStore(func() time.Time { return now },
		discovery.Facility{ID: 1, Name: "Recently crawled", TigerCount: 40, IsReferenceSource: true, LastCrawledAt: &recent},
		discovery.Facility{ID: 2, Name: "Not a reference source", TigerCount: 40, IsReferenceSource: false},
		discovery.Facility{ID: 3, Name: "No tigers", TigerCount: 0, IsReferenceSource: true},
		discovery.Facility{ID: 4, Name: "Never crawled, small", TigerCount: 3, IsReferenceSource: true},
		discovery.Facility{ID: 5, Name: "Stale, big", TigerCount: 25, IsReferenceSource: true, LastCrawledAt: &stale},
		discovery.Facility{ID: 6, Name: "Staler, big", TigerCount: 25, IsReferenceSource: true, LastCrawledAt: &staler},
		discovery.Facility{ID: 7, Name: "Never crawled, big", TigerCount: 25, IsReferenceSource: true},
	)

	due, err := store.FacilitiesNeedingCrawl(context.Background(), 10)
	require.NoError(t, err)

	ids := make([]int64, 0, len(due))
	for _, f := range due {
		ids = append(ids, f.ID)
	}
	// Highest tiger count first; within equal counts never-crawled
	// precedes oldest-crawled.
	require.Equal(t, []int64{7, 6, 5, 4}, ids)
}

func TestFacilitiesNeedingCrawl_Limit(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewFacilityStore(func() time.Time { return now },
		discovery.Facility{ID: 1, TigerCount: 5, IsReferenceSource: true},
		discovery.Facility{ID: 2, TigerCount: 9, IsReferenceSource: true},
		discovery.Facility{ID: 3, TigerCount: 7, IsReferenceSource: true},
	)

	due, err := store.FacilitiesNeedingCrawl(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, int64(2), due[0].ID)
	require.Equal(t, int64(3), due[1].ID)
}

func TestMarkCrawledExcludesFromNextBatch(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewFacilityStore(func() time.Time { return now },
		discovery.Facility{ID: 1, TigerCount: 5, IsReferenceSource: true},
	)

	require.NoError(t, store.MarkCrawled(context.Background(), 1, now))
	due, err := store.FacilitiesNeedingCrawl(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, due)

	require.Error(t, store.MarkCrawled(context.Background(), 99, now))
}

func TestIndividualStore_CreateAttachAndHashes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewIndividualStore()

	ok, err := store.HashExists(ctx, "h1")
	require.NoError(t, err)
	require.False(t, ok)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ind := discovery.Individual{ID: "ind-1", Name: "Unidentified tiger a1b2c3d4", CreatedAt: created, UpdatedAt: created}
	require.NoError(t, store.Create(ctx, ind, discovery.IndividualImage{ID: "img-1", IndividualID: "ind-1", ContentHash: "h1", CreatedAt: created}))
	require.Error(t, store.Create(ctx, ind, discovery.IndividualImage{ID: "img-dup"}))

	ok, err = store.HashExists(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)

	later := created.Add(time.Hour)
	updated, err := store.AttachImage(ctx, "ind-1", discovery.IndividualImage{ID: "img-2", IndividualID: "ind-1", ContentHash: "h2", CreatedAt: later})
	require.NoError(t, err)
	require.Equal(t, later, updated.UpdatedAt)
	require.Len(t, store.Images("ind-1"), 2)

	_, err = store.AttachImage(ctx, "ind-missing", discovery.IndividualImage{ID: "img-3"})
	require.Error(t, err)
}

func TestInvestigationStore_QueriesSkipCancelled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInvestigationStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, discovery.Investigation{
		ID:          "inv-1",
		Source:      discovery.SourceAutoDiscovery,
		Status:      discovery.InvestigationStatusPending,
		FacilityIDs: []int64{7},
		ContentHash: "h1",
		CreatedAt:   base,
	}))
	require.NoError(t, store.Create(ctx, discovery.Investigation{
		ID:          "inv-2",
		Source:      discovery.SourceAutoDiscovery,
		Status:      discovery.InvestigationStatusPending,
		FacilityIDs: []int64{7},
		ContentHash: "h2",
		CreatedAt:   base.Add(30 * time.Minute),
	}))

	count, err := store.CountAutoSince(ctx, base)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	latest, err := store.LatestAutoForFacility(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, base.Add(30*time.Minute), *latest)

	require.NoError(t, store.MarkCancelled(ctx, "inv-2"))

	count, err = store.CountAutoSince(ctx, base)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	latest, err = store.LatestAutoForFacility(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, base, *latest)

	ok, err := store.ExistsForHash(ctx, "h2")
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = store.ExistsForHash(ctx, "h1")
	require.NoError(t, err)
	require.True(t, ok)

	require.Error(t, store.MarkCancelled(ctx, "inv-missing"))
}
