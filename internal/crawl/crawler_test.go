package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/discovery"
	"github.com/wildtrace/tigerwatch/internal/imagery"
	"github.com/wildtrace/tigerwatch/internal/store/memory"
)

const mainPage = `<html><body>
<img src="/photos/tiger-rani.jpg">
<img src="/photos/tiger-rani.jpg">
<img src="/assets/logo-banner.jpg">
<a href="/gallery/cats">Gallery</a>
<a href="/gallery/more-cats">More</a>
</body></html>`

const galleryPage = `<html><body>
<img src="/photos/tiger-cub.jpg">
<img src="https://cdn.zoo.example/photos/bengal-stripe.png">
</body></html>`

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	urls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req discovery.FetchRequest) (discovery.FetchResponse, error) {
	f.mu.Lock()
	f.urls = append(f.urls, req.URL)
	f.mu.Unlock()
	if err := f.errs[req.URL]; err != nil {
		return discovery.FetchResponse{}, err
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return discovery.FetchResponse{}, fmt.Errorf("no route for %s", req.URL)
	}
	return discovery.FetchResponse{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Body:       []byte(body),
	}, nil
}

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]discovery.SearchImage
	err     error
	queries []string
}

func (s *fakeSearch) SearchImages(_ context.Context, query string, _ int) ([]discovery.SearchImage, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.results[query], nil
}

type fakeProcessor struct {
	mu     sync.Mutex
	images []discovery.DiscoveredImage
}

func (p *fakeProcessor) Process(_ context.Context, img discovery.DiscoveredImage, _ discovery.Facility) (*discovery.ProcessedIndividual, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images = append(p.images, img)
	return nil, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testFacility() discovery.Facility {
	return discovery.Facility{
		ID:                1,
		Name:              "Riverbend Sanctuary",
		WebsiteURL:        "https://zoo.example",
		Location:          "Yakima WA",
		TigerCount:        4,
		IsReferenceSource: true,
	}
}

func newTestCrawler(fetcher *fakeFetcher, search *fakeSearch, facilities discovery.FacilityStore, history discovery.CrawlHistoryStore, processor Processor) *Crawler {
	return New(
		Config{},
		fetcher,
		imagery.NewExtractor(nil),
		imagery.NewRelevanceFilter(nil, nil),
		search,
		facilities,
		history,
		processor,
		fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		zap.NewNop(),
	)
}

func TestCrawlFacilityWalksGalleriesAndSearch(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://zoo.example":                  mainPage,
		"https://zoo.example/gallery/cats":     galleryPage,
		"https://zoo.example/gallery/more-cats": `<html><body><img src="/photos/tiger-rani.jpg"></body></html>`,
	}}
	search := &fakeSearch{results: map[string][]discovery.SearchImage{
		"Riverbend Sanctuary tiger": {
			{URL: "https://images.example/a1.jpg", Title: "Tiger at Riverbend", Source: "https://news.example/story"},
		},
		"Riverbend Sanctuary Yakima WA": {
			{URL: "https://images.example/a1.jpg", Title: "duplicate", Source: "https://other.example"},
			{URL: "https://images.example/b2.jpg", Title: "Sanctuary opens", Source: "https://other.example"},
		},
	}}

	c := newTestCrawler(fetcher, search, nil, nil, nil)
	images, stats, err := c.CrawlFacility(context.Background(), testFacility())
	require.NoError(t, err)

	byURL := map[string]discovery.DiscoveredImage{}
	for _, img := range images {
		require.False(t, byURL[img.URL].URL == img.URL, "duplicate url %s", img.URL)
		byURL[img.URL] = img
	}

	// tiger-rani.jpg appears on two pages but is recorded once; the
	// logo fails the relevance filter.
	require.Contains(t, byURL, "https://zoo.example/photos/tiger-rani.jpg")
	require.Contains(t, byURL, "https://zoo.example/photos/tiger-cub.jpg")
	require.Contains(t, byURL, "https://cdn.zoo.example/photos/bengal-stripe.png")
	require.NotContains(t, byURL, "https://zoo.example/assets/logo-banner.jpg")

	// Search results merge, deduplicated across queries.
	require.Contains(t, byURL, "https://images.example/a1.jpg")
	require.Contains(t, byURL, "https://images.example/b2.jpg")
	require.Len(t, images, 5)

	require.Equal(t, discovery.SourceTypeSearchEngine, byURL["https://images.example/a1.jpg"].SourceType)
	require.Equal(t, "Riverbend Sanctuary tiger", byURL["https://images.example/a1.jpg"].Metadata["query"])
	require.Equal(t, discovery.SourceTypeWebsite, byURL["https://zoo.example/photos/tiger-cub.jpg"].SourceType)

	require.Equal(t, 3, stats[string(discovery.SourceTypeWebsite)])
	require.Equal(t, 2, stats[string(discovery.SourceTypeSearchEngine)])
	require.Equal(t, 2, stats["gallery_pages"])

	require.Equal(t, []string{"Riverbend Sanctuary tiger", "Riverbend Sanctuary Yakima WA"}, search.queries)
}

func TestCrawlFacilityGalleryCap(t *testing.T) {
	t.Parallel()

	var links string
	for i := 0; i < 8; i++ {
		links += fmt.Sprintf(`<a href="/gallery/page-%d">g</a>`, i)
	}
	pages := map[string]string{
		"https://zoo.example": "<html><body>" + links + "</body></html>",
	}
	for i := 0; i < 8; i++ {
		pages[fmt.Sprintf("https://zoo.example/gallery/page-%d", i)] = "<html><body></body></html>"
	}
	fetcher := &fakeFetcher{pages: pages}

	c := newTestCrawler(fetcher, &fakeSearch{}, nil, nil, nil)
	_, stats, err := c.CrawlFacility(context.Background(), testFacility())
	require.NoError(t, err)

	// Main page plus at most five gallery fetches.
	require.Len(t, fetcher.urls, 6)
	require.Equal(t, 5, stats["gallery_pages"])
}

func TestCrawlFacilityToleratesGalleryAndSearchErrors(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[string]string{"https://zoo.example": mainPage},
		errs: map[string]error{
			"https://zoo.example/gallery/cats":      errors.New("timeout"),
			"https://zoo.example/gallery/more-cats": errors.New("timeout"),
		},
	}
	search := &fakeSearch{err: errors.New("search quota exceeded")}

	c := newTestCrawler(fetcher, search, nil, nil, nil)
	images, _, err := c.CrawlFacility(context.Background(), testFacility())
	require.NoError(t, err)
	require.Len(t, images, 1)
}

func TestCrawlFacilityMainPageFailure(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{errs: map[string]error{
		"https://zoo.example": errors.New("connection refused"),
	}}

	c := newTestCrawler(fetcher, &fakeSearch{}, nil, nil, nil)
	_, _, err := c.CrawlFacility(context.Background(), testFacility())
	require.Error(t, err)
}

func TestCrawlDueFacilitiesRecordsHistoryAndContinues(t *testing.T) {
	t.Parallel()

	clock := fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	good := testFacility()
	bad := discovery.Facility{
		ID:                2,
		Name:              "Shuttered Park",
		WebsiteURL:        "https://down.example",
		TigerCount:        2,
		IsReferenceSource: true,
	}
	facilities := memory.NewFacilityStore(clock.Now, good, bad)
	history := memory.NewCrawlHistoryStore()
	processor := &fakeProcessor{}
	fetcher := &fakeFetcher{
		pages: map[string]string{"https://zoo.example": mainPage},
		errs:  map[string]error{"https://down.example": errors.New("connection refused")},
	}

	c := New(Config{}, fetcher, imagery.NewExtractor(nil), imagery.NewRelevanceFilter(nil, nil),
		&fakeSearch{}, facilities, history, processor, clock, zap.NewNop())

	batch, err := c.CrawlDueFacilities(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, batch.FacilitiesCrawled)
	require.Equal(t, 1, batch.FacilitiesFailed)
	require.Equal(t, 1, batch.ImagesDiscovered)

	// One history row per facility attempt, failed or not.
	records := history.Records()
	require.Len(t, records, 2)
	byID := map[int64]discovery.CrawlHistory{}
	for _, r := range records {
		byID[r.FacilityID] = r
	}
	require.Equal(t, discovery.CrawlStatusCompleted, byID[good.ID].Status)
	require.Equal(t, 1, byID[good.ID].ImagesFound)
	require.Equal(t, discovery.CrawlStatusFailed, byID[bad.ID].Status)
	require.Contains(t, byID[bad.ID].ErrorMessage, "connection refused")

	// The good facility's images reached the processor; the failed one
	// keeps its crawl-due state.
	require.Len(t, processor.images, 1)
	due, err := facilities.FacilitiesNeedingCrawl(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, bad.ID, due[0].ID)
}
