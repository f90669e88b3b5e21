// Package crawl orchestrates facility crawls: fetching facility pages,
// extracting candidate images, augmenting with external search and
// recording a history row per attempt.
package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wildtrace/tigerwatch/internal/discovery"
	"github.com/wildtrace/tigerwatch/internal/imagery"
	"github.com/wildtrace/tigerwatch/internal/metrics"
)

// Config holds the orchestrator's batch and traversal settings.
type Config struct {
	// BatchSize is how many due facilities one sweep picks up.
	BatchSize int
	// Concurrency bounds facilities crawled in parallel within a batch.
	Concurrency int
	// MaxGalleries caps gallery pages followed from the main page.
	MaxGalleries int
	// SearchResults caps results requested per search query.
	SearchResults int
	// SpeciesTerm joins the facility name in search queries.
	SpeciesTerm string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.MaxGalleries <= 0 {
		c.MaxGalleries = 5
	}
	if c.SearchResults <= 0 {
		c.SearchResults = 20
	}
	if c.SpeciesTerm == "" {
		c.SpeciesTerm = "tiger"
	}
	return c
}

// Processor consumes one discovered image; the orchestrator does not
// care what happens downstream.
type Processor interface {
	Process(ctx context.Context, img discovery.DiscoveredImage, facility discovery.Facility) (*discovery.ProcessedIndividual, error)
}

// Crawler walks facility websites and the external image search for
// candidate images and hands each one to the processor.
type Crawler struct {
	cfg        Config
	fetcher    discovery.Fetcher
	extractor  *imagery.Extractor
	relevance  *imagery.RelevanceFilter
	search     discovery.ImageSearch
	facilities discovery.FacilityStore
	history    discovery.CrawlHistoryStore
	processor  Processor
	clock      discovery.Clock
	logger     *zap.Logger
}

// New constructs a Crawler.
func New(
	cfg Config,
	fetcher discovery.Fetcher,
	extractor *imagery.Extractor,
	relevance *imagery.RelevanceFilter,
	search discovery.ImageSearch,
	facilities discovery.FacilityStore,
	history discovery.CrawlHistoryStore,
	processor Processor,
	clock discovery.Clock,
	logger *zap.Logger,
) *Crawler {
	return &Crawler{
		cfg:        cfg.withDefaults(),
		fetcher:    fetcher,
		extractor:  extractor,
		relevance:  relevance,
		search:     search,
		facilities: facilities,
		history:    history,
		processor:  processor,
		clock:      clock,
		logger:     logger,
	}
}

// BatchResult summarizes one sweep over due facilities.
type BatchResult struct {
	FacilitiesCrawled int
	FacilitiesFailed  int
	ImagesDiscovered  int
}

// CrawlDueFacilities selects one batch of due facilities and crawls
// them with bounded concurrency. A failing facility is counted and the
// rest of the batch continues.
func (c *Crawler) CrawlDueFacilities(ctx context.Context) (BatchResult, error) {
	facilities, err := c.facilities.FacilitiesNeedingCrawl(ctx, c.cfg.BatchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("select facilities: %w", err)
	}
	if len(facilities) == 0 {
		c.logger.Debug("no facilities due for crawl")
		return BatchResult{}, nil
	}

	results := make([]*facilityOutcome, len(facilities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, facility := range facilities {
		i, facility := i, facility
		g.Go(func() error {
			outcome := c.crawlOne(gctx, facility)
			results[i] = outcome
			return nil
		})
	}
	// Goroutines never return errors, so this only propagates a
	// context cancellation.
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	var batch BatchResult
	for _, outcome := range results {
		if outcome.err != nil {
			batch.FacilitiesFailed++
			continue
		}
		batch.FacilitiesCrawled++
		batch.ImagesDiscovered += outcome.imagesFound
	}
	c.logger.Info("crawl batch finished",
		zap.Int("crawled", batch.FacilitiesCrawled),
		zap.Int("failed", batch.FacilitiesFailed),
		zap.Int("images", batch.ImagesDiscovered),
	)
	return batch, nil
}

type facilityOutcome struct {
	imagesFound int
	err         error
}

// crawlOne crawls a facility, processes its images and records one
// history row whatever the outcome.
func (c *Crawler) crawlOne(ctx context.Context, facility discovery.Facility) *facilityOutcome {
	started := c.clock.Now()

	images, stats, err := c.CrawlFacility(ctx, facility)
	completed := c.clock.Now()

	record := discovery.CrawlHistory{
		FacilityID:  facility.ID,
		SourceURL:   facility.WebsiteURL,
		Status:      discovery.CrawlStatusCompleted,
		ImagesFound: len(images),
		CrawledAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		Statistics:  stats,
	}
	if err != nil {
		record.Status = discovery.CrawlStatusFailed
		record.ErrorMessage = err.Error()
		metrics.CountCrawl("failed")
		c.logger.Warn("facility crawl failed",
			zap.Int64("facility_id", facility.ID),
			zap.String("name", facility.Name),
			zap.Error(err),
		)
	} else {
		metrics.CountCrawl("completed")
	}
	if histErr := c.history.RecordCrawl(ctx, record); histErr != nil {
		c.logger.Error("record crawl history failed",
			zap.Int64("facility_id", facility.ID),
			zap.Error(histErr),
		)
	}
	if err != nil {
		return &facilityOutcome{err: err}
	}

	if markErr := c.facilities.MarkCrawled(ctx, facility.ID, completed); markErr != nil {
		c.logger.Error("mark facility crawled failed",
			zap.Int64("facility_id", facility.ID),
			zap.Error(markErr),
		)
	}

	for _, img := range images {
		if _, procErr := c.processor.Process(ctx, img, facility); procErr != nil {
			c.logger.Warn("image processing failed",
				zap.String("url", img.URL),
				zap.Error(procErr),
			)
		}
	}
	return &facilityOutcome{imagesFound: len(images)}
}

// CrawlFacility walks one facility: main page, up to MaxGalleries
// gallery pages, then the external search queries. Results are
// deduplicated by exact URL; the statistics map counts images per
// source.
func (c *Crawler) CrawlFacility(ctx context.Context, facility discovery.Facility) ([]discovery.DiscoveredImage, map[string]int, error) {
	if facility.WebsiteURL == "" {
		return nil, nil, fmt.Errorf("facility %d has no website", facility.ID)
	}

	stats := map[string]int{}
	seen := map[string]bool{}
	var images []discovery.DiscoveredImage

	add := func(rawURL, sourceURL string, sourceType discovery.SourceType, meta map[string]string) {
		// Website images pass the URL relevance pre-filter; search
		// results were already keyword-targeted by the query.
		if seen[rawURL] {
			return
		}
		if sourceType == discovery.SourceTypeWebsite && !c.relevance.IsPotentialMatch(rawURL) {
			return
		}
		seen[rawURL] = true
		stats[string(sourceType)]++
		metrics.CountImagesDiscovered(string(sourceType), 1)
		images = append(images, discovery.DiscoveredImage{
			URL:          rawURL,
			SourceURL:    sourceURL,
			SourceType:   sourceType,
			FacilityID:   facility.ID,
			DiscoveredAt: c.clock.Now(),
			Metadata:     meta,
		})
	}

	// Main page.
	resp, err := c.fetcher.Fetch(ctx, discovery.FetchRequest{URL: facility.WebsiteURL})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch main page: %w", err)
	}
	for _, u := range c.extractor.ExtractImages(resp.Body, facility.WebsiteURL) {
		add(u, facility.WebsiteURL, discovery.SourceTypeWebsite, nil)
	}

	// Gallery pages, sequentially; one failing gallery does not stop
	// the walk.
	galleries := c.extractor.FindGalleryLinks(resp.Body, facility.WebsiteURL)
	if len(galleries) > c.cfg.MaxGalleries {
		galleries = galleries[:c.cfg.MaxGalleries]
	}
	stats["gallery_pages"] = len(galleries)
	for _, galleryURL := range galleries {
		gResp, gErr := c.fetcher.Fetch(ctx, discovery.FetchRequest{URL: galleryURL})
		if gErr != nil {
			c.logger.Debug("gallery fetch failed",
				zap.String("url", galleryURL),
				zap.Error(gErr),
			)
			continue
		}
		for _, u := range c.extractor.ExtractImages(gResp.Body, galleryURL) {
			add(u, galleryURL, discovery.SourceTypeWebsite, nil)
		}
	}

	// External search augmentation.
	for _, query := range c.searchQueries(facility) {
		found, sErr := c.search.SearchImages(ctx, query, c.cfg.SearchResults)
		if sErr != nil {
			c.logger.Debug("image search failed",
				zap.String("query", query),
				zap.Error(sErr),
			)
			continue
		}
		for _, item := range found {
			add(item.URL, item.Source, discovery.SourceTypeSearchEngine, map[string]string{
				"query": query,
				"title": item.Title,
			})
		}
	}

	return images, stats, nil
}

// searchQueries builds the augmentation queries: facility name with the
// species term, and facility name with its location when known.
func (c *Crawler) searchQueries(facility discovery.Facility) []string {
	queries := []string{fmt.Sprintf("%s %s", facility.Name, c.cfg.SpeciesTerm)}
	if facility.Location != "" {
		queries = append(queries, fmt.Sprintf("%s %s", facility.Name, facility.Location))
	}
	return queries
}
