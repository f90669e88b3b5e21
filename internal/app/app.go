// Package app initializes and holds the long-lived application
// services, acting as a dependency injection container. It is built
// once at startup and closed once at shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/api"
	"github.com/wildtrace/tigerwatch/internal/clock/system"
	"github.com/wildtrace/tigerwatch/internal/config"
	"github.com/wildtrace/tigerwatch/internal/crawl"
	"github.com/wildtrace/tigerwatch/internal/discovery"
	"github.com/wildtrace/tigerwatch/internal/fetcher"
	collyfetcher "github.com/wildtrace/tigerwatch/internal/fetcher/colly"
	"github.com/wildtrace/tigerwatch/internal/fetcher/headless"
	"github.com/wildtrace/tigerwatch/internal/hash/sha256"
	"github.com/wildtrace/tigerwatch/internal/headless/detector"
	"github.com/wildtrace/tigerwatch/internal/id/uuid"
	"github.com/wildtrace/tigerwatch/internal/imagery"
	"github.com/wildtrace/tigerwatch/internal/mlclient"
	"github.com/wildtrace/tigerwatch/internal/pipeline"
	"github.com/wildtrace/tigerwatch/internal/quality"
	"github.com/wildtrace/tigerwatch/internal/queue"
	"github.com/wildtrace/tigerwatch/internal/ratelimit"
	"github.com/wildtrace/tigerwatch/internal/scheduler"
	"github.com/wildtrace/tigerwatch/internal/search"
	memstore "github.com/wildtrace/tigerwatch/internal/store/memory"
	"github.com/wildtrace/tigerwatch/internal/store/postgres"
	"github.com/wildtrace/tigerwatch/internal/storage/gcs"
	"github.com/wildtrace/tigerwatch/internal/storage/local"
	memblob "github.com/wildtrace/tigerwatch/internal/storage/memory"
	"github.com/wildtrace/tigerwatch/internal/trigger"
)

// App holds the shared, long-lived services of the discovery service.
type App struct {
	Logger    *zap.Logger
	Crawler   *crawl.Crawler
	Scheduler *scheduler.Scheduler
	Pipeline  *pipeline.Pipeline
	Gate      *trigger.Gate
	Handler   http.Handler

	closers []func()
}

// New wires every service from the configuration. It fails fast: a
// backend named in the config that cannot be reached is a startup
// error, not a degraded mode. The one exception is the headless
// browser, whose absence only disables page promotion.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Logger: logger}

	clk := system.New()
	ids := uuid.New()
	limiter := ratelimit.New(ratelimit.Config{
		BaseInterval: time.Duration(cfg.RateLimit.BaseIntervalSeconds) * time.Second,
		MaxBackoff:   time.Duration(cfg.RateLimit.MaxBackoffSeconds) * time.Second,
	})

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawl.UserAgent,
		Timeout:   time.Duration(cfg.Crawl.TimeoutSeconds) * time.Second,
	})

	// The interface stays nil unless the browser actually starts, so
	// the escalating fetcher can tell "no headless" from a dead one.
	var headlessFetcher discovery.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			ScrollPasses:      cfg.Headless.ScrollPasses,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, pages will not be promoted", zap.Error(err))
		} else {
			headlessFetcher = hf
			a.closers = append(a.closers, hf.Close)
		}
	}
	fetch := fetcher.NewEscalating(probe, headlessFetcher, detector.NewHeuristic(nil, 0), limiter, logger)

	blobs, err := a.buildBlobStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	var (
		facilities     discovery.FacilityStore
		history        discovery.CrawlHistoryStore
		individuals    discovery.IndividualStore
		investigations discovery.InvestigationStore
	)
	if cfg.DB.DSN == "" {
		logger.Info("db.dsn not set, using in-memory stores")
		facilities = memstore.NewFacilityStore(clk.Now)
		history = memstore.NewCrawlHistoryStore()
		individuals = memstore.NewIndividualStore()
		investigations = memstore.NewInvestigationStore()
	} else {
		logger.Info("connecting to postgres")
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if facilities, err = postgres.NewFacilityStore(pool); err != nil {
			return nil, err
		}
		if history, err = postgres.NewCrawlHistoryStore(pool); err != nil {
			return nil, err
		}
		if individuals, err = postgres.NewIndividualStore(pool); err != nil {
			return nil, err
		}
		if investigations, err = postgres.NewInvestigationStore(pool); err != nil {
			return nil, err
		}
	}

	var tasks discovery.TaskQueue
	if cfg.PubSub.ProjectID == "" {
		logger.Info("pubsub.project_id not set, using in-memory task queue")
		tasks = queue.NewMemoryQueue(0)
	} else {
		logger.Info("connecting to pub/sub", zap.String("topic", cfg.PubSub.TopicName))
		q, err := queue.NewPubSubQueue(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize task queue: %w", err)
		}
		tasks = q
		a.closers = append(a.closers, func() {
			if err := q.Close(); err != nil {
				logger.Warn("closing pub/sub client", zap.Error(err))
			}
		})
	}

	ml, err := mlclient.New(mlclient.Config{
		BaseURL: cfg.ML.BaseURL,
		Timeout: time.Duration(cfg.ML.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize ml client: %w", err)
	}

	imageSearch, err := search.New(search.Config{
		BaseURL: cfg.Search.BaseURL,
		APIKey:  cfg.Search.APIKey,
		Timeout: time.Duration(cfg.Search.TimeoutSeconds) * time.Second,
	}, limiter, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize image search: %w", err)
	}

	a.Gate = trigger.New(trigger.Config{
		Enabled:         cfg.Trigger.Enabled,
		MinQuality:      cfg.Trigger.MinQuality,
		MinConfidence:   cfg.Trigger.MinConfidence,
		MaxPerWindow:    cfg.Trigger.MaxPerWindow,
		Window:          time.Duration(cfg.Trigger.WindowMinutes) * time.Minute,
		FacilitySpacing: time.Duration(cfg.Trigger.FacilitySpacingMinutes) * time.Minute,
		MaxInFlight:     cfg.Trigger.MaxInFlight,
	}, investigations, tasks, clk, ids, logger)
	a.closers = append(a.closers, a.Gate.Close)

	downloader := pipeline.NewHTTPDownloader(limiter, cfg.Crawl.UserAgent,
		time.Duration(cfg.Crawl.TimeoutSeconds)*time.Second)
	a.Pipeline = pipeline.New(pipeline.Config{
		DetectionConfidence:  cfg.Pipeline.DetectionConfidence,
		StrongMatchThreshold: cfg.Pipeline.StrongMatchThreshold,
		LikelyMatchThreshold: cfg.Pipeline.LikelyMatchThreshold,
		TopK:                 cfg.Pipeline.TopK,
		MinSimilarity:        cfg.Pipeline.MinSimilarity,
		BlobPrefix:           cfg.Pipeline.BlobPrefix,
	}, downloader, sha256.New(), clk, ids,
		quality.NewAssessor(cfg.Quality.AcceptanceFloor, cfg.Quality.MinResolution),
		ml, ml, ml, individuals, blobs, a.Gate, logger)

	a.Crawler = crawl.New(crawl.Config{
		BatchSize:     cfg.Crawl.BatchSize,
		Concurrency:   cfg.Crawl.Concurrency,
		MaxGalleries:  cfg.Crawl.MaxGalleries,
		SearchResults: cfg.Crawl.SearchResults,
		SpeciesTerm:   cfg.Crawl.SpeciesTerm,
	}, fetch, imagery.NewExtractor(nil), imagery.NewRelevanceFilter(nil, nil),
		imageSearch, facilities, history, a.Pipeline, clk, logger)

	a.Scheduler = scheduler.New(cfg.CrawlInterval(), a.Crawler, logger)
	a.Handler = api.NewServer(a.Pipeline.Stats(), a.Gate, logger).Handler()

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) buildBlobStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (discovery.BlobStore, error) {
	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory blob store, images will not survive restart")
		return memblob.NewBlobStore(), nil
	case "local":
		logger.Info("using local blob store", zap.String("dir", cfg.LocalDir))
		return local.New(local.Config{BaseDir: cfg.LocalDir})
	case "gcs":
		logger.Info("using gcs blob store", zap.String("bucket", cfg.GCSBucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("closing gcs client", zap.Error(err))
			}
		})
		return gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// Close shuts services down in reverse construction order and flushes
// the logger last.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.Logger.Sync()
}
