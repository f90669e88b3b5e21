// Package pipeline runs discovered images through the identification
// stages: download, dedup, quality, detection, crop, embedding, vector
// match and record decision.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/discovery"
	"github.com/wildtrace/tigerwatch/internal/metrics"
)

// Config holds the pipeline's decision thresholds.
type Config struct {
	// DetectionConfidence is the floor passed to the detector.
	DetectionConfidence float64
	// StrongMatchThreshold: matches at or above it update the existing
	// individual instead of creating a new one.
	StrongMatchThreshold float64
	// LikelyMatchThreshold is a documented but currently inactive knob
	// for a "likely-same-but-unconfirmed" band below the strong match.
	// It is validated and carried but not read by the decision branch.
	LikelyMatchThreshold float64
	// TopK and MinSimilarity parameterize the vector search query.
	TopK          int
	MinSimilarity float64
	// BlobPrefix is the storage area for discovery image files.
	BlobPrefix string
}

func (c Config) withDefaults() Config {
	if c.DetectionConfidence <= 0 {
		c.DetectionConfidence = 0.5
	}
	if c.StrongMatchThreshold <= 0 {
		c.StrongMatchThreshold = 0.90
	}
	if c.LikelyMatchThreshold <= 0 {
		c.LikelyMatchThreshold = 0.85
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.5
	}
	if c.BlobPrefix == "" {
		c.BlobPrefix = "discoveries"
	}
	return c
}

// QualityAssessor scores raw image bytes.
type QualityAssessor interface {
	Assess(imageBytes []byte) discovery.QualityScore
}

// Pipeline processes one discovered image at a time. All collaborators
// are injected; none are optional except the trigger gate.
type Pipeline struct {
	cfg         Config
	downloader  Downloader
	hasher      discovery.Hasher
	clock       discovery.Clock
	ids         discovery.IDGenerator
	quality     QualityAssessor
	detector    discovery.Detector
	embedder    discovery.Embedder
	vectors     discovery.VectorSearch
	individuals discovery.IndividualStore
	blobs       discovery.BlobStore
	trigger     discovery.InvestigationTrigger
	logger      *zap.Logger
	stats       *Stats
}

// New constructs a Pipeline.
func New(
	cfg Config,
	downloader Downloader,
	hasher discovery.Hasher,
	clock discovery.Clock,
	ids discovery.IDGenerator,
	qualityAssessor QualityAssessor,
	detector discovery.Detector,
	embedder discovery.Embedder,
	vectors discovery.VectorSearch,
	individuals discovery.IndividualStore,
	blobs discovery.BlobStore,
	trigger discovery.InvestigationTrigger,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg.withDefaults(),
		downloader:  downloader,
		hasher:      hasher,
		clock:       clock,
		ids:         ids,
		quality:     qualityAssessor,
		detector:    detector,
		embedder:    embedder,
		vectors:     vectors,
		individuals: individuals,
		blobs:       blobs,
		trigger:     trigger,
		logger:      logger,
		stats:       &Stats{},
	}
}

// Stats returns the pipeline's outcome counters.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Process runs one discovered image through the stages. A nil result
// with a nil error means the image was dropped for an expected reason
// (duplicate, quality, no subject); those are counted, not surfaced.
// Errors are per-image and never abort the surrounding batch.
func (p *Pipeline) Process(ctx context.Context, img discovery.DiscoveredImage, facility discovery.Facility) (*discovery.ProcessedIndividual, error) {
	p.stats.ImagesProcessed.Add(1)
	metrics.CountPipelineOutcome("processed")

	// Stage 1: download.
	data, contentType, err := p.downloader.Download(ctx, img.URL)
	if err != nil || !strings.Contains(contentType, "image") {
		p.stats.DownloadFailures.Add(1)
		metrics.CountPipelineOutcome("download_failed")
		p.logger.Debug("image download failed",
			zap.String("url", img.URL),
			zap.String("content_type", contentType),
			zap.Error(err),
		)
		return nil, nil
	}

	// Stage 2: content-hash dedup, before any expensive work.
	hash, err := p.hasher.Hash(data)
	if err != nil {
		return nil, fmt.Errorf("hash image: %w", err)
	}
	img.ContentHash = hash
	exists, err := p.individuals.HashExists(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		p.stats.DuplicatesSkipped.Add(1)
		metrics.CountPipelineOutcome("duplicate")
		return nil, nil
	}

	// Stage 3: quality assessment.
	score := p.quality.Assess(data)
	if !score.IsAcceptable {
		p.stats.QualityRejected.Add(1)
		metrics.CountPipelineOutcome("quality_rejected")
		p.logger.Debug("image rejected on quality",
			zap.String("url", img.URL),
			zap.Float64("score", score.Score),
			zap.Strings("issues", score.Issues),
		)
		return nil, nil
	}

	// Stage 4: detection.
	detResult, err := p.detector.Detect(ctx, data, p.cfg.DetectionConfidence)
	if err != nil {
		p.stats.NoSubjectDetected.Add(1)
		metrics.CountPipelineOutcome("detection_failed")
		p.logger.Warn("detection call failed", zap.String("url", img.URL), zap.Error(err))
		return nil, nil
	}
	if len(detResult.Detections) == 0 {
		p.stats.NoSubjectDetected.Add(1)
		metrics.CountPipelineOutcome("no_subject")
		return nil, nil
	}
	best := bestDetection(detResult.Detections)

	// Stage 5: crop, falling back to the full image on failure.
	cropped, err := cropDetection(data, best)
	if err != nil {
		p.logger.Debug("crop failed, using full image", zap.String("url", img.URL), zap.Error(err))
		cropped = data
	}

	// Stage 6: embedding.
	embedding, err := p.embedder.Embed(ctx, cropped)
	if err != nil || !embedding.Success || len(embedding.Embedding) == 0 {
		p.stats.EmbeddingFailures.Add(1)
		metrics.CountPipelineOutcome("embedding_failed")
		p.logger.Warn("embedding failed", zap.String("url", img.URL), zap.Error(err))
		return nil, nil
	}

	// Stage 7: vector match.
	matches, err := p.vectors.FindMatches(ctx, embedding.Embedding, p.cfg.TopK, p.cfg.MinSimilarity)
	if err != nil {
		p.stats.EmbeddingFailures.Add(1)
		metrics.CountPipelineOutcome("match_failed")
		p.logger.Warn("vector search failed", zap.String("url", img.URL), zap.Error(err))
		return nil, nil
	}

	// Stage 8: record decision.
	result, err := p.record(ctx, img, data, embedding.Embedding, score, best.Confidence, matches)
	if err != nil {
		return nil, err
	}

	// Stage 9: trigger evaluation, fire and forget. The gate logs and
	// swallows its own failures; nothing here can block or fail the
	// pipeline's return.
	p.trigger.EvaluateAsync(discovery.TriggerCandidate{
		Image:               img,
		Facility:            facility,
		ImageBytes:          data,
		IndividualID:        result.Individual.ID,
		IsNew:               result.IsNew,
		DetectionConfidence: best.Confidence,
		QualityScore:        score.Score,
	})
	return result, nil
}

func (p *Pipeline) record(
	ctx context.Context,
	img discovery.DiscoveredImage,
	data []byte,
	embedding []float32,
	score discovery.QualityScore,
	confidence float64,
	matches []discovery.Match,
) (*discovery.ProcessedIndividual, error) {
	now := p.clock.Now()

	imageID, err := p.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate image id: %w", err)
	}
	blobURI, err := p.blobs.PutObject(ctx, fmt.Sprintf("%s/%s.jpg", p.cfg.BlobPrefix, imageID), "image/jpeg", data)
	if err != nil {
		return nil, fmt.Errorf("store image blob: %w", err)
	}

	record := discovery.IndividualImage{
		ID:                  imageID,
		SourceURL:           img.URL,
		BlobURI:             blobURI,
		ContentHash:         img.ContentHash,
		Embedding:           embedding,
		QualityScore:        score.Score,
		DetectionConfidence: confidence,
		CreatedAt:           now,
	}

	if len(matches) > 0 && matches[0].Similarity >= p.cfg.StrongMatchThreshold {
		similarity := matches[0].Similarity
		record.IndividualID = matches[0].IndividualID
		individual, err := p.individuals.AttachImage(ctx, matches[0].IndividualID, record)
		if err != nil {
			return nil, fmt.Errorf("attach image to individual: %w", err)
		}
		p.stats.ExistingIndividuals.Add(1)
		metrics.CountPipelineOutcome("existing_individual")
		return &discovery.ProcessedIndividual{
			Individual:          individual,
			Image:               record,
			IsNew:               false,
			MatchSimilarity:     &similarity,
			DetectionConfidence: confidence,
		}, nil
	}

	individualID, err := p.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate individual id: %w", err)
	}
	individual := discovery.Individual{
		ID:         individualID,
		Name:       fmt.Sprintf("Unidentified tiger %s", shortID(individualID)),
		FacilityID: img.FacilityID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	record.IndividualID = individualID
	if err := p.individuals.Create(ctx, individual, record); err != nil {
		return nil, fmt.Errorf("create individual: %w", err)
	}
	p.stats.NewIndividuals.Add(1)
	metrics.CountPipelineOutcome("new_individual")

	result := &discovery.ProcessedIndividual{
		Individual:          individual,
		Image:               record,
		IsNew:               true,
		DetectionConfidence: confidence,
	}
	if len(matches) > 0 {
		similarity := matches[0].Similarity
		result.MatchSimilarity = &similarity
	}
	return result, nil
}

func bestDetection(detections []discovery.Detection) discovery.Detection {
	best := detections[0]
	for _, d := range detections[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
