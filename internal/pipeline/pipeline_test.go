package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/discovery"
	"github.com/wildtrace/tigerwatch/internal/hash/sha256"
	"github.com/wildtrace/tigerwatch/internal/store/memory"
)

type fakeDownloader struct {
	data        []byte
	contentType string
	err         error
	calls       int
}

func (d *fakeDownloader) Download(_ context.Context, _ string) ([]byte, string, error) {
	d.calls++
	return d.data, d.contentType, d.err
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%08d", s.n), nil
}

type fakeQuality struct {
	score discovery.QualityScore
	calls int
}

func (q *fakeQuality) Assess(_ []byte) discovery.QualityScore {
	q.calls++
	return q.score
}

type fakeDetector struct {
	result discovery.DetectionResult
	err    error
	calls  int
}

func (d *fakeDetector) Detect(_ context.Context, _ []byte, _ float64) (discovery.DetectionResult, error) {
	d.calls++
	return d.result, d.err
}

type fakeEmbedder struct {
	result discovery.EmbeddingResult
	err    error
	calls  int
	got    []byte
}

func (e *fakeEmbedder) Embed(_ context.Context, imageBytes []byte) (discovery.EmbeddingResult, error) {
	e.calls++
	e.got = imageBytes
	return e.result, e.err
}

type fakeVectors struct {
	matches []discovery.Match
	err     error
	calls   int
}

func (v *fakeVectors) FindMatches(_ context.Context, _ []float32, _ int, _ float64) ([]discovery.Match, error) {
	v.calls++
	return v.matches, v.err
}

type fakeBlobs struct {
	mu   sync.Mutex
	keys []string
}

func (b *fakeBlobs) PutObject(_ context.Context, key, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, key)
	return "mem://" + key, nil
}

type fakeTrigger struct {
	mu         sync.Mutex
	candidates []discovery.TriggerCandidate
}

func (t *fakeTrigger) EvaluateAsync(c discovery.TriggerCandidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, c)
}

func (t *fakeTrigger) Candidates() []discovery.TriggerCandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]discovery.TriggerCandidate, len(t.candidates))
	copy(out, t.candidates)
	return out
}

type pipelineFixture struct {
	pipeline    *Pipeline
	downloader  *fakeDownloader
	quality     *fakeQuality
	detector    *fakeDetector
	embedder    *fakeEmbedder
	vectors     *fakeVectors
	individuals *memory.IndividualStore
	blobs       *fakeBlobs
	trigger     *fakeTrigger
}

// newFixture wires a pipeline with a healthy default path: a decodable
// JPEG, acceptable quality, one confident detection, a 64-dim embedding
// and no matches.
func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		downloader: &fakeDownloader{data: testJPEG(t, 512, 512), contentType: "image/jpeg"},
		quality: &fakeQuality{score: discovery.QualityScore{
			Score:        85,
			IsAcceptable: true,
		}},
		detector: &fakeDetector{result: discovery.DetectionResult{
			Success: true,
			Detections: []discovery.Detection{{
				Box:        [4]float64{0.1, 0.1, 0.9, 0.9},
				Format:     discovery.BoxFormatNormalized,
				Confidence: 0.95,
				Category:   "tiger",
			}},
		}},
		embedder: &fakeEmbedder{result: discovery.EmbeddingResult{
			Embedding: make([]float32, 64),
			Shape:     []int{64},
			Success:   true,
		}},
		vectors:     &fakeVectors{},
		individuals: memory.NewIndividualStore(),
		blobs:       &fakeBlobs{},
		trigger:     &fakeTrigger{},
	}
	f.pipeline = New(
		Config{},
		f.downloader,
		sha256.New(),
		fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		&seqIDs{},
		f.quality,
		f.detector,
		f.embedder,
		f.vectors,
		f.individuals,
		f.blobs,
		f.trigger,
		zap.NewNop(),
	)
	return f
}

// testJPEG renders a noisy JPEG so decode and crop have real pixels to
// work with.
func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(rng.Intn(256))
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testImage(facilityID int64) discovery.DiscoveredImage {
	return discovery.DiscoveredImage{
		URL:        "https://zoo.example/photos/t1.jpg",
		SourceURL:  "https://zoo.example/residents",
		SourceType: discovery.SourceTypeWebsite,
		FacilityID: facilityID,
	}
}

func testFacility(id int64) discovery.Facility {
	return discovery.Facility{ID: id, Name: "Riverbend Sanctuary"}
}

func TestProcessNewIndividualEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	result, err := f.pipeline.Process(context.Background(), testImage(3), testFacility(3))
	require.NoError(t, err)
	require.NotNil(t, result)

	require.True(t, result.IsNew)
	require.Equal(t, int64(3), result.Individual.FacilityID)
	require.Contains(t, result.Individual.Name, "Unidentified tiger")
	require.Equal(t, 0.95, result.DetectionConfidence)
	require.Equal(t, 85.0, result.Image.QualityScore)

	// Content hash recorded on the image row matches the bytes.
	wantHash, err := sha256.New().Hash(f.downloader.data)
	require.NoError(t, err)
	require.Equal(t, wantHash, result.Image.ContentHash)

	// Stored under the blob prefix and attached to the individual.
	require.Len(t, f.blobs.keys, 1)
	require.Contains(t, f.blobs.keys[0], "discoveries/")
	require.Len(t, f.individuals.Individuals(), 1)
	require.Len(t, f.individuals.Images(result.Individual.ID), 1)

	// Embedder received the crop, not the full image.
	require.NotEqual(t, f.downloader.data, f.embedder.got)

	// Trigger was handed the outcome.
	candidates := f.trigger.Candidates()
	require.Len(t, candidates, 1)
	require.True(t, candidates[0].IsNew)
	require.Equal(t, 0.95, candidates[0].DetectionConfidence)
	require.Equal(t, wantHash, candidates[0].Image.ContentHash)

	snap := f.pipeline.Stats().Snapshot()
	require.Equal(t, int64(1), snap["images_processed"])
	require.Equal(t, int64(1), snap["new_individuals"])
}

func TestProcessStrongMatchUpdatesExisting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	existing := discovery.Individual{ID: "known-1", Name: "Rani", FacilityID: 3}
	require.NoError(t, f.individuals.Create(ctx, existing, discovery.IndividualImage{
		ID: "img-0", IndividualID: "known-1", ContentHash: "other-hash",
	}))
	f.vectors.matches = []discovery.Match{{IndividualID: "known-1", Similarity: 0.90}}

	result, err := f.pipeline.Process(ctx, testImage(3), testFacility(3))
	require.NoError(t, err)
	require.NotNil(t, result)

	// Similarity exactly at the threshold updates the known individual.
	require.False(t, result.IsNew)
	require.Equal(t, "known-1", result.Individual.ID)
	require.NotNil(t, result.MatchSimilarity)
	require.Equal(t, 0.90, *result.MatchSimilarity)
	require.Len(t, f.individuals.Individuals(), 1)
	require.Len(t, f.individuals.Images("known-1"), 2)

	snap := f.pipeline.Stats().Snapshot()
	require.Equal(t, int64(1), snap["existing_individuals"])
	require.Equal(t, int64(0), snap["new_individuals"])
}

func TestProcessBelowThresholdCreatesNew(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.vectors.matches = []discovery.Match{{IndividualID: "known-1", Similarity: 0.899}}

	result, err := f.pipeline.Process(context.Background(), testImage(3), testFacility(3))
	require.NoError(t, err)
	require.NotNil(t, result)

	require.True(t, result.IsNew)
	require.NotEqual(t, "known-1", result.Individual.ID)
	require.NotNil(t, result.MatchSimilarity)
	require.Equal(t, 0.899, *result.MatchSimilarity)
}

func TestProcessDuplicateHashSkipsEarly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.Process(ctx, testImage(3), testFacility(3))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.pipeline.Process(ctx, testImage(3), testFacility(3))
	require.NoError(t, err)
	require.Nil(t, second)

	// The duplicate was dropped before quality, detection or embedding.
	require.Equal(t, 1, f.quality.calls)
	require.Equal(t, 1, f.detector.calls)
	require.Equal(t, 1, f.embedder.calls)
	require.Len(t, f.individuals.Individuals(), 1)

	snap := f.pipeline.Stats().Snapshot()
	require.Equal(t, int64(2), snap["images_processed"])
	require.Equal(t, int64(1), snap["duplicates_skipped"])
}

func TestProcessNonImageContentType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.downloader.data = []byte("<html>not found</html>")
	f.downloader.contentType = "text/html"

	result, err := f.pipeline.Process(context.Background(), testImage(3), testFacility(3))
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, 0, f.quality.calls)
	require.Equal(t, int64(1), f.pipeline.Stats().Snapshot()["download_failures"])
}

func TestProcessDownloadError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.downloader.err = errors.New("connection reset")

	result, err := f.pipeline.Process(context.Background(), testImage(3), testFacility(3))
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, int64(1), f.pipeline.Stats().Snapshot()["download_failures"])
}

func TestProcessQualityRejection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.quality.score = discovery.QualityScore{Score: 25, IsAcceptable: false, Issues: []string{"Image too blurry"}}

	result, err := f.pipeline.Process(context.Background(), testImage(3), testFacility(3))
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, 0, f.detector.calls)
	require.Equal(t, int64(1), f.pipeline.Stats().Snapshot()["quality_rejected"])
}

func TestProcessNoSubjectDetected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.detector.result = discovery.DetectionResult{Success: true}

	result, err := f.pipeline.Process(context.Background(), testImage(3), testFacility(3))
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, 0, f.embedder.calls)
	require.Equal(t, int64(1), f.pipeline.Stats().Snapshot()["no_subject_detected"])
}

func TestProcessDetectorErrorDropsImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.detector.err = errors.New("service unavailable")

	result, err := f.pipeline.Process(context.Background(), testImage(3), testFacility(3))
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, int64(1), f.pipeline.Stats().Snapshot()["no_subject_detected"])
}

func TestProcessEmbeddingFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.embedder.result = discovery.EmbeddingResult{Success: false}

	result, err := f.pipeline.Process(context.Background(), testImage(3), testFacility(3))
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, 0, f.vectors.calls)
	require.Equal(t, int64(1), f.pipeline.Stats().Snapshot()["embedding_failures"])
	require.Empty(t, f.trigger.Candidates())
}

func TestProcessPicksHighestConfidenceDetection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.detector.result.Detections = []discovery.Detection{
		{Box: [4]float64{0.0, 0.0, 0.4, 0.4}, Format: discovery.BoxFormatNormalized, Confidence: 0.62},
		{Box: [4]float64{0.2, 0.2, 0.8, 0.8}, Format: discovery.BoxFormatNormalized, Confidence: 0.97},
		{Box: [4]float64{0.5, 0.5, 1.0, 1.0}, Format: discovery.BoxFormatNormalized, Confidence: 0.71},
	}

	result, err := f.pipeline.Process(context.Background(), testImage(3), testFacility(3))
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 0.97, result.DetectionConfidence)
}

func TestProcessCropFailureFallsBackToFullImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// A degenerate box makes the crop fail; the full bytes still flow
	// to the embedder.
	f.detector.result.Detections = []discovery.Detection{{
		Box:        [4]float64{0.5, 0.5, 0.5, 0.5},
		Format:     discovery.BoxFormatNormalized,
		Confidence: 0.9,
	}}

	result, err := f.pipeline.Process(context.Background(), testImage(3), testFacility(3))
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, f.downloader.data, f.embedder.got)
}
