package discovery

import (
	"context"
	"time"
)

// Detector locates subjects in an image. Consumed as a black-box
// asynchronous service; detection confidence is in [0,1].
type Detector interface {
	Detect(ctx context.Context, imageBytes []byte, confidenceThreshold float64) (DetectionResult, error)
}

// Embedder produces a fixed-dimension identity vector for a cropped
// subject image.
type Embedder interface {
	Embed(ctx context.Context, imageBytes []byte) (EmbeddingResult, error)
}

// VectorSearch finds the nearest known individuals for an embedding,
// ranked by cosine similarity descending.
type VectorSearch interface {
	FindMatches(ctx context.Context, embedding []float32, topK int, minSimilarity float64) ([]Match, error)
}

// TaskQueue schedules deep-investigation work. Enqueue returns once the
// work is scheduled, not when it completes; it may fail and callers
// must handle that without propagating.
type TaskQueue interface {
	Enqueue(ctx context.Context, investigationID string, imageBytes []byte, metadata map[string]string) error
}

// ImageSearch is the external keyword image-search collaborator.
type ImageSearch interface {
	SearchImages(ctx context.Context, query string, maxResults int) ([]SearchImage, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// JSDetector decides whether page content needs a rendered fetch.
type JSDetector interface {
	IsJSHeavy(body []byte) bool
}

// RateLimiter paces outbound requests per domain. WaitForSlot blocks
// until the domain's interval has elapsed; the report methods adjust
// per-domain backoff state and never fail.
type RateLimiter interface {
	WaitForSlot(ctx context.Context, url string) error
	ReportError(url string, statusCode int)
	ReportSuccess(url string)
}

// FacilityStore selects facilities due for a crawl and records when a
// crawl happened.
type FacilityStore interface {
	FacilitiesNeedingCrawl(ctx context.Context, limit int) ([]Facility, error)
	MarkCrawled(ctx context.Context, facilityID int64, at time.Time) error
}

// CrawlHistoryStore appends crawl audit rows.
type CrawlHistoryStore interface {
	RecordCrawl(ctx context.Context, record CrawlHistory) error
}

// IndividualStore persists individuals and their images.
type IndividualStore interface {
	// HashExists reports whether any stored image has this content hash.
	HashExists(ctx context.Context, contentHash string) (bool, error)
	// Create inserts a new individual together with its first image.
	Create(ctx context.Context, individual Individual, image IndividualImage) error
	// AttachImage adds an image to an existing individual and returns
	// the updated individual.
	AttachImage(ctx context.Context, individualID string, image IndividualImage) (Individual, error)
}

// InvestigationStore persists trigger-created investigations and
// answers the gate's rate-limit queries against a transactionally
// consistent view.
type InvestigationStore interface {
	Create(ctx context.Context, investigation Investigation) error
	// CountAutoSince counts auto-discovery investigations created at or
	// after the given instant.
	CountAutoSince(ctx context.Context, since time.Time) (int, error)
	// LatestAutoForFacility returns the creation time of the most
	// recent auto-discovery investigation referencing the facility, or
	// nil when none exists.
	LatestAutoForFacility(ctx context.Context, facilityID int64) (*time.Time, error)
	// ExistsForHash reports whether an investigation was already
	// spawned for an image with this content hash.
	ExistsForHash(ctx context.Context, contentHash string) (bool, error)
	MarkCancelled(ctx context.Context, investigationID string) error
}

// InvestigationTrigger evaluates pipeline outcomes for escalation.
// EvaluateAsync is fire-and-forget: it returns immediately and its
// failures never reach the caller.
type InvestigationTrigger interface {
	EvaluateAsync(candidate TriggerCandidate)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
