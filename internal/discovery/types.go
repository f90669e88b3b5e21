// Package discovery defines core types shared across subsystems.
package discovery

import (
	"net/http"
	"time"
)

// SourceType identifies how a candidate image was found.
type SourceType string

// Source type values recorded on discovered images.
const (
	SourceTypeWebsite      SourceType = "website"
	SourceTypeSearchEngine SourceType = "search_engine"
)

// SourceAutoDiscovery tags investigations created by the trigger gate,
// distinguishing them from investigations opened by direct user action.
const SourceAutoDiscovery = "auto_discovery"

// DiscoveredImage is one discovery event for a candidate image URL.
// It is created by the crawl orchestrator and consumed by the
// identification pipeline; it is never mutated after creation except
// for ContentHash, which the pipeline fills in from raw bytes before
// its duplicate check.
type DiscoveredImage struct {
	URL          string            `json:"url"`
	SourceURL    string            `json:"source_url"`
	SourceType   SourceType        `json:"source_type"`
	FacilityID   int64             `json:"facility_id"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ContentHash  string            `json:"content_hash,omitempty"`
}

// QualityScore is the transient output of the quality assessment stage.
// It is computed fresh per image and never persisted as an entity.
type QualityScore struct {
	Score           float64  `json:"score"`
	BlurScore       float64  `json:"blur_score"`
	ResolutionScore float64  `json:"resolution_score"`
	BrightnessScore float64  `json:"brightness_score"`
	ContrastScore   float64  `json:"contrast_score"`
	IsAcceptable    bool     `json:"is_acceptable"`
	Issues          []string `json:"issues,omitempty"`
}

// Facility is an external entity (zoo, sanctuary) whose public web
// presence is crawled for subject images.
type Facility struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	WebsiteURL        string     `json:"website_url"`
	Location          string     `json:"location"`
	TigerCount        int        `json:"tiger_count"`
	IsReferenceSource bool       `json:"is_reference_source"`
	LastCrawledAt     *time.Time `json:"last_crawled_at,omitempty"`
}

// Individual is a uniquely identified subject tracked across images.
type Individual struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	FacilityID int64     `json:"facility_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IndividualImage is one observed image attached to an individual.
type IndividualImage struct {
	ID                  string    `json:"id"`
	IndividualID        string    `json:"individual_id"`
	SourceURL           string    `json:"source_url"`
	BlobURI             string    `json:"blob_uri"`
	ContentHash         string    `json:"content_hash"`
	Embedding           []float32 `json:"embedding,omitempty"`
	QualityScore        float64   `json:"quality_score"`
	DetectionConfidence float64   `json:"detection_confidence"`
	CreatedAt           time.Time `json:"created_at"`
}

// ProcessedIndividual is the outcome of running one discovered image
// through the identification pipeline. IsNew reports that no existing
// individual matched above the strong-match threshold.
type ProcessedIndividual struct {
	Individual          Individual      `json:"individual"`
	Image               IndividualImage `json:"individual_image"`
	IsNew               bool            `json:"is_new"`
	MatchSimilarity     *float64        `json:"match_similarity,omitempty"`
	DetectionConfidence float64         `json:"detection_confidence"`
}

// CrawlStatus is the terminal state of one facility crawl attempt.
type CrawlStatus string

// Crawl status values persisted in the history log.
const (
	CrawlStatusCompleted CrawlStatus = "completed"
	CrawlStatusFailed    CrawlStatus = "failed"
)

// CrawlHistory is one append-only log entry per facility-crawl attempt,
// immutable after write.
type CrawlHistory struct {
	FacilityID   int64          `json:"facility_id"`
	SourceURL    string         `json:"source_url"`
	Status       CrawlStatus    `json:"status"`
	ImagesFound  int            `json:"images_found"`
	CrawledAt    time.Time      `json:"crawled_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	DurationMs   int64          `json:"duration_ms"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Statistics   map[string]int `json:"statistics,omitempty"`
}

// InvestigationPriority ranks how urgently a discovery should be
// investigated.
type InvestigationPriority string

// Priority bands assigned by the trigger gate.
const (
	PriorityLow    InvestigationPriority = "low"
	PriorityMedium InvestigationPriority = "medium"
	PriorityHigh   InvestigationPriority = "high"
)

// InvestigationStatus is the lifecycle state of an investigation as far
// as this service tracks it; deeper processing continues elsewhere.
type InvestigationStatus string

// Investigation status values written by the trigger gate.
const (
	InvestigationStatusPending   InvestigationStatus = "pending"
	InvestigationStatusQueued    InvestigationStatus = "queued"
	InvestigationStatusCancelled InvestigationStatus = "cancelled"
)

// Investigation is created when the trigger gate approves a discovery.
type Investigation struct {
	ID          string                `json:"investigation_id"`
	Title       string                `json:"title"`
	Status      InvestigationStatus   `json:"status"`
	Priority    InvestigationPriority `json:"priority"`
	Source      string                `json:"source"`
	FacilityIDs []int64               `json:"related_facility_ids"`
	ContentHash string                `json:"content_hash"`
	CreatedAt   time.Time             `json:"created_at"`
}

// BoxFormat declares how a detection's box coordinates are encoded.
// Detection collaborators should set it explicitly; the unspecified
// value falls back to a magnitude heuristic in the crop stage.
type BoxFormat string

// Supported bounding-box encodings.
const (
	BoxFormatUnspecified BoxFormat = ""
	BoxFormatNormalized  BoxFormat = "normalized_xyxy"
	BoxFormatPixelsXYXY  BoxFormat = "pixels_xyxy"
	BoxFormatPixelsXYWH  BoxFormat = "pixels_xywh"
)

// Detection is one detected subject returned by a Detector.
type Detection struct {
	Box        [4]float64 `json:"bbox"`
	Format     BoxFormat  `json:"box_format,omitempty"`
	Confidence float64    `json:"confidence"`
	Category   string     `json:"category"`
}

// DetectionResult wraps a Detector response.
type DetectionResult struct {
	Detections []Detection `json:"detections"`
	Success    bool        `json:"success"`
}

// EmbeddingResult wraps an Embedder response. The vector dimension is a
// per-model constant known to the caller.
type EmbeddingResult struct {
	Embedding []float32 `json:"embedding"`
	Shape     []int     `json:"shape"`
	Success   bool      `json:"success"`
}

// Match is one vector-search neighbor, cosine-similarity ranked.
type Match struct {
	IndividualID string  `json:"individual_id"`
	Similarity   float64 `json:"similarity"`
}

// SearchImage is one keyword image-search result.
type SearchImage struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Source string `json:"source"`
}

// TriggerCandidate is everything the investigation trigger gate needs
// to evaluate one pipeline outcome.
type TriggerCandidate struct {
	Image               DiscoveredImage
	Facility            Facility
	ImageBytes          []byte
	IndividualID        string
	IsNew               bool
	DetectionConfidence float64
	QualityScore        float64
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
