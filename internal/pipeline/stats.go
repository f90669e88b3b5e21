package pipeline

import "sync/atomic"

// Stats tracks per-outcome counters for observability. Counters are the
// primary operator-visible signal: individual drops are expected and
// frequent, so they are counted rather than surfaced as errors.
type Stats struct {
	ImagesProcessed     atomic.Int64
	DownloadFailures    atomic.Int64
	DuplicatesSkipped   atomic.Int64
	QualityRejected     atomic.Int64
	NoSubjectDetected   atomic.Int64
	EmbeddingFailures   atomic.Int64
	NewIndividuals      atomic.Int64
	ExistingIndividuals atomic.Int64
}

// Snapshot returns a point-in-time copy of all counters.
func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"images_processed":     s.ImagesProcessed.Load(),
		"download_failures":    s.DownloadFailures.Load(),
		"duplicates_skipped":   s.DuplicatesSkipped.Load(),
		"quality_rejected":     s.QualityRejected.Load(),
		"no_subject_detected":  s.NoSubjectDetected.Load(),
		"embedding_failures":   s.EmbeddingFailures.Load(),
		"new_individuals":      s.NewIndividuals.Load(),
		"existing_individuals": s.ExistingIndividuals.Load(),
	}
}
