// Package metrics exposes Prometheus collectors for the discovery service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_pipeline_outcomes_total",
			Help: "Identification pipeline outcomes per discovered image, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	crawlsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_crawls_total",
			Help: "Facility crawl attempts, labeled by status.",
		},
		[]string{"status"},
	)

	imagesDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_images_discovered_total",
			Help: "Candidate image URLs discovered, labeled by source type.",
		},
		[]string{"source_type"},
	)

	headlessPromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_headless_promotions_total",
			Help: "Fetches escalated to the headless browser after JS-heaviness detection.",
		},
	)

	investigationsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_investigations_triggered_total",
			Help: "Auto-discovery investigations created by the trigger gate, labeled by priority.",
		},
		[]string{"priority"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discovery_rate_limit_delay_seconds",
			Help:    "Delay introduced by the per-domain rate limiter, labeled by domain.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

// CountPipelineOutcome increments the outcome counter for one image.
func CountPipelineOutcome(outcome string) {
	pipelineOutcomesTotal.WithLabelValues(outcome).Inc()
}

// CountCrawl records one facility crawl attempt by terminal status.
func CountCrawl(status string) {
	crawlsTotal.WithLabelValues(status).Inc()
}

// CountImagesDiscovered adds discovered candidate URLs by source type.
func CountImagesDiscovered(sourceType string, n int) {
	imagesDiscoveredTotal.WithLabelValues(sourceType).Add(float64(n))
}

// CountHeadlessPromotion records a static fetch escalated to the browser.
func CountHeadlessPromotion() {
	headlessPromotionsTotal.Inc()
}

// CountInvestigationTriggered records a gate-approved investigation.
func CountInvestigationTriggered(priority string) {
	investigationsTriggeredTotal.WithLabelValues(priority).Inc()
}

// ObserveRateLimitDelay records a delay the limiter imposed for a domain.
func ObserveRateLimitDelay(domain string, delay time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(delay.Seconds())
}
