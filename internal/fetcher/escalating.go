// Package fetcher composes the static probe fetch with the headless
// browser fallback behind the per-domain rate limiter.
package fetcher

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/discovery"
	"github.com/wildtrace/tigerwatch/internal/metrics"
)

// Escalating fetches a page statically first and re-fetches through the
// headless browser only when the JS-heaviness detector says the static
// body is likely incomplete. Every attempt waits for a rate-limiter
// slot and reports its outcome back to the limiter.
type Escalating struct {
	probe    discovery.Fetcher
	headless discovery.Fetcher
	detector discovery.JSDetector
	limiter  discovery.RateLimiter
	logger   *zap.Logger
}

// NewEscalating constructs the composite fetcher. headless may be nil,
// in which case pages are never promoted.
func NewEscalating(
	probe discovery.Fetcher,
	headless discovery.Fetcher,
	detector discovery.JSDetector,
	limiter discovery.RateLimiter,
	logger *zap.Logger,
) *Escalating {
	return &Escalating{
		probe:    probe,
		headless: headless,
		detector: detector,
		limiter:  limiter,
		logger:   logger,
	}
}

// Fetch retrieves the page. A returned error means the caller should
// treat the fetch as zero-result; it is never fatal to a crawl.
func (e *Escalating) Fetch(ctx context.Context, request discovery.FetchRequest) (discovery.FetchResponse, error) {
	if err := e.limiter.WaitForSlot(ctx, request.URL); err != nil {
		return discovery.FetchResponse{}, err
	}

	resp, err := e.probe.Fetch(ctx, request)
	if err != nil {
		e.limiter.ReportError(request.URL, resp.StatusCode)
		return resp, fmt.Errorf("probe fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		e.limiter.ReportError(request.URL, resp.StatusCode)
		return resp, fmt.Errorf("probe fetch %s: status %d", request.URL, resp.StatusCode)
	}
	e.limiter.ReportSuccess(request.URL)

	if e.headless == nil || e.detector == nil || !e.detector.IsJSHeavy(resp.Body) {
		return resp, nil
	}
	return e.promote(ctx, request, resp), nil
}

// promote re-fetches through the browser. Failures fall back to the
// static response rather than losing the page entirely.
func (e *Escalating) promote(
	ctx context.Context,
	request discovery.FetchRequest,
	static discovery.FetchResponse,
) discovery.FetchResponse {
	if err := e.limiter.WaitForSlot(ctx, request.URL); err != nil {
		return static
	}

	request.UseHeadless = true
	rendered, err := e.headless.Fetch(ctx, request)
	if err != nil {
		e.limiter.ReportError(request.URL, rendered.StatusCode)
		e.logger.Warn("headless promotion failed",
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return static
	}
	e.limiter.ReportSuccess(request.URL)
	metrics.CountHeadlessPromotion()
	rendered.UsedHeadless = true

	e.logger.Debug("headless promotion applied", zap.String("url", request.URL))
	return rendered
}
