// Package collyfetcher implements discovery.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// DefaultUserAgent is a browser-like UA; several facility sites serve
// stripped pages to obvious bot agents.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements discovery.Fetcher using the Colly collector.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.SetRequestTimeout(cfg.Timeout)
	c.AllowURLRevisit = true
	return &Fetcher{cfg: cfg, base: c}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request discovery.FetchRequest) (discovery.FetchResponse, error) {
	var (
		result   discovery.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := f.base.Clone()
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", f.cfg.UserAgent)
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,image/avif,image/webp,*/*;q=0.8")
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = discovery.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headerCopy(r.Headers),
			Body:       r.Body,
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		result = discovery.FetchResponse{
			URL:        request.URL,
			StatusCode: r.StatusCode,
			Duration:   time.Since(start),
		}
		fetchErr = err
	})

	if err := f.visit(ctx, collector, request.URL); err != nil {
		return result, err
	}
	if fetchErr != nil {
		return result, fmt.Errorf("fetch %s: %w", request.URL, fetchErr)
	}
	return result, nil
}

// visit runs the collector while honoring context cancellation; colly
// itself has no context-aware entry point.
func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		if err := collector.Visit(url); err != nil {
			done <- err
			return
		}
		collector.Wait()
		done <- nil
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func headerCopy(src *http.Header) http.Header {
	if src == nil {
		return http.Header{}
	}
	dst := make(http.Header, len(*src))
	for k, values := range *src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}
