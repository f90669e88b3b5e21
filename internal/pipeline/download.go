package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// maxImageBytes bounds a single image download.
const maxImageBytes = 20 << 20

// Downloader fetches raw image bytes.
type Downloader interface {
	Download(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// HTTPDownloader downloads images over plain HTTP GET behind the
// per-domain rate limiter.
type HTTPDownloader struct {
	client    *http.Client
	limiter   discovery.RateLimiter
	userAgent string
}

// NewHTTPDownloader builds a Downloader with the given timeout.
func NewHTTPDownloader(limiter discovery.RateLimiter, userAgent string, timeout time.Duration) *HTTPDownloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDownloader{
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		userAgent: userAgent,
	}
}

// Download fetches the URL and returns body bytes plus the response
// content type. Failures are reported to the rate limiter.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	if err := d.limiter.WaitForSlot(ctx, url); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.limiter.ReportError(url, 0)
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on read path

	if resp.StatusCode != http.StatusOK {
		d.limiter.ReportError(url, resp.StatusCode)
		return nil, "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		d.limiter.ReportError(url, 0)
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	d.limiter.ReportSuccess(url)
	return data, resp.Header.Get("Content-Type"), nil
}
