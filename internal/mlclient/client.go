// Package mlclient adapts the external detection, embedding and vector
// search services to the core interfaces. All three speak JSON over
// HTTP with base64-encoded image payloads.
package mlclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/discovery"
)

// maxResponseBytes bounds a single service response.
const maxResponseBytes = 8 << 20

// Config holds the ML service endpoints.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the ML services. It implements discovery.Detector,
// discovery.Embedder and discovery.VectorSearch.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ml service base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

type detectRequest struct {
	ImageBase64         string  `json:"image_base64"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

type detectResponse struct {
	Detections []struct {
		BBox       [4]float64 `json:"bbox"`
		BoxFormat  string     `json:"box_format"`
		Confidence float64    `json:"confidence"`
		Category   string     `json:"category"`
	} `json:"detections"`
	Success bool `json:"success"`
}

// Detect locates subjects in the image.
func (c *Client) Detect(ctx context.Context, imageBytes []byte, confidenceThreshold float64) (discovery.DetectionResult, error) {
	var resp detectResponse
	err := c.post(ctx, "/detect", detectRequest{
		ImageBase64:         base64.StdEncoding.EncodeToString(imageBytes),
		ConfidenceThreshold: confidenceThreshold,
	}, &resp)
	if err != nil {
		return discovery.DetectionResult{}, err
	}

	result := discovery.DetectionResult{Success: resp.Success}
	for _, d := range resp.Detections {
		result.Detections = append(result.Detections, discovery.Detection{
			Box:        d.BBox,
			Format:     discovery.BoxFormat(d.BoxFormat),
			Confidence: d.Confidence,
			Category:   d.Category,
		})
	}
	return result, nil
}

type embedRequest struct {
	ImageBase64 string `json:"image_base64"`
}

// Embed produces the identity vector for a cropped subject image.
func (c *Client) Embed(ctx context.Context, imageBytes []byte) (discovery.EmbeddingResult, error) {
	var resp discovery.EmbeddingResult
	err := c.post(ctx, "/embed", embedRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageBytes),
	}, &resp)
	if err != nil {
		return discovery.EmbeddingResult{}, err
	}
	return resp, nil
}

type matchRequest struct {
	Embedding     []float32 `json:"embedding"`
	TopK          int       `json:"top_k"`
	MinSimilarity float64   `json:"min_similarity"`
}

type matchResponse struct {
	Matches []discovery.Match `json:"matches"`
}

// FindMatches returns the nearest known individuals, similarity
// descending.
func (c *Client) FindMatches(ctx context.Context, embedding []float32, topK int, minSimilarity float64) ([]discovery.Match, error) {
	var resp matchResponse
	err := c.post(ctx, "/search", matchRequest{
		Embedding:     embedding,
		TopK:          topK,
		MinSimilarity: minSimilarity,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on read path

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
