package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingLimiter struct {
	mu        sync.Mutex
	waits     int
	successes int
	errors    []int
}

func (l *recordingLimiter) WaitForSlot(_ context.Context, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return nil
}

func (l *recordingLimiter) ReportError(_ string, status int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, status)
}

func (l *recordingLimiter) ReportSuccess(_ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successes++
}

func TestSearchImages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/images", r.URL.Path)
		require.Equal(t, "Riverbend Sanctuary tiger", r.URL.Query().Get("q"))
		require.Equal(t, "20", r.URL.Query().Get("max"))
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"images": [
			{"url": "https://images.example/a.jpg", "title": "Tiger", "source": "https://news.example"},
			{"url": "https://images.example/b.jpg", "title": "Cub", "source": "https://blog.example"}
		]}`))
	}))
	defer srv.Close()

	limiter := &recordingLimiter{}
	c, err := New(Config{BaseURL: srv.URL, APIKey: "test-key"}, limiter, zap.NewNop())
	require.NoError(t, err)

	images, err := c.SearchImages(context.Background(), "Riverbend Sanctuary tiger", 20)
	require.NoError(t, err)
	require.Len(t, images, 2)
	require.Equal(t, "https://images.example/a.jpg", images[0].URL)
	require.Equal(t, 1, limiter.waits)
	require.Equal(t, 1, limiter.successes)
}

func TestSearchImagesErrorStatusReported(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	limiter := &recordingLimiter{}
	c, err := New(Config{BaseURL: srv.URL}, limiter, zap.NewNop())
	require.NoError(t, err)

	_, err = c.SearchImages(context.Background(), "query", 10)
	require.Error(t, err)
	require.Equal(t, []int{http.StatusTooManyRequests}, limiter.errors)
}

func TestSearchImagesTruncatesToMax(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"images": [
			{"url": "https://images.example/a.jpg"},
			{"url": "https://images.example/b.jpg"},
			{"url": "https://images.example/c.jpg"}
		]}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, &recordingLimiter{}, zap.NewNop())
	require.NoError(t, err)

	images, err := c.SearchImages(context.Background(), "query", 2)
	require.NoError(t, err)
	require.Len(t, images, 2)
}
