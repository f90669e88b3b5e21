package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wildtrace/tigerwatch/internal/pipeline"
)

type fixedTrigger struct{ n int64 }

func (f fixedTrigger) Triggered() int64 { return f.n }

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv := NewServer(&pipeline.Stats{}, fixedTrigger{}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		require.NoError(t, resp.Body.Close())
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	stats := &pipeline.Stats{}
	stats.ImagesProcessed.Add(7)
	stats.NewIndividuals.Add(2)

	srv := NewServer(stats, fixedTrigger{n: 3}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, int64(7), body["images_processed"])
	require.Equal(t, int64(2), body["new_individuals"])
	require.Equal(t, int64(3), body["investigations_triggered"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := NewServer(&pipeline.Stats{}, fixedTrigger{}, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
}
