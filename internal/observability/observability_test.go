package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DCNick3/unsafe-track/internal/observability"
)

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	observability.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyHandler_AllPass(t *testing.T) {
	t.Parallel()

	handler := observability.ReadyHandler(
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandler_Failure(t *testing.T) {
	t.Parallel()

	handler := observability.ReadyHandler(
		func(context.Context) error { return nil },
		func(context.Context) error { return errors.New("cache offline") },
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestMetrics_Scrape(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics()
	metrics.ObserveRun(observability.OutcomeOK, 2*time.Second, 4096, 17)
	metrics.ObserveRun(observability.OutcomeFetchError, 0, 0, 0)
	metrics.ObserveCache(5, 12)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `unsafe_track_runs_total{outcome="ok"} 1`)
	assert.Contains(t, body, `unsafe_track_runs_total{outcome="fetch_error"} 1`)
	assert.Contains(t, body, "unsafe_track_blobs_analyzed_total 17")
	assert.Contains(t, body, "unsafe_track_result_cache_hits_total 5")
	assert.Contains(t, body, "unsafe_track_result_cache_misses_total 12")
}

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := observability.Init(observability.Config{LogLevel: "debug"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	require.NoError(t, shutdown(t.Context()))
}
