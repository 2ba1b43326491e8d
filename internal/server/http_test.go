package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMiddleware(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	t.Run("generates request ID when missing", func(t *testing.T) {
		rec := do(srv, http.MethodGet, "/health", "", nil)

		got := rec.Header().Get("X-Request-ID")
		require.NotEmpty(t, got)
		assert.Len(t, got, 36, "expected a UUID")
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		rec := do(srv, http.MethodGet, "/health", "", map[string]string{"X-Request-ID": "my-custom-id"})
		assert.Equal(t, "my-custom-id", rec.Header().Get("X-Request-ID"))
	})
}

func TestMetricsEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		config         *Config
		requestPath    string
		expectedStatus int
		expectBody     string
	}{
		{
			name:           "metrics enabled - default endpoint accessible",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "metrics enabled - empty endpoint defaults to /metrics",
			config:         &Config{MetricsEnabled: true},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "imgcache_cache_hits_total",
		},
		{
			name:           "metrics enabled - custom endpoint",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/monitoring/metrics"},
			requestPath:    "/monitoring/metrics",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "metrics enabled - path is cleaned",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/a/b/../c"},
			requestPath:    "/a/c",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "metrics enabled - reserved prefix falls back to /metrics",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/foo/../admin/v1/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "metrics disabled - endpoint not found",
			config:         &Config{MetricsEnabled: false},
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "metrics stay public with a master key",
			config:         &Config{MasterKey: "secret", MetricsEnabled: true},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t, tt.config)

			rec := do(srv, http.MethodGet, tt.requestPath, "", nil)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectBody != "" {
				assert.Contains(t, rec.Body.String(), tt.expectBody)
			}
		})
	}
}

func TestMetricsPath(t *testing.T) {
	assert.Equal(t, "/metrics", metricsPath(""))
	assert.Equal(t, "/ops/metrics", metricsPath("ops/metrics"))
	assert.Equal(t, "/metrics", metricsPath("/v1"))
	assert.Equal(t, "/metrics", metricsPath("/v1/images"))
	assert.Equal(t, "/v1metrics", metricsPath("/v1metrics"))
}

func TestConfigurableBodySizeLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, &Config{BodySizeLimit: "64B"})

	small := `{"urls":["` + logoURL + `"]}`
	require.Less(t, len(small), 64)
	rec := do(srv, http.MethodPost, "/v1/images/preload", small, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	large := `{"urls":["` + strings.Repeat("a", 100) + `"]}`
	rec = do(srv, http.MethodPost, "/v1/images/preload", large, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
