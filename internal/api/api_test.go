// Package api_test provides behavior tests for the admin API package.
package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/loadants/internal/api"
	"github.com/jroosing/loadants/internal/api/models"
	"github.com/jroosing/loadants/internal/cache"
	"github.com/jroosing/loadants/internal/config"
	"github.com/jroosing/loadants/internal/handler"
	"github.com/jroosing/loadants/internal/metrics"
	"github.com/jroosing/loadants/internal/router"
)

func testConfig() *config.Config {
	return &config.Config{
		API: config.APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8081,
			APIKey:  "",
		},
	}
}

func testCore(t *testing.T) *handler.Handler {
	t.Helper()
	rtr, err := router.Compile(nil, nil)
	require.NoError(t, err)
	met := metrics.New()
	c := cache.New(cache.Config{Enabled: true, MaxSize: 100}, met)
	return handler.New(rtr, c, nil, nil, met, time.Second)
}

func performRequest(r http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNew_CreatesServer(t *testing.T) {
	cfg := testConfig()
	server := api.New(cfg, testCore(t), metrics.New(), nil, nil, nil, nil)
	assert.NotNil(t, server)
}

func TestNew_PanicsOnNilConfig(t *testing.T) {
	assert.Panics(t, func() {
		api.New(nil, nil, nil, nil, nil, nil, nil)
	})
}

func TestServer_Addr(t *testing.T) {
	cfg := testConfig()
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 9090
	server := api.New(cfg, testCore(t), metrics.New(), nil, nil, nil, nil)
	assert.Equal(t, "0.0.0.0:9090", server.Addr())
}

func TestRoutes_HealthEndpoint(t *testing.T) {
	server := api.New(testConfig(), testCore(t), metrics.New(), nil, nil, nil, nil)
	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRoutes_StatsEndpoint(t *testing.T) {
	server := api.New(testConfig(), testCore(t), metrics.New(), nil, nil, nil, nil)
	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ServerStatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Uptime)
}

func TestRoutes_RulesEndpoint(t *testing.T) {
	server := api.New(testConfig(), testCore(t), metrics.New(), nil, nil, nil, nil)
	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/rules", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.RulesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.TotalRules)
}

func TestRoutes_ReloadRules_NoLoaderConfigured(t *testing.T) {
	server := api.New(testConfig(), testCore(t), metrics.New(), nil, nil, nil, nil)
	w := performRequest(server.Engine(), http.MethodPost, "/api/v1/rules/reload", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutes_WithAPIKey_ValidKey(t *testing.T) {
	cfg := testConfig()
	cfg.API.APIKey = "secret-key"
	server := api.New(cfg, testCore(t), metrics.New(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_WithAPIKey_InvalidKey(t *testing.T) {
	cfg := testConfig()
	cfg.API.APIKey = "secret-key"
	server := api.New(cfg, testCore(t), metrics.New(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_WithAPIKey_MissingKey(t *testing.T) {
	cfg := testConfig()
	cfg.API.APIKey = "secret-key"
	server := api.New(cfg, testCore(t), metrics.New(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoutes_NoAPIKey_NoAuth(t *testing.T) {
	cfg := testConfig()
	cfg.API.APIKey = ""
	server := api.New(cfg, testCore(t), metrics.New(), nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_MetricsEndpoint(t *testing.T) {
	server := api.New(testConfig(), testCore(t), metrics.New(), nil, nil, nil, nil)
	w := performRequest(server.Engine(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_SwaggerEndpoint(t *testing.T) {
	server := api.New(testConfig(), testCore(t), metrics.New(), nil, nil, nil, nil)
	w := performRequest(server.Engine(), http.MethodGet, "/swagger/index.html", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_NotFound(t *testing.T) {
	server := api.New(testConfig(), testCore(t), metrics.New(), nil, nil, nil, nil)
	w := performRequest(server.Engine(), http.MethodGet, "/api/v1/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Shutdown(t *testing.T) {
	cfg := testConfig()
	cfg.API.Port = 0
	server := api.New(cfg, testCore(t), metrics.New(), nil, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, server.Shutdown(ctx))
}
