package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"pixeltrack/internal/models/clanalytics"
	"pixeltrack/internal/models/clconfig"
	"pixeltrack/internal/models/clpixeltrack"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============= Setup =============

func setupTestConfig(t *testing.T) *clconfig.Config {
	c := &clconfig.Config{
		Production: false,
		Database: clconfig.DatabaseConfig{
			Db:   "sqlite",
			Path: filepath.Join(t.TempDir(), "pixeltrack.db"),
		},
		Logger: clconfig.LoggerConfig{Level: "error"},
		Admin:  clconfig.AdminConfig{Token: "admin-secret"},
		Pixels: []clconfig.PixelConfig{
			{ID: "demo", Shop: "demo.myshopify.com", Name: "Demo"},
		},
	}
	clconfig.ApplyDefaults(c)
	return c
}

func setupTestServer(t *testing.T, config *clconfig.Config) (*gin.Engine, *clpixeltrack.Pixeltrack) {
	gin.SetMode(gin.TestMode)

	pt, err := clpixeltrack.Init(context.Background(), config, VERSION, "test")
	require.NoError(t, err)
	t.Cleanup(pt.Close)

	r := newServer(config)
	require.NoError(t, setRoutes(r, pt))
	return r, pt
}

func doRequest(r *gin.Engine, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ============= Tests =============

func TestTrackWorkflow(t *testing.T) {
	r, pt := setupTestServer(t, setupTestConfig(t))

	for _, name := range []string{"pageview", "page_view", "add_to_cart"} {
		body := fmt.Sprintf(`{"pixelId":"demo","eventName":%q,"sessionId":"s-1","fingerprint":"fp"}`, name)
		w := doRequest(r, http.MethodPost, "/api/track", body, map[string]string{"Content-Type": "text/plain"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := doRequest(r, http.MethodPost, "/track", `{"pixelId":"demo","eventName":"pageview","sessionId":"s-2"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	stats, err := pt.Analytics.GetDailyStats(context.Background(), "demo", 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, int64(3), stats[0].Pageviews)
	assert.Equal(t, int64(2), stats[0].Sessions)
	assert.Equal(t, int64(2), stats[0].UniqueUsers)
}

func TestTrackConcurrentSessions(t *testing.T) {
	r, pt := setupTestServer(t, setupTestConfig(t))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"pixelId":"demo","eventName":"pageview","sessionId":"s-%d"}`, i)
			w := doRequest(r, http.MethodPost, "/api/track", body, nil)
			assert.Equal(t, http.StatusOK, w.Code)
		}(i)
	}
	wg.Wait()

	var stat clanalytics.DailyStat
	require.NoError(t, pt.Db.Where("pixel_id = ?", "demo").First(&stat).Error)
	assert.Equal(t, int64(50), stat.Sessions)
	assert.Equal(t, int64(50), stat.UniqueUsers)
}

func TestTrackErrors(t *testing.T) {
	r, pt := setupTestServer(t, setupTestConfig(t))

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"missing event name", http.MethodPost, `{"pixelId":"demo"}`, http.StatusBadRequest},
		{"missing pixel", http.MethodPost, `{"eventName":"pageview"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, `not json`, http.StatusBadRequest},
		{"unknown pixel", http.MethodPost, `{"pixelId":"ghost","eventName":"pageview"}`, http.StatusNotFound},
		{"method not allowed", http.MethodPut, `{}`, http.StatusMethodNotAllowed},
		{"method not allowed delete", http.MethodDelete, ``, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, tt.method, "/api/track", tt.body, nil)
			assert.Equal(t, tt.status, w.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, false, resp["success"])
		})
	}

	var count int64
	pt.Db.Model(&clanalytics.Event{}).Count(&count)
	assert.Zero(t, count)
}

func TestTrackPreflight(t *testing.T) {
	r, _ := setupTestServer(t, setupTestConfig(t))

	w := doRequest(r, http.MethodOptions, "/api/track", "", map[string]string{
		"Origin":                        "https://demo.myshopify.com",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatsRoutes(t *testing.T) {
	r, _ := setupTestServer(t, setupTestConfig(t))

	w := doRequest(r, http.MethodPost, "/api/track", `{"pixelId":"demo","eventName":"pageview","sessionId":"s"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/api/pixels/demo/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	auth := map[string]string{"Authorization": "Bearer admin-secret"}
	w = doRequest(r, http.MethodGet, "/api/pixels/demo/stats?days=7", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessions":1`)

	w = doRequest(r, http.MethodPost, "/api/pixels/demo/invalidate", "", auth)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/api/pixels/demo/realtime", "", auth)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "no redis configured")
}

func TestHealth(t *testing.T) {
	r, _ := setupTestServer(t, setupTestConfig(t))

	w := doRequest(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), VERSION)

	w = doRequest(r, http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidRateLimit(t *testing.T) {
	config := setupTestConfig(t)
	pt, err := clpixeltrack.Init(context.Background(), config, VERSION, "test")
	require.NoError(t, err)
	t.Cleanup(pt.Close)

	config.Tracking.RateLimit = "lots"
	assert.Error(t, setRoutes(newServer(config), pt))
}

func TestNewServerTrustedPlatform(t *testing.T) {
	config := setupTestConfig(t)
	config.TrustedPlatform = "cloudflare"
	assert.Equal(t, gin.PlatformCloudflare, newServer(config).TrustedPlatform)

	config.TrustedPlatform = "X-Real-Client"
	assert.Equal(t, "X-Real-Client", newServer(config).TrustedPlatform)
}
