package handlers_analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"pixeltrack/internal/models/clanalytics"
	"pixeltrack/internal/models/clcache"
	"pixeltrack/internal/models/clpixels"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type env struct {
	db      *gorm.DB
	service *clanalytics.AnalyticsService
	router  *gin.Engine
}

func setup(t *testing.T) *env {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(append(clanalytics.Models(), &clpixels.Pixel{}, &clpixels.CustomEvent{})...))
	require.NoError(t, db.Create(&clpixels.Pixel{ID: "shop", Name: "Shop"}).Error)

	service := clanalytics.NewAnalyticsService(db, nil)
	store := clpixels.NewStore(db, clcache.NewMemory(time.Minute), time.Minute)
	handler := NewAnalyticsHandler(service, store)

	r := gin.New()
	r.GET("/api/pixels/:id/stats", handler.GetDailyStats)
	r.GET("/api/pixels/:id/realtime", handler.GetRealtimeStats)
	r.POST("/api/pixels/:id/invalidate", handler.Invalidate)
	return &env{db: db, service: service, router: r}
}

func (e *env) do(method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestGetDailyStats(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, e.service.IncrementDaily(ctx, "shop", now, true, true))
	require.NoError(t, e.service.IncrementDaily(ctx, "shop", now, true, false))
	require.NoError(t, e.service.IncrementDaily(ctx, "shop", now.AddDate(0, 0, -1), true, true))

	w := e.do(http.MethodGet, "/api/pixels/shop/stats?days=7")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Days   int `json:"days"`
		Totals struct {
			Pageviews int64 `json:"pageviews"`
			Sessions  int64 `json:"sessions"`
		} `json:"totals"`
		Stats []clanalytics.DailyStat `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 7, body.Days)
	assert.Len(t, body.Stats, 2)
	assert.Equal(t, int64(3), body.Totals.Pageviews)
	assert.Equal(t, int64(2), body.Totals.Sessions)
}

func TestGetDailyStatsErrors(t *testing.T) {
	e := setup(t)

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/pixels/shop/stats?days=abc").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/pixels/shop/stats?days=0").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/pixels/ghost/stats").Code)
}

func TestGetRealtimeStatsWithoutRedis(t *testing.T) {
	e := setup(t)

	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodGet, "/api/pixels/shop/realtime").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/pixels/ghost/realtime").Code)
}

func TestInvalidate(t *testing.T) {
	e := setup(t)

	// met le pixel en cache
	require.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/pixels/shop/stats").Code)

	require.NoError(t, e.db.Delete(&clpixels.Pixel{ID: "shop"}).Error)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/pixels/shop/stats").Code, "served from cache")

	w := e.do(http.MethodPost, "/api/pixels/shop/invalidate")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/pixels/shop/stats").Code)
}
