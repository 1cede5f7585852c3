package handlers_analytics

import (
	"errors"
	"net/http"
	"pixeltrack/internal/models/clanalytics"
	"pixeltrack/internal/models/clpixels"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxDays = 366

type AnalyticsHandler struct {
	service *clanalytics.AnalyticsService
	pixels  *clpixels.Store
}

func NewAnalyticsHandler(service *clanalytics.AnalyticsService, pixels *clpixels.Store) *AnalyticsHandler {
	return &AnalyticsHandler{
		service: service,
		pixels:  pixels,
	}
}

// GetDailyStats retourne les statistiques journalières, 30 jours par défaut
func (ah *AnalyticsHandler) GetDailyStats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days <= 0 || days > maxDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 366"})
		return
	}

	pixelID := c.Param("id")
	if !ah.pixelExists(c, pixelID) {
		return
	}

	stats, err := ah.service.GetDailyStats(c.Request.Context(), pixelID, days)
	if err != nil {
		log.Error().Err(err).Str("pixel_id", pixelID).Msg("failed to retrieve analytics")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve analytics",
		})
		return
	}

	var totals struct {
		Pageviews   int64 `json:"pageviews"`
		UniqueUsers int64 `json:"uniqueUsers"`
		Sessions    int64 `json:"sessions"`
	}
	for _, s := range stats {
		totals.Pageviews += s.Pageviews
		totals.UniqueUsers += s.UniqueUsers
		totals.Sessions += s.Sessions
	}

	c.JSON(http.StatusOK, gin.H{
		"pixelId": pixelID,
		"days":    days,
		"totals":  totals,
		"stats":   stats,
	})
}

// GetRealtimeStats retourne les compteurs Redis du jour
func (ah *AnalyticsHandler) GetRealtimeStats(c *gin.Context) {
	pixelID := c.Param("id")
	if !ah.pixelExists(c, pixelID) {
		return
	}

	stats, err := ah.service.GetRealtimeStats(c.Request.Context(), pixelID)
	if err != nil {
		log.Warn().Err(err).Str("pixel_id", pixelID).Msg("failed to retrieve realtime stats")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to retrieve realtime stats",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Invalidate force la relecture de la configuration du pixel après une modification
func (ah *AnalyticsHandler) Invalidate(c *gin.Context) {
	pixelID := c.Param("id")
	ah.pixels.Invalidate(c.Request.Context(), pixelID)
	log.Info().Str("pixel_id", pixelID).Msg("pixel cache invalidated")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (ah *AnalyticsHandler) pixelExists(c *gin.Context, pixelID string) bool {
	_, err := ah.pixels.Get(c.Request.Context(), pixelID)
	switch {
	case errors.Is(err, clpixels.ErrPixelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "pixel not found"})
		return false
	case err != nil:
		log.Error().Err(err).Str("pixel_id", pixelID).Msg("failed to load pixel")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load pixel"})
		return false
	}
	return true
}
