package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lvsuno/citinfos-go/internal/application/services"
	"github.com/lvsuno/citinfos-go/internal/domain/analytics"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/performance"
)

// AnalyticsHandlers contains all historical-analytics HTTP handlers
type AnalyticsHandlers struct {
	analyticsService *services.VisitorAnalyticsService
	logger           *logging.ChanneledLogger
	perfTracker      *performance.Tracker
}

// NewAnalyticsHandlers creates analytics handlers with injected dependencies
func NewAnalyticsHandlers(analyticsService *services.VisitorAnalyticsService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		analyticsService: analyticsService,
		logger:           logger,
		perfTracker:      perfTracker,
	}
}

// GetUniqueVisitors handles GET /api/v1/analytics/:communityId/unique-visitors
func (h *AnalyticsHandlers) GetUniqueVisitors(c *gin.Context) {
	communityID := c.Param("communityId")
	marker := h.perfTracker.StartOperation("get_unique_visitors_request", communityID)
	defer marker.Complete()

	start, end, ok := parseRange(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
		return
	}

	visitors, err := h.analyticsService.GetUniqueVisitors(c.Request.Context(), communityID, start, end)
	if err != nil {
		marker.SetError(err)
		h.logger.Analytics().Error("Unique visitor query failed", "communityId", communityID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics query failed"})
		return
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"communityId": communityID, "start": start, "end": end, "visitors": visitors})
}

// GetDivisionBreakdown handles GET /api/v1/analytics/:communityId/division-breakdown
func (h *AnalyticsHandlers) GetDivisionBreakdown(c *gin.Context) {
	communityID := c.Param("communityId")
	marker := h.perfTracker.StartOperation("get_division_breakdown_request", communityID)
	defer marker.Complete()

	start, end, ok := parseRange(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
		return
	}

	breakdown, err := h.analyticsService.GetDivisionBreakdown(c.Request.Context(), communityID, start, end)
	if err != nil {
		if errors.Is(err, analytics.ErrCommunityNotFound) {
			marker.SetSuccess(true)
			c.JSON(http.StatusNotFound, gin.H{"error": "community not found"})
			return
		}
		marker.SetError(err)
		h.logger.Analytics().Error("Division breakdown query failed", "communityId", communityID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics query failed"})
		return
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"communityId": communityID, "start": start, "end": end, "breakdown": breakdown})
}

// GetTrends handles GET /api/v1/analytics/:communityId/trends
func (h *AnalyticsHandlers) GetTrends(c *gin.Context) {
	communityID := c.Param("communityId")
	marker := h.perfTracker.StartOperation("get_trends_request", communityID)
	defer marker.Complete()

	days := parseDays(c, 7)
	granularity := analytics.TrendGranularity(c.DefaultQuery("granularity", string(analytics.TrendDaily)))

	trends, err := h.analyticsService.GetVisitorTrends(c.Request.Context(), communityID, days, granularity)
	if err != nil {
		marker.SetError(err)
		h.logger.Analytics().Error("Trend query failed", "communityId", communityID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics query failed"})
		return
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"communityId": communityID, "days": days, "granularity": granularity, "trends": trends})
}

// GetConversionMetrics handles GET /api/v1/analytics/conversion
func (h *AnalyticsHandlers) GetConversionMetrics(c *gin.Context) {
	marker := h.perfTracker.StartOperation("get_conversion_metrics_request", "")
	defer marker.Complete()

	start, end, ok := parseRange(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
		return
	}

	metrics, err := h.analyticsService.GetConversionMetrics(c.Request.Context(), start, end)
	if err != nil {
		marker.SetError(err)
		h.logger.Analytics().Error("Conversion metrics query failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics query failed"})
		return
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"start": start, "end": end, "metrics": metrics})
}

// GetDemographics handles GET /api/v1/analytics/:communityId/demographics
func (h *AnalyticsHandlers) GetDemographics(c *gin.Context) {
	communityID := c.Param("communityId")
	marker := h.perfTracker.StartOperation("get_demographics_request", communityID)
	defer marker.Complete()

	start, end, ok := parseRange(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
		return
	}

	demographics, err := h.analyticsService.GetVisitorDemographics(c.Request.Context(), communityID, start, end)
	if err != nil {
		marker.SetError(err)
		h.logger.Analytics().Error("Demographics query failed", "communityId", communityID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics query failed"})
		return
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"communityId": communityID, "start": start, "end": end, "demographics": demographics})
}

// GetRealtime handles GET /api/v1/analytics/:communityId/realtime
func (h *AnalyticsHandlers) GetRealtime(c *gin.Context) {
	communityID := c.Param("communityId")
	marker := h.perfTracker.StartOperation("get_realtime_request", communityID)
	defer marker.Complete()

	realtime := h.analyticsService.GetRealtimeVisitors(c.Request.Context(), communityID)

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"communityId": communityID, "realtime": realtime})
}

// GetGrowthRate handles GET /api/v1/analytics/:communityId/growth
func (h *AnalyticsHandlers) GetGrowthRate(c *gin.Context) {
	communityID := c.Param("communityId")
	marker := h.perfTracker.StartOperation("get_growth_rate_request", communityID)
	defer marker.Complete()

	days := parseDays(c, 30)

	growth, err := h.analyticsService.GetVisitorGrowthRate(c.Request.Context(), communityID, days)
	if err != nil {
		marker.SetError(err)
		h.logger.Analytics().Error("Growth rate query failed", "communityId", communityID, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics query failed"})
		return
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"communityId": communityID, "growth": growth})
}

// parseRange resolves the query time range: explicit RFC3339 start/end when
// both are supplied, otherwise the trailing "days" window (default 30).
func parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	startStr := c.Query("start")
	endStr := c.Query("end")
	if startStr != "" || endStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, false
		}
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil || end.Before(start) {
			return time.Time{}, time.Time{}, false
		}
		return start, end, true
	}

	days := parseDays(c, 30)
	end := time.Now().UTC()
	return end.AddDate(0, 0, -days), end, true
}

func parseDays(c *gin.Context, defaultDays int) int {
	if v := c.Query("days"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			return days
		}
	}
	return defaultDays
}
