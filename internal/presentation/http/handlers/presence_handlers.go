// Package handlers provides HTTP request handlers for the presentation layer.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lvsuno/citinfos-go/internal/application/services"
	"github.com/lvsuno/citinfos-go/internal/domain/community"
	"github.com/lvsuno/citinfos-go/internal/domain/presence"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/messaging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/performance"
	"github.com/lvsuno/citinfos-go/internal/presentation/http/middleware"
)

// PresenceHandlers contains all live-presence HTTP handlers
type PresenceHandlers struct {
	tracker     *services.VisitorTrackerService
	directory   community.Directory
	broadcaster messaging.Broadcaster
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewPresenceHandlers creates presence handlers with injected dependencies
func NewPresenceHandlers(tracker *services.VisitorTrackerService, directory community.Directory, broadcaster messaging.Broadcaster, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *PresenceHandlers {
	return &PresenceHandlers{
		tracker:     tracker,
		directory:   directory,
		broadcaster: broadcaster,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// JoinRequest represents the structure for presence join requests
type JoinRequest struct {
	CommunityID    string  `json:"communityId" binding:"required"`
	HomeDivisionID *string `json:"homeDivisionId,omitempty"`
	Fingerprint    string  `json:"fingerprint,omitempty"`
}

// JoinResponse represents the response structure for presence join requests
type JoinResponse struct {
	Count         int    `json:"count"`
	CrossDivision bool   `json:"crossDivision"`
	Invalid       bool   `json:"invalid,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// LeaveRequest represents the structure for presence leave requests
type LeaveRequest struct {
	CommunityID string `json:"communityId" binding:"required"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// HeartbeatRequest represents the structure for presence heartbeat requests
type HeartbeatRequest struct {
	CommunityID string `json:"communityId" binding:"required"`
	Fingerprint string `json:"fingerprint,omitempty"`
	PageView    bool   `json:"pageView,omitempty"`
}

// PostJoin handles POST /api/v1/presence/join
func (h *PresenceHandlers) PostJoin(c *gin.Context) {
	start := time.Now()
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	marker := h.perfTracker.StartOperation("post_join_request", req.CommunityID)
	defer marker.Complete()
	h.logger.Presence().Debug("Received join request", "communityId", req.CommunityID, "path", c.Request.URL.Path)

	userID := middleware.GetUserID(c)
	input := &services.AddVisitorInput{
		UserID:              userID,
		CommunityID:         req.CommunityID,
		HomeDivisionID:      req.HomeDivisionID,
		CommunityDivisionID: h.communityDivision(req.CommunityID),
		IsAuthenticated:     userID != "",
		DeviceFingerprint:   req.Fingerprint,
		IPAddress:           c.ClientIP(),
		UserAgent:           c.Request.UserAgent(),
	}

	result, err := h.tracker.AddVisitor(c.Request.Context(), input)
	if err != nil {
		if presence.IsStoreUnavailable(err) {
			h.logger.Presence().Warn("Join degraded to zero count", "communityId", req.CommunityID, "error", err.Error())
			marker.SetSuccess(true)
			c.JSON(http.StatusOK, JoinResponse{})
			return
		}
		marker.SetError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence update failed"})
		return
	}
	if result.Invalid {
		marker.SetSuccess(true)
		c.JSON(http.StatusBadRequest, JoinResponse{Invalid: true, InvalidReason: result.InvalidReason})
		return
	}

	h.broadcaster.Publish(req.CommunityID, messaging.EventVisitorJoined, int64(result.Count), 1)

	marker.SetSuccess(true)
	h.logger.Perf().Info("Performance for PostJoin request", "duration", time.Since(start), "communityId", req.CommunityID, "success", true)
	c.JSON(http.StatusOK, JoinResponse{Count: result.Count, CrossDivision: result.CrossDivision})
}

// PostLeave handles POST /api/v1/presence/leave
func (h *PresenceHandlers) PostLeave(c *gin.Context) {
	var req LeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	marker := h.perfTracker.StartOperation("post_leave_request", req.CommunityID)
	defer marker.Complete()

	identity, ok := h.requestIdentity(c, req.Fingerprint)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing identity"})
		return
	}

	count := h.tracker.RemoveVisitor(c.Request.Context(), identity, req.CommunityID)
	h.broadcaster.Publish(req.CommunityID, messaging.EventVisitorLeft, int64(count), -1)

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// PostHeartbeat handles POST /api/v1/presence/heartbeat
func (h *PresenceHandlers) PostHeartbeat(c *gin.Context) {
	var req HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	marker := h.perfTracker.StartOperation("post_heartbeat_request", req.CommunityID)
	defer marker.Complete()

	identity, ok := h.requestIdentity(c, req.Fingerprint)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing identity"})
		return
	}

	err := h.tracker.Heartbeat(c.Request.Context(), identity, req.CommunityID, req.PageView)
	switch {
	case err == nil:
		marker.SetSuccess(true)
		c.JSON(http.StatusOK, gin.H{"active": true})
	case errors.Is(err, presence.ErrNotFound):
		// The entry expired; the client should re-join.
		marker.SetSuccess(true)
		c.JSON(http.StatusNotFound, gin.H{"active": false, "rejoin": true})
	case presence.IsStoreUnavailable(err):
		h.logger.Presence().Warn("Heartbeat degraded", "communityId", req.CommunityID, "error", err.Error())
		marker.SetSuccess(true)
		c.JSON(http.StatusOK, gin.H{"active": false})
	default:
		marker.SetError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "heartbeat failed"})
	}
}

// GetPresence handles GET /api/v1/presence/:communityId and returns the live
// stats bundle. Store outages degrade every section to zero values.
func (h *PresenceHandlers) GetPresence(c *gin.Context) {
	communityID := c.Param("communityId")
	marker := h.perfTracker.StartOperation("get_presence_request", communityID)
	defer marker.Complete()

	ctx := c.Request.Context()

	stats, err := h.tracker.GetVisitorStats(ctx, communityID)
	if err != nil {
		h.degrade(communityID, "visitor stats", err)
		stats = &presence.VisitorStats{}
	}
	divisions, err := h.tracker.GetDivisionBreakdown(ctx, communityID)
	if err != nil {
		h.degrade(communityID, "division breakdown", err)
		divisions = map[string]int{}
	}
	crossDivision, err := h.tracker.GetCrossDivisionStats(ctx, communityID)
	if err != nil {
		h.degrade(communityID, "cross-division stats", err)
		crossDivision = &presence.CrossDivisionStats{}
	}
	peaks, err := h.tracker.GetPeakCounts(ctx, communityID)
	if err != nil {
		h.degrade(communityID, "peak counts", err)
		peaks = &presence.PeakCounts{}
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{
		"communityId":   communityID,
		"stats":         stats,
		"divisions":     divisions,
		"crossDivision": crossDivision,
		"peaks":         peaks,
	})
}

// GetVisitors handles GET /api/v1/presence/:communityId/visitors
func (h *PresenceHandlers) GetVisitors(c *gin.Context) {
	communityID := c.Param("communityId")
	marker := h.perfTracker.StartOperation("get_visitors_request", communityID)
	defer marker.Complete()

	visitors, err := h.tracker.GetVisitorList(c.Request.Context(), communityID)
	if err != nil {
		h.degrade(communityID, "visitor list", err)
		visitors = []*presence.VisitorEntry{}
	}

	marker.SetSuccess(true)
	c.JSON(http.StatusOK, gin.H{"communityId": communityID, "visitors": visitors, "count": len(visitors)})
}

// requestIdentity resolves the visitor identity for leave/heartbeat calls
// from the auth middleware or the supplied fingerprint.
func (h *PresenceHandlers) requestIdentity(c *gin.Context, fingerprint string) (presence.Identity, bool) {
	if userID := middleware.GetUserID(c); userID != "" {
		return presence.Identity(userID), true
	}
	if fingerprint != "" {
		return presence.AnonymousIdentity(fingerprint), true
	}
	return "", false
}

// communityDivision looks up the community's division for cross-division
// detection. Unknown communities join without one.
func (h *PresenceHandlers) communityDivision(communityID string) *string {
	division, err := h.directory.CommunityDivision(communityID)
	if err != nil {
		if !errors.Is(err, community.ErrUnknownCommunity) {
			h.logger.Presence().Warn("Community division lookup failed", "communityId", communityID, "error", err.Error())
		}
		return nil
	}
	return division
}

func (h *PresenceHandlers) degrade(communityID, what string, err error) {
	if presence.IsStoreUnavailable(err) {
		h.logger.Presence().Warn("Presence read degraded", "communityId", communityID, "what", what, "error", err.Error())
		return
	}
	h.logger.Presence().Error("Presence read failed", "communityId", communityID, "what", what, "error", err.Error())
}
