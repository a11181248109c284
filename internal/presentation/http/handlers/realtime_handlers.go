package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lvsuno/citinfos-go/internal/application/services"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/messaging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/performance"
	"github.com/lvsuno/citinfos-go/pkg/config"
)

// RealtimeHandlers contains the websocket presence-stream handlers
type RealtimeHandlers struct {
	broadcaster messaging.Broadcaster
	tracker     *services.VisitorTrackerService
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewRealtimeHandlers creates realtime handlers with injected dependencies
func NewRealtimeHandlers(broadcaster messaging.Broadcaster, tracker *services.VisitorTrackerService, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *RealtimeHandlers {
	return &RealtimeHandlers{
		broadcaster: broadcaster,
		tracker:     tracker,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// Origin checks are delegated to the CORS layer; the socket itself accepts
// any origin that got this far.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is the structure for messages received from subscribers
type clientMessage struct {
	Type string `json:"type"`
}

// countReply is the on-demand count response pushed back to a subscriber
type countReply struct {
	Type        string    `json:"type"`
	CommunityID string    `json:"community_id"`
	Count       int64     `json:"count"`
	Timestamp   time.Time `json:"timestamp"`
}

// GetStream handles GET /api/v1/presence/:communityId/stream - upgrades to a
// websocket and relays presence events for one community.
func (h *RealtimeHandlers) GetStream(c *gin.Context) {
	communityID := c.Param("communityId")
	marker := h.perfTracker.StartOperation("presence_stream_connect", communityID)

	events, err := h.broadcaster.Subscribe(communityID)
	if err != nil {
		marker.SetError(err)
		marker.Complete()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscriber limit reached"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.broadcaster.Unsubscribe(communityID, events)
		marker.SetError(err)
		marker.Complete()
		h.logger.Realtime().Error("Websocket upgrade failed", "communityId", communityID, "error", err.Error())
		return
	}
	marker.SetSuccess(true)
	marker.Complete()

	h.logger.Realtime().Debug("Subscriber connected", "communityId", communityID, "subscribers", h.broadcaster.GetSubscriberCount(communityID))

	replies := make(chan string, 4)
	done := make(chan struct{})
	go h.writeLoop(conn, communityID, events, replies, done)

	h.readLoop(conn, communityID, replies)

	close(done)
	h.broadcaster.Unsubscribe(communityID, events)
	conn.Close()
	h.logger.Realtime().Debug("Subscriber disconnected", "communityId", communityID)
}

// writeLoop owns the connection's write side: broadcast events, on-demand
// count replies, and keepalive pings all funnel through here.
func (h *RealtimeHandlers) writeLoop(conn *websocket.Conn, communityID string, events chan string, replies chan string, done chan struct{}) {
	ping := time.NewTicker(time.Duration(config.WSPingIntervalSeconds) * time.Second)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case msg := <-replies:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readLoop consumes subscriber messages until the connection drops. The only
// recognized message is a count request; everything else is ignored.
func (h *RealtimeHandlers) readLoop(conn *websocket.Conn, communityID string, replies chan string) {
	conn.SetReadLimit(int64(config.WSReadLimitBytes))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "request_count" {
			continue
		}

		count, err := h.tracker.GetVisitorCount(context.Background(), communityID)
		if err != nil {
			h.logger.Realtime().Warn("Count request degraded", "communityId", communityID, "error", err.Error())
			count = 0
		}

		payload, err := json.Marshal(countReply{
			Type:        messaging.MessageVisitorCount,
			CommunityID: communityID,
			Count:       int64(count),
			Timestamp:   time.Now().UTC(),
		})
		if err != nil {
			continue
		}

		select {
		case replies <- string(payload):
		default:
			// Reply channel is saturated; the next request will answer.
		}
	}
}
