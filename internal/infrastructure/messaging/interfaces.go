// Package messaging defines interfaces for real-time communication.
package messaging

import "time"

// Event kinds carried on the realtime channel.
const (
	EventVisitorJoined      = "visitor_joined"
	EventVisitorLeft        = "visitor_left"
	EventVisitorCountUpdate = "visitor_count_update"
)

// MessageVisitorCount answers a subscriber's on-demand count request.
const MessageVisitorCount = "visitor_count"

// PresenceEvent is the wire envelope delivered to realtime subscribers.
type PresenceEvent struct {
	Type        string    `json:"type"`
	CommunityID string    `json:"community_id"`
	Count       int64     `json:"count"`
	Change      int       `json:"change"`
	Timestamp   time.Time `json:"timestamp"`
}

// Broadcaster defines the interface for managing realtime subscribers and
// publishing presence events per community channel.
type Broadcaster interface {
	Subscribe(communityID string) (chan string, error)
	Unsubscribe(communityID string, ch chan string)
	GetSubscriberCount(communityID string) int
	Publish(communityID, eventType string, count int64, change int)
}
