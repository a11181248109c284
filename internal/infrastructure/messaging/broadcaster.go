// Package messaging provides the concrete implementation of the presence broadcaster.
package messaging

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/pkg/config"
)

// ErrChannelFull signals that a community channel has reached its
// subscriber cap and no further subscriptions are accepted.
var ErrChannelFull = errors.New("messaging: subscriber limit reached for channel")

// PresenceBroadcaster manages community-scoped realtime subscriptions.
// Delivery is fan-out with per-subscriber buffering; a slow subscriber
// has events dropped rather than blocking the publisher.
type PresenceBroadcaster struct {
	channels map[string][]chan string // communityId -> subscriber channels
	mu       sync.Mutex
	logger   *logging.ChanneledLogger
	clock    func() time.Time
}

// NewPresenceBroadcaster creates a new PresenceBroadcaster instance.
func NewPresenceBroadcaster(logger *logging.ChanneledLogger) *PresenceBroadcaster {
	return &PresenceBroadcaster{
		channels: make(map[string][]chan string),
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source. Used by tests.
func (b *PresenceBroadcaster) SetClock(clock func() time.Time) {
	b.mu.Lock()
	b.clock = clock
	b.mu.Unlock()
}

// Subscribe registers a new realtime subscriber on a community channel.
func (b *PresenceBroadcaster) Subscribe(communityID string) (chan string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.channels[communityID]) >= config.MaxSubscribersPerChannel {
		b.logger.Realtime().Warn("Subscriber limit reached", "communityId", communityID, "limit", config.MaxSubscribersPerChannel)
		return nil, ErrChannelFull
	}

	ch := make(chan string, config.SubscriberBufferSize)
	b.channels[communityID] = append(b.channels[communityID], ch)

	b.logger.Realtime().Debug("Realtime subscriber registered", "communityId", communityID, "subscribers", len(b.channels[communityID]))
	return ch, nil
}

// Unsubscribe removes a realtime subscriber from a community channel and
// closes its delivery channel.
func (b *PresenceBroadcaster) Unsubscribe(communityID string, ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, exists := b.channels[communityID]
	if !exists {
		return
	}

	newSubscribers := make([]chan string, 0, len(subscribers))
	removed := false
	for _, subscriber := range subscribers {
		if subscriber == ch {
			removed = true
			continue
		}
		newSubscribers = append(newSubscribers, subscriber)
	}
	if !removed {
		return
	}
	close(ch)

	if len(newSubscribers) == 0 {
		delete(b.channels, communityID)
	} else {
		b.channels[communityID] = newSubscribers
	}

	b.logger.Realtime().Debug("Realtime subscriber unregistered", "communityId", communityID, "subscribers", len(newSubscribers))
}

// GetSubscriberCount returns the subscriber count for a community channel.
func (b *PresenceBroadcaster) GetSubscriberCount(communityID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[communityID])
}

// Publish fans a presence event out to every subscriber of the community
// channel. Full subscriber buffers drop the event with a warning.
func (b *PresenceBroadcaster) Publish(communityID, eventType string, count int64, change int) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Realtime().Error("Panic recovered in Publish", "error", r, "communityId", communityID)
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()

	event := PresenceEvent{
		Type:        eventType,
		CommunityID: communityID,
		Count:       count,
		Change:      change,
		Timestamp:   b.clock(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Realtime().Error("Failed to marshal presence event", "error", err.Error(), "communityId", communityID)
		return
	}
	message := string(payload)

	for _, ch := range b.channels[communityID] {
		select {
		case ch <- message:
		default:
			b.logger.Realtime().Warn("Subscriber buffer full, event dropped", "communityId", communityID, "type", eventType)
		}
	}
}
