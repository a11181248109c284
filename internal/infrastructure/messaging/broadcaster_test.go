package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/pkg/config"
)

func newTestBroadcaster(t *testing.T) *PresenceBroadcaster {
	t.Helper()
	b := NewPresenceBroadcaster(logging.NewTestLogger())
	b.SetClock(func() time.Time { return time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC) })
	return b
}

func TestPublishDeliversEnvelope(t *testing.T) {
	b := newTestBroadcaster(t)

	ch, err := b.Subscribe("c1")
	require.NoError(t, err)
	defer b.Unsubscribe("c1", ch)

	b.Publish("c1", EventVisitorJoined, 5, 1)

	select {
	case raw := <-ch:
		var event PresenceEvent
		require.NoError(t, json.Unmarshal([]byte(raw), &event))
		assert.Equal(t, EventVisitorJoined, event.Type)
		assert.Equal(t, "c1", event.CommunityID)
		assert.Equal(t, int64(5), event.Count)
		assert.Equal(t, 1, event.Change)
		assert.Equal(t, time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC), event.Timestamp)
	default:
		t.Fatal("expected event on subscriber channel")
	}
}

func TestPublishScopedToCommunity(t *testing.T) {
	b := newTestBroadcaster(t)

	ch1, err := b.Subscribe("c1")
	require.NoError(t, err)
	defer b.Unsubscribe("c1", ch1)
	ch2, err := b.Subscribe("c2")
	require.NoError(t, err)
	defer b.Unsubscribe("c2", ch2)

	b.Publish("c1", EventVisitorLeft, 3, -1)

	assert.Len(t, ch1, 1)
	assert.Empty(t, ch2)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := newTestBroadcaster(t)

	ch, err := b.Subscribe("c1")
	require.NoError(t, err)
	defer b.Unsubscribe("c1", ch)

	for i := 0; i < config.SubscriberBufferSize+5; i++ {
		b.Publish("c1", EventVisitorCountUpdate, int64(i), 0)
	}

	// Overflow events are dropped, not blocked on.
	assert.Len(t, ch, config.SubscriberBufferSize)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBroadcaster(t)

	ch, err := b.Subscribe("c1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.GetSubscriberCount("c1"))

	b.Unsubscribe("c1", ch)
	assert.Zero(t, b.GetSubscriberCount("c1"))

	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe is a no-op.
	b.Unsubscribe("c1", ch)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := newTestBroadcaster(t)
	b.Publish("empty", EventVisitorJoined, 1, 1)
	assert.Zero(t, b.GetSubscriberCount("empty"))
}
