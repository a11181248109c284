package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvsuno/citinfos-go/internal/domain/presence"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
)

// newReaperFixture widens the store TTL beyond the staleness cutoff so the
// tests exercise the reaper's last-activity policy rather than plain key
// expiry (in production both run, with the reaper reconciling derived state).
func newReaperFixture(t *testing.T) (*StaleVisitorReaperService, *VisitorTrackerService, *testClock) {
	t.Helper()
	tracker, store, clock, _ := newTrackerFixture(t)
	tracker.presenceTimeout = time.Hour

	reaper := NewStaleVisitorReaperService(tracker, store, logging.NewTestLogger())
	reaper.SetClock(clock.Now)
	return reaper, tracker, clock
}

func TestSweepEvictsStaleVisitors(t *testing.T) {
	reaper, tracker, clock := newReaperFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d1"), div("d1")))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, anonJoin("fp1", "c1"))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, authJoin("u2", "c1", nil, nil))
	require.NoError(t, err)

	// u2 stays active via a heartbeat; u1 and fp1 go quiet.
	clock.Advance(6 * time.Minute)
	require.NoError(t, tracker.Heartbeat(ctx, presence.Identity("u2"), "c1", false))

	removed := reaper.Sweep(ctx, "c1")
	assert.Equal(t, 2, removed)

	count, err := tracker.GetVisitorCount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The stale visitor's division gauge entry is gone too.
	breakdown, err := tracker.GetDivisionBreakdown(ctx, "c1")
	require.NoError(t, err)
	assert.NotContains(t, breakdown, "d1")
}

func TestSweepIsIdempotent(t *testing.T) {
	reaper, tracker, clock := newReaperFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", nil, nil))
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 1, reaper.Sweep(ctx, "c1"))
	assert.Zero(t, reaper.Sweep(ctx, "c1"))
}

func TestSweepKeepsActiveVisitors(t *testing.T) {
	reaper, tracker, clock := newReaperFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", nil, nil))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	assert.Zero(t, reaper.Sweep(ctx, "c1"))

	count, err := tracker.GetVisitorCount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSweepEvictsExpiredEntriesWithStrayMembership(t *testing.T) {
	reaper, tracker, clock := newReaperFixture(t)
	ctx := context.Background()

	// Shorten the entry TTL back below the cutoff: the entry hash expires
	// while the shared set, kept alive by an active visitor, retains the
	// stray member.
	tracker.presenceTimeout = 5 * time.Minute
	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", nil, nil))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, authJoin("u2", "c1", nil, nil))
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	require.NoError(t, tracker.Heartbeat(ctx, presence.Identity("u2"), "c1", false))
	clock.Advance(2 * time.Minute)

	removed := reaper.Sweep(ctx, "c1")
	assert.Equal(t, 1, removed)

	count, err := tracker.GetVisitorCount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSweepAllUsesRegistry(t *testing.T) {
	reaper, tracker, clock := newReaperFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", nil, nil))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, authJoin("u2", "c2", nil, nil))
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	assert.Equal(t, 2, reaper.SweepAll(ctx))
}
