package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvsuno/citinfos-go/internal/domain/analytics"
	"github.com/lvsuno/citinfos-go/internal/domain/presence"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/performance"
	infra "github.com/lvsuno/citinfos-go/internal/infrastructure/presence"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type capturingVisitRepo struct {
	events []*analytics.VisitEvent
}

func (r *capturingVisitRepo) RecordAuthenticatedVisit(event *analytics.VisitEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *capturingVisitRepo) QueryVisitsByRange(string, time.Time, time.Time) ([]*analytics.VisitEvent, error) {
	return nil, nil
}

func (r *capturingVisitRepo) CountDistinctVisitors(string, time.Time, time.Time) (int, error) {
	return 0, nil
}

func (r *capturingVisitRepo) DivisionSplit(string, time.Time, time.Time) (int, int, int, error) {
	return 0, 0, 0, nil
}

func newTrackerFixture(t *testing.T) (*VisitorTrackerService, *infra.MemoryStore, *testClock, *capturingVisitRepo) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)}
	store := infra.NewMemoryStore(clock.Now)
	visits := &capturingVisitRepo{}
	tracker := NewVisitorTrackerService(store, visits, logging.NewTestLogger(), performance.NewTracker(nil))
	tracker.SetClock(clock.Now)
	return tracker, store, clock, visits
}

func authJoin(userID, communityID string, homeDivision, communityDivision *string) *AddVisitorInput {
	return &AddVisitorInput{
		UserID:              userID,
		CommunityID:         communityID,
		HomeDivisionID:      homeDivision,
		CommunityDivisionID: communityDivision,
		IsAuthenticated:     true,
		IPAddress:           "203.0.113.10",
		UserAgent:           "test-agent",
	}
}

func anonJoin(fingerprint, communityID string) *AddVisitorInput {
	return &AddVisitorInput{
		CommunityID:       communityID,
		DeviceFingerprint: fingerprint,
		IPAddress:         "203.0.113.11",
		UserAgent:         "test-agent",
	}
}

func div(id string) *string { return &id }

func TestAddVisitorCountInvariant(t *testing.T) {
	tracker, _, _, _ := newTrackerFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", nil, nil))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, authJoin("u2", "c1", nil, nil))
	require.NoError(t, err)
	result, err := tracker.AddVisitor(ctx, anonJoin("fp1", "c1"))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count)

	total, err := tracker.GetVisitorCount(ctx, "c1")
	require.NoError(t, err)
	authenticated, err := tracker.GetAuthenticatedCount(ctx, "c1")
	require.NoError(t, err)
	anonymous, err := tracker.GetAnonymousCount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, total, authenticated+anonymous)
	assert.Equal(t, 2, authenticated)
	assert.Equal(t, 1, anonymous)

	tracker.RemoveVisitor(ctx, presence.Identity("u1"), "c1")
	total, err = tracker.GetVisitorCount(ctx, "c1")
	require.NoError(t, err)
	authenticated, err = tracker.GetAuthenticatedCount(ctx, "c1")
	require.NoError(t, err)
	anonymous, err = tracker.GetAnonymousCount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, total, authenticated+anonymous)
	assert.Equal(t, 2, total)
}

func TestAddVisitorIdempotentReentry(t *testing.T) {
	tracker, _, _, _ := newTrackerFixture(t)
	ctx := context.Background()

	first, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d1"), div("d1")))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count)

	second, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d1"), div("d1")))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Count)

	breakdown, err := tracker.GetDivisionBreakdown(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"d1": 1}, breakdown)
}

func TestAddVisitorAnonymousRequiresFingerprint(t *testing.T) {
	tracker, _, _, _ := newTrackerFixture(t)

	result, err := tracker.AddVisitor(context.Background(), anonJoin("", "c1"))
	require.NoError(t, err)
	assert.True(t, result.Invalid)
	assert.NotEmpty(t, result.InvalidReason)
	assert.Zero(t, result.Count)
}

func TestAddVisitorCrossDivisionFlag(t *testing.T) {
	tracker, _, _, _ := newTrackerFixture(t)
	ctx := context.Background()

	same, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d1"), div("d1")))
	require.NoError(t, err)
	assert.False(t, same.CrossDivision)

	cross, err := tracker.AddVisitor(ctx, authJoin("u2", "c1", div("d2"), div("d1")))
	require.NoError(t, err)
	assert.True(t, cross.CrossDivision)

	// One end unknown: not cross-division.
	unknown, err := tracker.AddVisitor(ctx, authJoin("u3", "c1", div("d2"), nil))
	require.NoError(t, err)
	assert.False(t, unknown.CrossDivision)
}

func TestDivisionBreakdownGauge(t *testing.T) {
	tracker, _, _, _ := newTrackerFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d1"), div("d1")))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, authJoin("u2", "c1", div("d1"), div("d1")))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, authJoin("u3", "c1", div("d2"), div("d1")))
	require.NoError(t, err)
	// Authenticated without a home division lands in the unknown bucket.
	_, err = tracker.AddVisitor(ctx, authJoin("u4", "c1", nil, div("d1")))
	require.NoError(t, err)
	// Anonymous visitors are excluded from the gauge.
	_, err = tracker.AddVisitor(ctx, anonJoin("fp1", "c1"))
	require.NoError(t, err)

	breakdown, err := tracker.GetDivisionBreakdown(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"d1":                           2,
		"d2":                           1,
		presence.UnknownDivisionBucket: 1,
	}, breakdown)

	tracker.RemoveVisitor(ctx, presence.Identity("u1"), "c1")
	breakdown, err = tracker.GetDivisionBreakdown(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, breakdown["d1"])
}

func TestDivisionGaugeNeverNegative(t *testing.T) {
	tracker, _, _, _ := newTrackerFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d1"), div("d1")))
	require.NoError(t, err)

	tracker.RemoveVisitor(ctx, presence.Identity("u1"), "c1")
	// Second remove of the same identity is a no-op, not a double decrement.
	count := tracker.RemoveVisitor(ctx, presence.Identity("u1"), "c1")
	assert.Zero(t, count)

	breakdown, err := tracker.GetDivisionBreakdown(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, breakdown)
}

func TestRejoinWithDifferentDivisionSupersedes(t *testing.T) {
	tracker, _, _, _ := newTrackerFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d1"), div("d1")))
	require.NoError(t, err)
	result, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d2"), div("d1")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)

	breakdown, err := tracker.GetDivisionBreakdown(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"d2": 1}, breakdown)
}

func TestCrossDivisionLedgerNotDecrementedOnLeave(t *testing.T) {
	tracker, _, _, _ := newTrackerFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d2"), div("d1")))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, authJoin("u2", "c1", div("d2"), div("d1")))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, authJoin("u3", "c1", div("d3"), div("d1")))
	require.NoError(t, err)

	tracker.RemoveVisitor(ctx, presence.Identity("u1"), "c1")

	stats, err := tracker.GetCrossDivisionStats(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, stats.Edges, 2)
	assert.Equal(t, presence.CrossDivisionEdge{HomeDivisionID: "d2", CommunityDivisionID: "d1", Count: 2}, stats.Edges[0])
	assert.Equal(t, presence.CrossDivisionEdge{HomeDivisionID: "d3", CommunityDivisionID: "d1", Count: 1}, stats.Edges[1])

	assert.Equal(t, 2, stats.TotalVisitors)
	assert.InDelta(t, 100.0, stats.CrossDivisionPercentage, 0.01)
}

func TestPeakCountsMonotonicWithinWindow(t *testing.T) {
	tracker, _, clock, _ := newTrackerFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", nil, nil))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, authJoin("u2", "c1", nil, nil))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, authJoin("u3", "c1", nil, nil))
	require.NoError(t, err)

	peaks, err := tracker.GetPeakCounts(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, &presence.PeakCounts{Daily: 3, Weekly: 3, Monthly: 3}, peaks)

	// Leaving does not lower the peak.
	tracker.RemoveVisitor(ctx, presence.Identity("u1"), "c1")
	tracker.RemoveVisitor(ctx, presence.Identity("u2"), "c1")
	_, err = tracker.AddVisitor(ctx, anonJoin("fp1", "c1"))
	require.NoError(t, err)

	peaks, err = tracker.GetPeakCounts(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, peaks.Daily)

	// The daily window rolls over with the calendar date.
	clock.Advance(24 * time.Hour)
	peaks, err = tracker.GetPeakCounts(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, peaks.Daily)
	assert.Equal(t, 3, peaks.Monthly)
}

func TestHeartbeatRoundTrip(t *testing.T) {
	tracker, _, clock, _ := newTrackerFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", nil, nil))
	require.NoError(t, err)
	joined := clock.Now()

	clock.Advance(30 * time.Second)
	require.NoError(t, tracker.Heartbeat(ctx, presence.Identity("u1"), "c1", true))

	list, err := tracker.GetVisitorList(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].PagesViewed)
	assert.True(t, list[0].LastActivity.After(joined))
	assert.Equal(t, joined, list[0].JoinedAt)
}

func TestHeartbeatUnknownIdentity(t *testing.T) {
	tracker, _, _, _ := newTrackerFixture(t)

	err := tracker.Heartbeat(context.Background(), presence.Identity("ghost"), "c1", false)
	assert.ErrorIs(t, err, presence.ErrNotFound)
}

func TestVisitorStatsPercentages(t *testing.T) {
	tracker, _, _, _ := newTrackerFixture(t)
	ctx := context.Background()

	stats, err := tracker.GetVisitorStats(ctx, "empty")
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.AuthenticatedPercentage)
	assert.Zero(t, stats.AnonymousPercentage)

	_, err = tracker.AddVisitor(ctx, authJoin("u1", "c1", nil, nil))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, anonJoin("fp1", "c1"))
	require.NoError(t, err)
	_, err = tracker.AddVisitor(ctx, anonJoin("fp2", "c1"))
	require.NoError(t, err)

	stats, err = tracker.GetVisitorStats(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.InDelta(t, 33.33, stats.AuthenticatedPercentage, 0.01)
	assert.InDelta(t, 66.67, stats.AnonymousPercentage, 0.01)
}

func TestStoreUnavailableIsTyped(t *testing.T) {
	tracker, store, _, _ := newTrackerFixture(t)
	ctx := context.Background()

	store.SetUnavailable(true)

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", nil, nil))
	require.Error(t, err)
	assert.True(t, presence.IsStoreUnavailable(err))

	// RemoveVisitor degrades to zero instead of erroring.
	assert.Zero(t, tracker.RemoveVisitor(ctx, presence.Identity("u1"), "c1"))

	_, err = tracker.GetVisitorCount(ctx, "c1")
	assert.True(t, presence.IsStoreUnavailable(err))
}

func TestDurableVisitEventRecording(t *testing.T) {
	tracker, _, _, visits := newTrackerFixture(t)
	ctx := context.Background()

	_, err := tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d2"), div("d1")))
	require.NoError(t, err)
	// Re-entry does not duplicate the durable row.
	_, err = tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d2"), div("d1")))
	require.NoError(t, err)
	// Anonymous joins are not persisted.
	_, err = tracker.AddVisitor(ctx, anonJoin("fp1", "c1"))
	require.NoError(t, err)

	require.Len(t, visits.events, 1)
	event := visits.events[0]
	assert.Equal(t, "c1", event.CommunityID)
	assert.Equal(t, "u1", event.UserID)
	assert.True(t, event.IsCrossDivision)
	require.NotNil(t, event.VisitorDivisionID)
	assert.Equal(t, "d2", *event.VisitorDivisionID)
	assert.NotEmpty(t, event.ID)
}
