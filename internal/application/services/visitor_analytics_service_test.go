package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvsuno/citinfos-go/internal/domain/analytics"
	"github.com/lvsuno/citinfos-go/internal/domain/community"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/performance"
)

type fakeVisitRepo struct {
	distinctVisitors map[string]int // communityID -> count
	distinctFn       func(communityID string, start, end time.Time) int
	same, cross, non int
}

func (r *fakeVisitRepo) RecordAuthenticatedVisit(*analytics.VisitEvent) error { return nil }

func (r *fakeVisitRepo) QueryVisitsByRange(string, time.Time, time.Time) ([]*analytics.VisitEvent, error) {
	return nil, nil
}

func (r *fakeVisitRepo) CountDistinctVisitors(communityID string, start, end time.Time) (int, error) {
	if r.distinctFn != nil {
		return r.distinctFn(communityID, start, end), nil
	}
	return r.distinctVisitors[communityID], nil
}

func (r *fakeVisitRepo) DivisionSplit(string, time.Time, time.Time) (int, int, int, error) {
	return r.same, r.cross, r.non, nil
}

type fakeSessionRepo struct {
	distinctFingerprints int
	sessionsStarted      int
	conversions          int
	avgTimeToConversion  time.Duration
	topPages             []analytics.LandingPageConversions
	demographics         *analytics.Demographics
}

func (r *fakeSessionRepo) QuerySessionsByRange(time.Time, time.Time) ([]*analytics.AnonymousSession, error) {
	return nil, nil
}

func (r *fakeSessionRepo) QueryPageViewsByURLPattern(string, time.Time, time.Time) ([]*analytics.AnonymousPageView, error) {
	return nil, nil
}

func (r *fakeSessionRepo) CountDistinctFingerprintsByURLPattern(string, time.Time, time.Time) (int, error) {
	return r.distinctFingerprints, nil
}

func (r *fakeSessionRepo) CountSessionsStarted(time.Time, time.Time) (int, error) {
	return r.sessionsStarted, nil
}

func (r *fakeSessionRepo) ConversionsInRange(time.Time, time.Time) (int, time.Duration, error) {
	return r.conversions, r.avgTimeToConversion, nil
}

func (r *fakeSessionRepo) TopConvertingLandingPages(_, _ time.Time, limit int) ([]analytics.LandingPageConversions, error) {
	if len(r.topPages) > limit {
		return r.topPages[:limit], nil
	}
	return r.topPages, nil
}

func (r *fakeSessionRepo) DemographicsByURLPattern(string, time.Time, time.Time) (*analytics.Demographics, error) {
	return r.demographics, nil
}

type fakeDirectory struct {
	communities map[string]string // id -> slug
}

func (d *fakeDirectory) CommunityExists(id string) (bool, error) {
	_, ok := d.communities[id]
	return ok, nil
}

func (d *fakeDirectory) CommunityDivision(id string) (*string, error) {
	if _, ok := d.communities[id]; !ok {
		return nil, community.ErrUnknownCommunity
	}
	return nil, nil
}

func (d *fakeDirectory) CommunitySlug(id string) (string, error) {
	slug, ok := d.communities[id]
	if !ok {
		return "", community.ErrUnknownCommunity
	}
	return slug, nil
}

type analyticsFixture struct {
	service  *VisitorAnalyticsService
	visits   *fakeVisitRepo
	sessions *fakeSessionRepo
	tracker  *VisitorTrackerService
	clock    *testClock
}

func newAnalyticsFixture(t *testing.T) *analyticsFixture {
	t.Helper()
	tracker, _, clock, _ := newTrackerFixture(t)
	visits := &fakeVisitRepo{distinctVisitors: map[string]int{}}
	sessions := &fakeSessionRepo{}
	directory := &fakeDirectory{communities: map[string]string{"c1": "montreal"}}

	service := NewVisitorAnalyticsService(visits, sessions, directory, tracker, logging.NewTestLogger(), performance.NewTracker(nil))
	service.SetClock(clock.Now)
	return &analyticsFixture{service: service, visits: visits, sessions: sessions, tracker: tracker, clock: clock}
}

func window(clock *testClock) (time.Time, time.Time) {
	end := clock.Now()
	return end.Add(-24 * time.Hour), end
}

func TestGetUniqueVisitorsSumsWithoutDeduplication(t *testing.T) {
	f := newAnalyticsFixture(t)
	f.visits.distinctVisitors["c1"] = 2
	f.sessions.distinctFingerprints = 1

	start, end := window(f.clock)
	visitors, err := f.service.GetUniqueVisitors(context.Background(), "c1", start, end)
	require.NoError(t, err)
	assert.Equal(t, &analytics.UniqueVisitors{Authenticated: 2, Anonymous: 1, Total: 3}, visitors)
}

func TestGetUniqueVisitorsUnknownCommunityHasNoAnonymous(t *testing.T) {
	f := newAnalyticsFixture(t)
	f.visits.distinctVisitors["ghost"] = 0
	f.sessions.distinctFingerprints = 9

	start, end := window(f.clock)
	visitors, err := f.service.GetUniqueVisitors(context.Background(), "ghost", start, end)
	require.NoError(t, err)
	assert.Zero(t, visitors.Total)
}

func TestGetDivisionBreakdown(t *testing.T) {
	f := newAnalyticsFixture(t)
	f.visits.same, f.visits.cross, f.visits.non = 4, 2, 1
	f.sessions.distinctFingerprints = 3

	start, end := window(f.clock)
	breakdown, err := f.service.GetDivisionBreakdown(context.Background(), "c1", start, end)
	require.NoError(t, err)
	assert.Equal(t, &analytics.DivisionBreakdown{
		SameDivision:  4,
		CrossDivision: 2,
		NoDivision:    1,
		Anonymous:     3,
		Total:         10,
	}, breakdown)
}

func TestGetDivisionBreakdownCommunityNotFound(t *testing.T) {
	f := newAnalyticsFixture(t)

	start, end := window(f.clock)
	_, err := f.service.GetDivisionBreakdown(context.Background(), "ghost", start, end)
	assert.ErrorIs(t, err, analytics.ErrCommunityNotFound)
}

func TestGetVisitorTrendsInvalidGranularity(t *testing.T) {
	f := newAnalyticsFixture(t)

	trends, err := f.service.GetVisitorTrends(context.Background(), "c1", 7, analytics.TrendGranularity("invalid"))
	require.NoError(t, err)
	assert.Empty(t, trends)
}

func TestGetVisitorTrendsBucketCounts(t *testing.T) {
	f := newAnalyticsFixture(t)
	ctx := context.Background()

	daily, err := f.service.GetVisitorTrends(ctx, "c1", 7, analytics.TrendDaily)
	require.NoError(t, err)
	assert.Len(t, daily, 7)

	// Hourly is capped at 168 buckets even for longer spans.
	hourly, err := f.service.GetVisitorTrends(ctx, "c1", 14, analytics.TrendHourly)
	require.NoError(t, err)
	assert.Len(t, hourly, 168)

	weekly, err := f.service.GetVisitorTrends(ctx, "c1", 28, analytics.TrendWeekly)
	require.NoError(t, err)
	assert.Len(t, weekly, 4)

	// Buckets are ordered oldest first and contiguous.
	for i := 1; i < len(daily); i++ {
		assert.Equal(t, 24*time.Hour, daily[i].BucketStart.Sub(daily[i-1].BucketStart))
	}
}

func TestGetConversionMetrics(t *testing.T) {
	f := newAnalyticsFixture(t)
	f.sessions.sessionsStarted = 3
	f.sessions.conversions = 1
	f.sessions.avgTimeToConversion = 45 * time.Minute
	f.sessions.topPages = []analytics.LandingPageConversions{{LandingPage: "/communities/montreal", Conversions: 1}}

	start, end := window(f.clock)
	metrics, err := f.service.GetConversionMetrics(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalConversions)
	assert.Equal(t, 3, metrics.TotalAnonymousSessions)
	assert.InDelta(t, 33.33, metrics.OverallConversionRate, 0.01)
	assert.Equal(t, 45*time.Minute, metrics.AvgTimeToConversion)
	require.Len(t, metrics.TopLandingPages, 1)
}

func TestGetConversionMetricsZeroDenominator(t *testing.T) {
	f := newAnalyticsFixture(t)

	start, end := window(f.clock)
	metrics, err := f.service.GetConversionMetrics(context.Background(), start, end)
	require.NoError(t, err)
	assert.Zero(t, metrics.OverallConversionRate)
}

func TestGetVisitorDemographicsUnknownCommunity(t *testing.T) {
	f := newAnalyticsFixture(t)

	start, end := window(f.clock)
	demographics, err := f.service.GetVisitorDemographics(context.Background(), "ghost", start, end)
	require.NoError(t, err)
	assert.Zero(t, demographics.TotalSessions)
	assert.Empty(t, demographics.Devices)
}

func TestGetVisitorGrowthRate(t *testing.T) {
	f := newAnalyticsFixture(t)
	ctx := context.Background()

	// Zero baseline, zero current.
	growth, err := f.service.GetVisitorGrowthRate(ctx, "c1", 30)
	require.NoError(t, err)
	assert.Zero(t, growth.GrowthPercent)
	assert.Equal(t, 30, growth.PeriodDays)

	// Zero baseline, non-zero current: defined as 100%.
	currentStart := f.clock.Now().Add(-30 * 24 * time.Hour)
	f.visits.distinctFn = func(_ string, start, _ time.Time) int {
		if start.Before(currentStart) {
			return 0
		}
		return 5
	}
	growth, err = f.service.GetVisitorGrowthRate(ctx, "c1", 30)
	require.NoError(t, err)
	assert.Equal(t, 5, growth.CurrentPeriod)
	assert.Zero(t, growth.PreviousPeriod)
	assert.InDelta(t, 100.0, growth.GrowthPercent, 0.01)

	// Normal comparison.
	f.visits.distinctFn = func(_ string, start, _ time.Time) int {
		if start.Before(currentStart) {
			return 4
		}
		return 6
	}
	growth, err = f.service.GetVisitorGrowthRate(ctx, "c1", 30)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, growth.GrowthPercent, 0.01)
}

func TestGetRealtimeVisitorsPassThrough(t *testing.T) {
	f := newAnalyticsFixture(t)
	ctx := context.Background()

	_, err := f.tracker.AddVisitor(ctx, authJoin("u1", "c1", div("d1"), div("d1")))
	require.NoError(t, err)
	_, err = f.tracker.AddVisitor(ctx, anonJoin("fp1", "c1"))
	require.NoError(t, err)

	live := f.service.GetRealtimeVisitors(ctx, "c1")
	assert.Equal(t, 2, live.Count)
	assert.Equal(t, 1, live.Authenticated)
	assert.Equal(t, 1, live.Anonymous)
	assert.Equal(t, map[string]int{"d1": 1}, live.DivisionBreakdown)
	assert.Equal(t, 2, live.Peaks.Daily)
}

func TestGetRealtimeVisitorsDegradesOnOutage(t *testing.T) {
	tracker, store, clock, _ := newTrackerFixture(t)
	visits := &fakeVisitRepo{distinctVisitors: map[string]int{}}
	sessions := &fakeSessionRepo{}
	directory := &fakeDirectory{communities: map[string]string{"c1": "montreal"}}
	service := NewVisitorAnalyticsService(visits, sessions, directory, tracker, logging.NewTestLogger(), performance.NewTracker(nil))
	service.SetClock(clock.Now)

	store.SetUnavailable(true)

	live := service.GetRealtimeVisitors(context.Background(), "c1")
	assert.Zero(t, live.Count)
	assert.Empty(t, live.DivisionBreakdown)
	assert.Zero(t, live.Peaks.Daily)
}
