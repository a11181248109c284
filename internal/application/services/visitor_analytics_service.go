package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lvsuno/citinfos-go/internal/domain/analytics"
	"github.com/lvsuno/citinfos-go/internal/domain/community"
	"github.com/lvsuno/citinfos-go/internal/domain/presence"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/performance"
	"github.com/lvsuno/citinfos-go/pkg/config"
)

// VisitorAnalyticsService computes historical, date-ranged visitor analytics
// from the durable store, plus a live pass-through so analytics consumers
// have one interface for both. All reads are tolerant of missing data and
// return zeroed structures rather than erroring.
type VisitorAnalyticsService struct {
	visits      analytics.VisitEventRepository
	sessions    analytics.AnonymousSessionRepository
	directory   community.Directory
	tracker     *VisitorTrackerService
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
	clock       presence.Clock
}

// NewVisitorAnalyticsService creates a new visitor analytics service.
func NewVisitorAnalyticsService(
	visits analytics.VisitEventRepository,
	sessions analytics.AnonymousSessionRepository,
	directory community.Directory,
	tracker *VisitorTrackerService,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *VisitorAnalyticsService {
	return &VisitorAnalyticsService{
		visits:      visits,
		sessions:    sessions,
		directory:   directory,
		tracker:     tracker,
		logger:      logger,
		perfTracker: perfTracker,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Used by tests.
func (s *VisitorAnalyticsService) SetClock(clock presence.Clock) {
	s.clock = clock
}

// GetUniqueVisitors counts distinct visitors over [start, end). Authenticated
// and anonymous counts are summed without de-duplicating across the boundary:
// a visitor who browsed anonymously and then authenticated inside the window
// is counted twice. Known limitation, kept deliberately.
func (s *VisitorAnalyticsService) GetUniqueVisitors(ctx context.Context, communityID string, start, end time.Time) (*analytics.UniqueVisitors, error) {
	marker := s.perfTracker.StartOperation("unique_visitors", communityID)
	defer marker.Complete()

	authenticated, err := s.visits.CountDistinctVisitors(communityID, start, end)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	anonymous := 0
	if pattern, ok := s.urlPattern(communityID); ok {
		anonymous, err = s.sessions.CountDistinctFingerprintsByURLPattern(pattern, start, end)
		if err != nil {
			marker.SetError(err)
			return nil, err
		}
	}

	marker.SetSuccess(true)
	return &analytics.UniqueVisitors{
		Authenticated: authenticated,
		Anonymous:     anonymous,
		Total:         authenticated + anonymous,
	}, nil
}

// GetDivisionBreakdown splits historical visits over [start, end) by division
// relationship. Returns ErrCommunityNotFound when the community no longer
// exists, distinct from a zero-count success.
func (s *VisitorAnalyticsService) GetDivisionBreakdown(ctx context.Context, communityID string, start, end time.Time) (*analytics.DivisionBreakdown, error) {
	marker := s.perfTracker.StartOperation("division_breakdown", communityID)
	defer marker.Complete()

	exists, err := s.directory.CommunityExists(communityID)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	if !exists {
		marker.SetSuccess(true)
		return nil, analytics.ErrCommunityNotFound
	}

	same, cross, none, err := s.visits.DivisionSplit(communityID, start, end)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	anonymous := 0
	if pattern, ok := s.urlPattern(communityID); ok {
		anonymous, err = s.sessions.CountDistinctFingerprintsByURLPattern(pattern, start, end)
		if err != nil {
			marker.SetError(err)
			return nil, err
		}
	}

	marker.SetSuccess(true)
	return &analytics.DivisionBreakdown{
		SameDivision:  same,
		CrossDivision: cross,
		NoDivision:    none,
		Anonymous:     anonymous,
		Total:         same + cross + none + anonymous,
	}, nil
}

// GetVisitorTrends produces time-bucketed unique-visitor snapshots over the
// trailing N days. Hourly granularity is capped at 168 buckets; an
// unrecognized granularity yields an empty list, not an error.
func (s *VisitorAnalyticsService) GetVisitorTrends(ctx context.Context, communityID string, days int, granularity analytics.TrendGranularity) ([]analytics.TrendPoint, error) {
	marker := s.perfTracker.StartOperation("visitor_trends", communityID)
	defer marker.Complete()

	if days <= 0 {
		days = 1
	}

	var bucket time.Duration
	var label string
	switch granularity {
	case analytics.TrendHourly:
		bucket = time.Hour
		label = "2006-01-02 15:00"
	case analytics.TrendDaily:
		bucket = 24 * time.Hour
		label = "2006-01-02"
	case analytics.TrendWeekly:
		bucket = 7 * 24 * time.Hour
		label = "2006-01-02"
	default:
		s.logger.Analytics().Warn("Unrecognized trend granularity", "communityId", communityID, "granularity", string(granularity))
		marker.SetSuccess(true)
		return []analytics.TrendPoint{}, nil
	}

	end := s.clock().Truncate(bucket).Add(bucket)
	span := time.Duration(days) * 24 * time.Hour
	buckets := int(span / bucket)
	if buckets < 1 {
		buckets = 1
	}
	if granularity == analytics.TrendHourly && buckets > config.HourlyTrendCapBuckets {
		buckets = config.HourlyTrendCapBuckets
	}

	trends := make([]analytics.TrendPoint, 0, buckets)
	for i := buckets; i > 0; i-- {
		bucketStart := end.Add(-time.Duration(i) * bucket)
		visitors, err := s.GetUniqueVisitors(ctx, communityID, bucketStart, bucketStart.Add(bucket))
		if err != nil {
			marker.SetError(err)
			return nil, err
		}
		trends = append(trends, analytics.TrendPoint{
			BucketStart: bucketStart,
			Label:       bucketStart.Format(label),
			Visitors:    *visitors,
		})
	}

	marker.SetSuccess(true)
	return trends, nil
}

// GetConversionMetrics describes the anonymous-to-authenticated funnel over
// [start, end). The rate denominator is sessions started in range; a zero
// denominator yields a zero rate.
func (s *VisitorAnalyticsService) GetConversionMetrics(ctx context.Context, start, end time.Time) (*analytics.ConversionMetrics, error) {
	marker := s.perfTracker.StartOperation("conversion_metrics", "")
	defer marker.Complete()

	sessionsStarted, err := s.sessions.CountSessionsStarted(start, end)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	conversions, avgTime, err := s.sessions.ConversionsInRange(start, end)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	topPages, err := s.sessions.TopConvertingLandingPages(start, end, config.TopLandingPagesLimit)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	metrics := &analytics.ConversionMetrics{
		TotalConversions:       conversions,
		TotalAnonymousSessions: sessionsStarted,
		AvgTimeToConversion:    avgTime,
		TopLandingPages:        topPages,
	}
	if sessionsStarted > 0 {
		metrics.OverallConversionRate = float64(conversions) / float64(sessionsStarted) * 100
	}

	marker.SetSuccess(true)
	return metrics, nil
}

// GetVisitorDemographics aggregates device, browser, and OS breakdowns over
// anonymous sessions that viewed the community's URL namespace in [start, end).
func (s *VisitorAnalyticsService) GetVisitorDemographics(ctx context.Context, communityID string, start, end time.Time) (*analytics.Demographics, error) {
	marker := s.perfTracker.StartOperation("visitor_demographics", communityID)
	defer marker.Complete()

	pattern, ok := s.urlPattern(communityID)
	if !ok {
		marker.SetSuccess(true)
		return &analytics.Demographics{
			Devices:          map[string]int{},
			Browsers:         map[string]int{},
			OperatingSystems: map[string]int{},
		}, nil
	}

	demographics, err := s.sessions.DemographicsByURLPattern(pattern, start, end)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	marker.SetSuccess(true)
	return demographics, nil
}

// RealtimeVisitors bundles the live presence reads behind the analytics
// interface.
type RealtimeVisitors struct {
	Count             int                  `json:"count"`
	Authenticated     int                  `json:"authenticated"`
	Anonymous         int                  `json:"anonymous"`
	DivisionBreakdown map[string]int       `json:"divisionBreakdown"`
	Peaks             *presence.PeakCounts `json:"peaks"`
}

// GetRealtimeVisitors is a thin pass-through to the tracker's live counts.
// A store outage degrades to zeros instead of failing the read.
func (s *VisitorAnalyticsService) GetRealtimeVisitors(ctx context.Context, communityID string) *RealtimeVisitors {
	zeroed := &RealtimeVisitors{DivisionBreakdown: map[string]int{}, Peaks: &presence.PeakCounts{}}

	stats, err := s.tracker.GetVisitorStats(ctx, communityID)
	if err != nil {
		s.degrade("visitor stats", communityID, err)
		return zeroed
	}
	breakdown, err := s.tracker.GetDivisionBreakdown(ctx, communityID)
	if err != nil {
		s.degrade("division breakdown", communityID, err)
		return zeroed
	}
	peaks, err := s.tracker.GetPeakCounts(ctx, communityID)
	if err != nil {
		s.degrade("peak counts", communityID, err)
		return zeroed
	}

	return &RealtimeVisitors{
		Count:             stats.Total,
		Authenticated:     stats.Authenticated,
		Anonymous:         stats.Anonymous,
		DivisionBreakdown: breakdown,
		Peaks:             peaks,
	}
}

// GetVisitorGrowthRate compares the trailing N-day period against the
// immediately preceding period of equal length. Growth from a zero baseline
// is 100% if the current period is non-zero, else 0%.
func (s *VisitorAnalyticsService) GetVisitorGrowthRate(ctx context.Context, communityID string, currentPeriodDays int) (*analytics.GrowthRate, error) {
	marker := s.perfTracker.StartOperation("visitor_growth_rate", communityID)
	defer marker.Complete()

	if currentPeriodDays <= 0 {
		currentPeriodDays = 30
	}

	now := s.clock()
	span := time.Duration(currentPeriodDays) * 24 * time.Hour
	current, err := s.GetUniqueVisitors(ctx, communityID, now.Add(-span), now)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	previous, err := s.GetUniqueVisitors(ctx, communityID, now.Add(-2*span), now.Add(-span))
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	growth := &analytics.GrowthRate{
		CurrentPeriod:  current.Total,
		PreviousPeriod: previous.Total,
		PeriodDays:     currentPeriodDays,
	}
	switch {
	case previous.Total > 0:
		growth.GrowthPercent = float64(current.Total-previous.Total) / float64(previous.Total) * 100
	case current.Total > 0:
		growth.GrowthPercent = 100
	}

	marker.SetSuccess(true)
	return growth, nil
}

// urlPattern builds the LIKE pattern matching a community's URL namespace.
// An unknown community degrades to no anonymous data rather than an error.
func (s *VisitorAnalyticsService) urlPattern(communityID string) (string, bool) {
	slug, err := s.directory.CommunitySlug(communityID)
	if err != nil {
		if !errors.Is(err, community.ErrUnknownCommunity) {
			s.logger.Analytics().Warn("Failed to resolve community slug", "communityId", communityID, "error", err.Error())
		}
		return "", false
	}
	return fmt.Sprintf("/communities/%s%%", slug), true
}

func (s *VisitorAnalyticsService) degrade(what, communityID string, err error) {
	if presence.IsStoreUnavailable(err) {
		s.logger.Analytics().Warn("Presence store unavailable, degrading to zeros", "read", what, "communityId", communityID, "error", err.Error())
		return
	}
	s.logger.Analytics().Error("Live read failed", "read", what, "communityId", communityID, "error", err.Error())
}
