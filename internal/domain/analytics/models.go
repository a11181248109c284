// Package analytics defines the entities and repository contracts for
// historical visitor analytics. Durable rows are owned by the external
// event pipeline; the engine only reads them (and appends authenticated
// visit events on join).
package analytics

import (
	"errors"
	"time"
)

// ErrCommunityNotFound signals an analytics query against a community that
// no longer exists. It is distinct from a zero-count success.
var ErrCommunityNotFound = errors.New("analytics: community not found")

// VisitEvent is one durable row per authenticated visit, used for
// historical analytics after the live presence window has expired.
type VisitEvent struct {
	ID                  string    `json:"id"`
	CommunityID         string    `json:"communityId"`
	UserID              string    `json:"userId"`
	VisitorDivisionID   *string   `json:"visitorDivisionId,omitempty"`
	CommunityDivisionID *string   `json:"communityDivisionId,omitempty"`
	IsCrossDivision     bool      `json:"isCrossDivision"`
	VisitedAt           time.Time `json:"visitedAt"`
}

// AnonymousSession is the durable record of one anonymous browsing session.
// ConvertedToUser/ConvertedAt are set by the account pipeline when the
// session is later associated with an authenticated user.
type AnonymousSession struct {
	ID              string     `json:"id"`
	Fingerprint     string     `json:"fingerprint"`
	StartedAt       time.Time  `json:"startedAt"`
	DeviceType      string     `json:"deviceType"`
	Browser         string     `json:"browser"`
	OS              string     `json:"os"`
	LandingPage     string     `json:"landingPage"`
	ConvertedToUser *string    `json:"convertedToUser,omitempty"`
	ConvertedAt     *time.Time `json:"convertedAt,omitempty"`
}

// AnonymousPageView is one durable row per anonymous page view.
type AnonymousPageView struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Fingerprint string    `json:"fingerprint"`
	URL         string    `json:"url"`
	ViewedAt    time.Time `json:"viewedAt"`
}

// UniqueVisitors counts distinct visitors over a range. Authenticated and
// anonymous are summed without cross-boundary de-duplication: a visitor who
// browsed anonymously and then authenticated inside the window is counted
// twice. This is a known, accepted limitation of the range counters.
type UniqueVisitors struct {
	Authenticated int `json:"authenticated"`
	Anonymous     int `json:"anonymous"`
	Total         int `json:"total"`
}

// DivisionBreakdown splits historical visits by division relationship.
type DivisionBreakdown struct {
	SameDivision  int `json:"same_division"`
	CrossDivision int `json:"cross_division"`
	NoDivision    int `json:"no_division"`
	Anonymous     int `json:"anonymous"`
	Total         int `json:"total"`
}

// TrendGranularity selects the bucket size for visitor trends.
type TrendGranularity string

const (
	TrendHourly TrendGranularity = "hourly"
	TrendDaily  TrendGranularity = "daily"
	TrendWeekly TrendGranularity = "weekly"
)

// TrendPoint is one time-bucketed unique-visitor snapshot.
type TrendPoint struct {
	BucketStart time.Time      `json:"bucketStart"`
	Label       string         `json:"label"`
	Visitors    UniqueVisitors `json:"visitors"`
}

// LandingPageConversions ranks a landing page by conversion count.
type LandingPageConversions struct {
	LandingPage string `json:"landingPage"`
	Conversions int    `json:"conversions"`
}

// ConversionMetrics describes the anonymous-to-authenticated funnel.
type ConversionMetrics struct {
	TotalConversions       int                      `json:"totalConversions"`
	TotalAnonymousSessions int                      `json:"totalAnonymousSessions"`
	OverallConversionRate  float64                  `json:"overallConversionRate"`
	AvgTimeToConversion    time.Duration            `json:"avgTimeToConversion"`
	TopLandingPages        []LandingPageConversions `json:"topLandingPages"`
}

// Demographics is the device/browser/OS breakdown over anonymous sessions
// whose page views matched a community's URL namespace.
type Demographics struct {
	Devices          map[string]int `json:"devices"`
	Browsers         map[string]int `json:"browsers"`
	OperatingSystems map[string]int `json:"operatingSystems"`
	TotalSessions    int            `json:"totalSessions"`
}

// GrowthRate compares the current period against the immediately preceding
// non-overlapping period of equal length.
type GrowthRate struct {
	CurrentPeriod  int     `json:"currentPeriod"`
	PreviousPeriod int     `json:"previousPeriod"`
	PeriodDays     int     `json:"periodDays"`
	GrowthPercent  float64 `json:"growthPercent"`
}

// VisitEventRepository is the durable store contract for authenticated
// visit events.
type VisitEventRepository interface {
	RecordAuthenticatedVisit(event *VisitEvent) error
	QueryVisitsByRange(communityID string, start, end time.Time) ([]*VisitEvent, error)
	CountDistinctVisitors(communityID string, start, end time.Time) (int, error)
	DivisionSplit(communityID string, start, end time.Time) (same, cross, none int, err error)
}

// AnonymousSessionRepository is the durable store contract for anonymous
// sessions and their page views.
type AnonymousSessionRepository interface {
	QuerySessionsByRange(start, end time.Time) ([]*AnonymousSession, error)
	QueryPageViewsByURLPattern(pattern string, start, end time.Time) ([]*AnonymousPageView, error)
	CountDistinctFingerprintsByURLPattern(pattern string, start, end time.Time) (int, error)
	CountSessionsStarted(start, end time.Time) (int, error)
	ConversionsInRange(start, end time.Time) (count int, avgTimeToConversion time.Duration, err error)
	TopConvertingLandingPages(start, end time.Time, limit int) ([]LandingPageConversions, error)
	DemographicsByURLPattern(pattern string, start, end time.Time) (*Demographics, error)
}
