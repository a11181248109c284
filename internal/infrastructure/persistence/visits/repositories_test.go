package visits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvsuno/citinfos-go/internal/domain/analytics"
	communitydomain "github.com/lvsuno/citinfos-go/internal/domain/community"
	communityrepo "github.com/lvsuno/citinfos-go/internal/infrastructure/persistence/community"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/persistence/database"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/security"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewConnection("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewTableCreator().CreateSchema(db.DB))
	return db
}

func seedCommunity(t *testing.T, db *database.DB, id, slug string, divisionID *string) {
	t.Helper()
	repo := communityrepo.NewSQLCommunityRepository(db)
	require.NoError(t, repo.Upsert(&communitydomain.Community{
		ID:         id,
		Name:       id,
		Slug:       slug,
		DivisionID: divisionID,
	}))
}

func strPtr(s string) *string { return &s }

func TestVisitEventRepositoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	divA := strPtr("div-a")
	seedCommunity(t, db, "c1", "montreal", divA)
	repo := NewSQLVisitEventRepository(db)

	base := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	events := []*analytics.VisitEvent{
		{ID: security.GenerateULID(), CommunityID: "c1", UserID: "u1", VisitorDivisionID: divA, CommunityDivisionID: divA, IsCrossDivision: false, VisitedAt: base},
		{ID: security.GenerateULID(), CommunityID: "c1", UserID: "u2", VisitorDivisionID: strPtr("div-b"), CommunityDivisionID: divA, IsCrossDivision: true, VisitedAt: base.Add(time.Hour)},
		{ID: security.GenerateULID(), CommunityID: "c1", UserID: "u1", VisitorDivisionID: divA, CommunityDivisionID: divA, IsCrossDivision: false, VisitedAt: base.Add(2 * time.Hour)},
		{ID: security.GenerateULID(), CommunityID: "c1", UserID: "u3", CommunityDivisionID: divA, VisitedAt: base.Add(3 * time.Hour)},
	}
	for _, e := range events {
		require.NoError(t, repo.RecordAuthenticatedVisit(e))
	}

	got, err := repo.QueryVisitsByRange("c1", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, base, got[0].VisitedAt)
	require.NotNil(t, got[1].VisitorDivisionID)
	assert.Equal(t, "div-b", *got[1].VisitorDivisionID)
	assert.True(t, got[1].IsCrossDivision)
	assert.Nil(t, got[3].VisitorDivisionID)

	// Upper bound is exclusive.
	got, err = repo.QueryVisitsByRange("c1", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	count, err := repo.CountDistinctVisitors("c1", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	same, cross, none, err := repo.DivisionSplit("c1", base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, same)
	assert.Equal(t, 1, cross)
	assert.Equal(t, 1, none)
}

func TestVisitEventRepositoryEmptyRange(t *testing.T) {
	db := newTestDB(t)
	seedCommunity(t, db, "c1", "montreal", nil)
	repo := NewSQLVisitEventRepository(db)

	start := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	got, err := repo.QueryVisitsByRange("c1", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)

	count, err := repo.CountDistinctVisitors("c1", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	same, cross, none, err := repo.DivisionSplit("c1", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, same)
	assert.Zero(t, cross)
	assert.Zero(t, none)
}

func seedSession(t *testing.T, db *database.DB, id, fingerprint, landingPage string, startedAt time.Time, convertedAt *time.Time) {
	t.Helper()
	var converted interface{}
	var convertedUser interface{}
	if convertedAt != nil {
		converted = convertedAt.UTC().Format(time.RFC3339)
		convertedUser = "user-" + id
	}
	_, err := db.Exec(
		`INSERT INTO anonymous_sessions (id, fingerprint, device_type, browser, os, landing_page, started_at, converted_to_user, converted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, fingerprint, "mobile", "Firefox", "Linux", landingPage, startedAt.UTC().Format(time.RFC3339), convertedUser, converted,
	)
	require.NoError(t, err)
}

func seedPageView(t *testing.T, db *database.DB, sessionID, fingerprint, url string, viewedAt time.Time) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO anonymous_page_views (id, session_id, fingerprint, url, viewed_at) VALUES (?, ?, ?, ?, ?)`,
		security.GenerateULID(), sessionID, fingerprint, url, viewedAt.UTC().Format(time.RFC3339),
	)
	require.NoError(t, err)
}

func TestAnonymousSessionRepositoryConversions(t *testing.T) {
	db := newTestDB(t)
	repo := NewSQLAnonymousSessionRepository(db)

	base := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	conv1 := base.Add(30 * time.Minute)
	conv2 := base.Add(90 * time.Minute)
	seedSession(t, db, "s1", "fp1", "/communities/montreal", base, &conv1)
	seedSession(t, db, "s2", "fp2", "/communities/montreal", base, &conv2)
	seedSession(t, db, "s3", "fp3", "/communities/quebec", base, nil)

	count, err := repo.CountSessionsStarted(base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	conversions, avg, err := repo.ConversionsInRange(base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, conversions)
	assert.Equal(t, time.Hour, avg)

	pages, err := repo.TopConvertingLandingPages(base, base.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "/communities/montreal", pages[0].LandingPage)
	assert.Equal(t, 2, pages[0].Conversions)
}

func TestAnonymousSessionRepositoryURLPattern(t *testing.T) {
	db := newTestDB(t)
	repo := NewSQLAnonymousSessionRepository(db)

	base := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	seedSession(t, db, "s1", "fp1", "/communities/montreal", base, nil)
	seedSession(t, db, "s2", "fp2", "/communities/quebec", base, nil)
	seedPageView(t, db, "s1", "fp1", "/communities/montreal/events", base.Add(time.Minute))
	seedPageView(t, db, "s1", "fp1", "/communities/montreal", base.Add(2*time.Minute))
	seedPageView(t, db, "s2", "fp2", "/communities/quebec", base.Add(3*time.Minute))

	views, err := repo.QueryPageViewsByURLPattern("/communities/montreal%", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, views, 2)

	count, err := repo.CountDistinctFingerprintsByURLPattern("/communities/montreal%", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	demographics, err := repo.DemographicsByURLPattern("/communities/montreal%", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, demographics.TotalSessions)
	assert.Equal(t, 1, demographics.Devices["mobile"])
	assert.Equal(t, 1, demographics.Browsers["Firefox"])
	assert.Equal(t, 1, demographics.OperatingSystems["Linux"])
}

func TestCommunityRepository(t *testing.T) {
	db := newTestDB(t)
	repo := communityrepo.NewSQLCommunityRepository(db)

	div := strPtr("div-a")
	seedCommunity(t, db, "c1", "montreal", div)
	seedCommunity(t, db, "c2", "quebec", nil)

	exists, err := repo.CommunityExists("c1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.CommunityExists("missing")
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := repo.CommunityDivision("c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "div-a", *got)

	got, err = repo.CommunityDivision("c2")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = repo.CommunityDivision("missing")
	assert.ErrorIs(t, err, communitydomain.ErrUnknownCommunity)

	slug, err := repo.CommunitySlug("c1")
	require.NoError(t, err)
	assert.Equal(t, "montreal", slug)

	_, err = repo.CommunitySlug("missing")
	assert.ErrorIs(t, err, communitydomain.ErrUnknownCommunity)
}
