package visits

import (
	"database/sql"
	"time"

	"github.com/lvsuno/citinfos-go/internal/domain/analytics"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/persistence/database"
)

// SQLAnonymousSessionRepository is the SQL-based implementation of the AnonymousSessionRepository.
type SQLAnonymousSessionRepository struct {
	db *database.DB
}

// NewSQLAnonymousSessionRepository creates a new instance of the repository.
func NewSQLAnonymousSessionRepository(db *database.DB) *SQLAnonymousSessionRepository {
	return &SQLAnonymousSessionRepository{db: db}
}

// QuerySessionsByRange retrieves all anonymous sessions started inside [start, end).
func (r *SQLAnonymousSessionRepository) QuerySessionsByRange(start, end time.Time) ([]*analytics.AnonymousSession, error) {
	const query = `
		SELECT id, fingerprint, device_type, browser, os, landing_page, started_at, converted_to_user, converted_at
		FROM anonymous_sessions
		WHERE started_at >= ? AND started_at < ?
		ORDER BY started_at ASC`

	rows, err := r.db.Query(query, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*analytics.AnonymousSession
	for rows.Next() {
		session, err := r.scanSessionFromRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// QueryPageViewsByURLPattern retrieves anonymous page views whose URL matches
// the LIKE pattern inside [start, end).
func (r *SQLAnonymousSessionRepository) QueryPageViewsByURLPattern(pattern string, start, end time.Time) ([]*analytics.AnonymousPageView, error) {
	const query = `
		SELECT id, session_id, fingerprint, url, viewed_at
		FROM anonymous_page_views
		WHERE url LIKE ? AND viewed_at >= ? AND viewed_at < ?
		ORDER BY viewed_at ASC`

	rows, err := r.db.Query(query, pattern, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var views []*analytics.AnonymousPageView
	for rows.Next() {
		var view analytics.AnonymousPageView
		var viewedAtStr string

		if err := rows.Scan(&view.ID, &view.SessionID, &view.Fingerprint, &view.URL, &viewedAtStr); err != nil {
			return nil, err
		}
		view.ViewedAt, err = parseTimestamp(viewedAtStr)
		if err != nil {
			return nil, err
		}
		views = append(views, &view)
	}

	return views, rows.Err()
}

// CountDistinctFingerprintsByURLPattern counts distinct anonymous fingerprints
// that viewed a URL matching the LIKE pattern inside [start, end).
func (r *SQLAnonymousSessionRepository) CountDistinctFingerprintsByURLPattern(pattern string, start, end time.Time) (int, error) {
	const query = `
		SELECT COUNT(DISTINCT fingerprint)
		FROM anonymous_page_views
		WHERE url LIKE ? AND viewed_at >= ? AND viewed_at < ?`

	var count int
	err := r.db.QueryRow(query, pattern, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)).Scan(&count)
	return count, err
}

// CountSessionsStarted counts anonymous sessions started inside [start, end).
func (r *SQLAnonymousSessionRepository) CountSessionsStarted(start, end time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM anonymous_sessions
		WHERE started_at >= ? AND started_at < ?`

	var count int
	err := r.db.QueryRow(query, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)).Scan(&count)
	return count, err
}

// ConversionsInRange counts sessions converted inside [start, end) and the
// average time from session start to conversion.
func (r *SQLAnonymousSessionRepository) ConversionsInRange(start, end time.Time) (int, time.Duration, error) {
	const query = `
		SELECT COUNT(*), COALESCE(AVG(strftime('%s', converted_at) - strftime('%s', started_at)), 0)
		FROM anonymous_sessions
		WHERE converted_at IS NOT NULL AND converted_at >= ? AND converted_at < ?`

	var count int
	var avgSeconds float64
	err := r.db.QueryRow(query, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)).Scan(&count, &avgSeconds)
	if err != nil {
		return 0, 0, err
	}
	return count, time.Duration(avgSeconds * float64(time.Second)), nil
}

// TopConvertingLandingPages ranks landing pages by conversion count inside [start, end).
func (r *SQLAnonymousSessionRepository) TopConvertingLandingPages(start, end time.Time, limit int) ([]analytics.LandingPageConversions, error) {
	const query = `
		SELECT landing_page, COUNT(*) AS conversions
		FROM anonymous_sessions
		WHERE converted_at IS NOT NULL AND converted_at >= ? AND converted_at < ? AND landing_page IS NOT NULL AND landing_page != ''
		GROUP BY landing_page
		ORDER BY conversions DESC, landing_page ASC
		LIMIT ?`

	rows, err := r.db.Query(query, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pages := []analytics.LandingPageConversions{}
	for rows.Next() {
		var page analytics.LandingPageConversions
		if err := rows.Scan(&page.LandingPage, &page.Conversions); err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}

	return pages, rows.Err()
}

// DemographicsByURLPattern aggregates device, browser, and OS counts across
// sessions that viewed a URL matching the LIKE pattern inside [start, end).
func (r *SQLAnonymousSessionRepository) DemographicsByURLPattern(pattern string, start, end time.Time) (*analytics.Demographics, error) {
	const query = `
		SELECT s.device_type, s.browser, s.os
		FROM anonymous_sessions s
		WHERE s.id IN (
			SELECT DISTINCT session_id
			FROM anonymous_page_views
			WHERE url LIKE ? AND viewed_at >= ? AND viewed_at < ?
		)`

	rows, err := r.db.Query(query, pattern, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	demographics := &analytics.Demographics{
		Devices:          make(map[string]int),
		Browsers:         make(map[string]int),
		OperatingSystems: make(map[string]int),
	}
	for rows.Next() {
		var deviceType, browser, os sql.NullString
		if err := rows.Scan(&deviceType, &browser, &os); err != nil {
			return nil, err
		}
		demographics.Devices[nullOrUnknown(deviceType)]++
		demographics.Browsers[nullOrUnknown(browser)]++
		demographics.OperatingSystems[nullOrUnknown(os)]++
		demographics.TotalSessions++
	}

	return demographics, rows.Err()
}

// scanSessionFromRows is a helper function to scan from sql.Rows into an AnonymousSession struct.
func (r *SQLAnonymousSessionRepository) scanSessionFromRows(rows *sql.Rows) (*analytics.AnonymousSession, error) {
	var session analytics.AnonymousSession
	var deviceType, browser, os, landingPage sql.NullString
	var convertedToUser sql.NullString
	var startedAtStr string
	var convertedAtStr sql.NullString

	err := rows.Scan(
		&session.ID,
		&session.Fingerprint,
		&deviceType,
		&browser,
		&os,
		&landingPage,
		&startedAtStr,
		&convertedToUser,
		&convertedAtStr,
	)
	if err != nil {
		return nil, err
	}

	session.DeviceType = deviceType.String
	session.Browser = browser.String
	session.OS = os.String
	session.LandingPage = landingPage.String
	if convertedToUser.Valid {
		session.ConvertedToUser = &convertedToUser.String
	}

	// Parse timestamps
	session.StartedAt, err = parseTimestamp(startedAtStr)
	if err != nil {
		return nil, err
	}
	if convertedAtStr.Valid {
		convertedAt, err := parseTimestamp(convertedAtStr.String)
		if err != nil {
			return nil, err
		}
		session.ConvertedAt = &convertedAt
	}

	return &session, nil
}

func nullOrUnknown(v sql.NullString) string {
	if v.Valid && v.String != "" {
		return v.String
	}
	return "unknown"
}
