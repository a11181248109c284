// Package visits provides the concrete SQL-based implementations of
// the analytics repositories (VisitEvent, AnonymousSession).
package visits

import (
	"database/sql"
	"time"

	"github.com/lvsuno/citinfos-go/internal/domain/analytics"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/persistence/database"
)

// SQLVisitEventRepository is the SQL-based implementation of the VisitEventRepository.
type SQLVisitEventRepository struct {
	db *database.DB
}

// NewSQLVisitEventRepository creates a new instance of the repository.
func NewSQLVisitEventRepository(db *database.DB) *SQLVisitEventRepository {
	return &SQLVisitEventRepository{db: db}
}

// RecordAuthenticatedVisit saves a new visit event to the database.
func (r *SQLVisitEventRepository) RecordAuthenticatedVisit(event *analytics.VisitEvent) error {
	const query = `
		INSERT INTO visit_events (id, community_id, user_id, visitor_division_id, community_division_id, is_cross_division, visited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(
		query,
		event.ID,
		event.CommunityID,
		event.UserID,
		event.VisitorDivisionID,
		event.CommunityDivisionID,
		event.IsCrossDivision,
		event.VisitedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// QueryVisitsByRange retrieves all visit events for a community inside [start, end).
func (r *SQLVisitEventRepository) QueryVisitsByRange(communityID string, start, end time.Time) ([]*analytics.VisitEvent, error) {
	const query = `
		SELECT id, community_id, user_id, visitor_division_id, community_division_id, is_cross_division, visited_at
		FROM visit_events
		WHERE community_id = ? AND visited_at >= ? AND visited_at < ?
		ORDER BY visited_at ASC`

	rows, err := r.db.Query(query, communityID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*analytics.VisitEvent
	for rows.Next() {
		event, err := r.scanVisitEventFromRows(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// CountDistinctVisitors counts distinct authenticated user IDs for a community inside [start, end).
func (r *SQLVisitEventRepository) CountDistinctVisitors(communityID string, start, end time.Time) (int, error) {
	const query = `
		SELECT COUNT(DISTINCT user_id)
		FROM visit_events
		WHERE community_id = ? AND visited_at >= ? AND visited_at < ?`

	var count int
	err := r.db.QueryRow(query, communityID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)).Scan(&count)
	return count, err
}

// DivisionSplit counts visit events by division relationship inside [start, end).
// Events without a visitor division fall into the none bucket.
func (r *SQLVisitEventRepository) DivisionSplit(communityID string, start, end time.Time) (same, cross, none int, err error) {
	const query = `
		SELECT
			COALESCE(SUM(CASE WHEN visitor_division_id IS NOT NULL AND is_cross_division = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN visitor_division_id IS NOT NULL AND is_cross_division = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN visitor_division_id IS NULL THEN 1 ELSE 0 END), 0)
		FROM visit_events
		WHERE community_id = ? AND visited_at >= ? AND visited_at < ?`

	err = r.db.QueryRow(query, communityID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)).Scan(&same, &cross, &none)
	return same, cross, none, err
}

// scanVisitEventFromRows is a helper function to scan from sql.Rows into a VisitEvent struct.
func (r *SQLVisitEventRepository) scanVisitEventFromRows(rows *sql.Rows) (*analytics.VisitEvent, error) {
	var event analytics.VisitEvent
	var visitorDivisionID sql.NullString
	var communityDivisionID sql.NullString
	var visitedAtStr string

	err := rows.Scan(
		&event.ID,
		&event.CommunityID,
		&event.UserID,
		&visitorDivisionID,
		&communityDivisionID,
		&event.IsCrossDivision,
		&visitedAtStr,
	)
	if err != nil {
		return nil, err
	}

	// Handle nullable division columns
	if visitorDivisionID.Valid {
		event.VisitorDivisionID = &visitorDivisionID.String
	}
	if communityDivisionID.Valid {
		event.CommunityDivisionID = &communityDivisionID.String
	}

	// Parse timestamp
	event.VisitedAt, err = parseTimestamp(visitedAtStr)
	if err != nil {
		return nil, err
	}

	return &event, nil
}

// parseTimestamp parses RFC3339 first and falls back to the SQLite default format.
func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", value)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t, nil
}
