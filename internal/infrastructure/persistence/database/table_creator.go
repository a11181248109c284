// Package database provides schema instantiation for the durable event store.
package database

import (
	"database/sql"
	"fmt"
)

// TableCreator handles the creation of the analytics database schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the tables and indexes.
func (tc *TableCreator) CreateSchema(db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS communities (id TEXT PRIMARY KEY, name TEXT NOT NULL, slug TEXT NOT NULL UNIQUE, division_id TEXT)`,
	`CREATE TABLE IF NOT EXISTS visit_events (id TEXT PRIMARY KEY, community_id TEXT NOT NULL REFERENCES communities(id), user_id TEXT NOT NULL, visitor_division_id TEXT, community_division_id TEXT, is_cross_division BOOLEAN NOT NULL DEFAULT 0, visited_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP)`,
	`CREATE TABLE IF NOT EXISTS anonymous_sessions (id TEXT PRIMARY KEY, fingerprint TEXT NOT NULL, device_type TEXT, browser TEXT, os TEXT, landing_page TEXT, started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP, converted_to_user TEXT, converted_at TIMESTAMP)`,
	`CREATE TABLE IF NOT EXISTS anonymous_page_views (id TEXT PRIMARY KEY, session_id TEXT NOT NULL REFERENCES anonymous_sessions(id), fingerprint TEXT NOT NULL, url TEXT NOT NULL, viewed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_communities_slug ON communities(slug)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_events_community_id ON visit_events(community_id)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_events_visited_at ON visit_events(visited_at)`,
	`CREATE INDEX IF NOT EXISTS idx_visit_events_user_id ON visit_events(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_anonymous_sessions_fingerprint ON anonymous_sessions(fingerprint)`,
	`CREATE INDEX IF NOT EXISTS idx_anonymous_sessions_started_at ON anonymous_sessions(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_anonymous_sessions_converted_at ON anonymous_sessions(converted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_anonymous_page_views_session_id ON anonymous_page_views(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_anonymous_page_views_url ON anonymous_page_views(url)`,
	`CREATE INDEX IF NOT EXISTS idx_anonymous_page_views_viewed_at ON anonymous_page_views(viewed_at)`,
}
