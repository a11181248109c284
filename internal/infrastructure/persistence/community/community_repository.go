// Package community provides the SQL-based implementation of the
// community directory.
package community

import (
	"database/sql"

	"github.com/lvsuno/citinfos-go/internal/domain/community"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/persistence/database"
)

// SQLCommunityRepository is the SQL-based implementation of the community Directory.
type SQLCommunityRepository struct {
	db *database.DB
}

// NewSQLCommunityRepository creates a new instance of the repository.
func NewSQLCommunityRepository(db *database.DB) *SQLCommunityRepository {
	return &SQLCommunityRepository{db: db}
}

// CommunityExists reports whether a community with the given ID exists.
func (r *SQLCommunityRepository) CommunityExists(id string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM communities WHERE id = ?)`

	var exists bool
	err := r.db.QueryRow(query, id).Scan(&exists)
	return exists, err
}

// CommunityDivision returns the administrative division of a community,
// or nil when the community has none.
func (r *SQLCommunityRepository) CommunityDivision(id string) (*string, error) {
	const query = `SELECT division_id FROM communities WHERE id = ?`

	var divisionID sql.NullString
	err := r.db.QueryRow(query, id).Scan(&divisionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, community.ErrUnknownCommunity
		}
		return nil, err
	}

	if !divisionID.Valid {
		return nil, nil
	}
	return &divisionID.String, nil
}

// CommunitySlug returns the URL slug of a community.
func (r *SQLCommunityRepository) CommunitySlug(id string) (string, error) {
	const query = `SELECT slug FROM communities WHERE id = ?`

	var slug string
	err := r.db.QueryRow(query, id).Scan(&slug)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", community.ErrUnknownCommunity
		}
		return "", err
	}
	return slug, nil
}

// Upsert inserts or updates a community row. It backs directory sync and tests.
func (r *SQLCommunityRepository) Upsert(c *community.Community) error {
	const query = `
		INSERT INTO communities (id, name, slug, division_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, slug = excluded.slug, division_id = excluded.division_id`

	_, err := r.db.Exec(query, c.ID, c.Name, c.Slug, c.DivisionID)
	return err
}
