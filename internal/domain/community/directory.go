// Package community defines the collaborator interface for community
// lookups. The engine never owns community records; it only needs
// existence, division association, and the slug for URL-pattern matching
// in historical queries.
package community

import "errors"

// ErrUnknownCommunity signals a lookup against a community ID the
// directory has no record of.
var ErrUnknownCommunity = errors.New("community: unknown community")

// Community is the read-model of a community as the engine sees it.
type Community struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Slug       string  `json:"slug"`
	DivisionID *string `json:"divisionId,omitempty"`
}

// Directory is the lookup contract consumed by the engine.
type Directory interface {
	CommunityExists(id string) (bool, error)
	CommunityDivision(id string) (*string, error)
	CommunitySlug(id string) (string, error)
}
