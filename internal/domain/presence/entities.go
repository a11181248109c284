// Package presence defines the entities and contracts for live visitor
// tracking. The ephemeral presence store is the only source of truth for
// who is currently viewing a community; everything here is derived from it.
package presence

import (
	"fmt"
	"time"
)

// AnonymousIdentityPrefix marks identities derived from a device fingerprint.
const AnonymousIdentityPrefix = "anon_"

// Identity is the canonical key for a visitor: the user ID for authenticated
// visitors, or "anon_<fingerprint>" for anonymous ones.
type Identity string

// AnonymousIdentity builds the canonical identity for a device fingerprint.
func AnonymousIdentity(fingerprint string) Identity {
	return Identity(AnonymousIdentityPrefix + fingerprint)
}

// IsAnonymous reports whether the identity belongs to an anonymous visitor.
func (id Identity) IsAnonymous() bool {
	return len(id) > len(AnonymousIdentityPrefix) && id[:len(AnonymousIdentityPrefix)] == AnonymousIdentityPrefix
}

// VisitorEntry is the ephemeral record of one active visitor in one
// community. Owned exclusively by the tracker; callers never mutate it.
type VisitorEntry struct {
	Identity        Identity  `json:"identity"`
	IsAuthenticated bool      `json:"isAuthenticated"`
	HomeDivisionID  *string   `json:"homeDivisionId,omitempty"`
	JoinedAt        time.Time `json:"joinedAt"`
	LastActivity    time.Time `json:"lastActivity"`
	PagesViewed     int       `json:"pagesViewed"`
	IPAddress       string    `json:"ipAddress"`
	UserAgent       string    `json:"userAgent"`
}

// AddVisitorResult is returned by the tracker's AddVisitor operation.
// Invalid carries the InvalidVisitor condition (missing fingerprint for an
// anonymous join); it is a structured result, not an error.
type AddVisitorResult struct {
	Count         int    `json:"count"`
	CrossDivision bool   `json:"crossDivision"`
	Invalid       bool   `json:"invalid"`
	InvalidReason string `json:"invalidReason,omitempty"`
}

// VisitorStats is a percentage breakdown of the live population.
type VisitorStats struct {
	Total                   int     `json:"total"`
	Authenticated           int     `json:"authenticated"`
	Anonymous               int     `json:"anonymous"`
	AuthenticatedPercentage float64 `json:"authenticatedPercentage"`
	AnonymousPercentage     float64 `json:"anonymousPercentage"`
}

// CrossDivisionEdge is a (home division -> community division) pair with an
// accumulated visit counter. It is a ledger: never decremented on leave.
type CrossDivisionEdge struct {
	HomeDivisionID      string `json:"homeDivisionId"`
	CommunityDivisionID string `json:"communityDivisionId"`
	Count               int    `json:"count"`
}

// EdgeMember is the stored member key for a cross-division edge.
func EdgeMember(homeDivisionID, communityDivisionID string) string {
	return fmt.Sprintf("%s->%s", homeDivisionID, communityDivisionID)
}

// CrossDivisionStats bundles the top edges with the share of visitors that
// arrived from another division.
type CrossDivisionStats struct {
	Edges                   []CrossDivisionEdge `json:"edges"`
	TotalVisitors           int                 `json:"totalVisitors"`
	CrossDivisionPercentage float64             `json:"crossDivisionPercentage"`
}

// PeakWindow identifies one of the rolling peak-count windows.
type PeakWindow string

const (
	PeakDaily   PeakWindow = "daily"
	PeakWeekly  PeakWindow = "weekly"
	PeakMonthly PeakWindow = "monthly"
)

// PeakCounts reports the maximum observed live count per window.
type PeakCounts struct {
	Daily   int `json:"daily"`
	Weekly  int `json:"weekly"`
	Monthly int `json:"monthly"`
}

// UnknownDivisionBucket collects authenticated visitors without a home
// division in the live division breakdown.
const UnknownDivisionBucket = "unknown"
