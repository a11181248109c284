// Package services provides application-level orchestration services
package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/lvsuno/citinfos-go/internal/domain/analytics"
	"github.com/lvsuno/citinfos-go/internal/domain/presence"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/performance"
	keys "github.com/lvsuno/citinfos-go/internal/infrastructure/presence"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/security"
	"github.com/lvsuno/citinfos-go/pkg/config"
)

// VisitorEntry hash fields.
const (
	fieldIdentity      = "identity"
	fieldAuthenticated = "authenticated"
	fieldHomeDivision  = "home_division"
	fieldJoinedAt      = "joined_at"
	fieldLastActivity  = "last_activity"
	fieldPagesViewed   = "pages_viewed"
	fieldIPAddress     = "ip_address"
	fieldUserAgent     = "user_agent"
	fieldCrossDivision = "cross_division"
)

// VisitorTrackerService owns visitor join/leave/heartbeat semantics and every
// live presence read. The presence store is the only source of truth; the
// service holds no per-community state and is safe to run as multiple replicas.
type VisitorTrackerService struct {
	store           presence.Store
	visits          analytics.VisitEventRepository
	logger          *logging.ChanneledLogger
	perfTracker     *performance.Tracker
	clock           presence.Clock
	presenceTimeout time.Duration
}

// NewVisitorTrackerService creates a new visitor tracker service.
// The visit repository may be nil; durable visit recording is then skipped.
func NewVisitorTrackerService(store presence.Store, visits analytics.VisitEventRepository, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *VisitorTrackerService {
	return &VisitorTrackerService{
		store:           store,
		visits:          visits,
		logger:          logger,
		perfTracker:     perfTracker,
		clock:           func() time.Time { return time.Now().UTC() },
		presenceTimeout: config.PresenceTimeout,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *VisitorTrackerService) SetClock(clock presence.Clock) {
	s.clock = clock
}

// AddVisitorInput carries everything a join call knows about the visitor.
type AddVisitorInput struct {
	UserID              string
	CommunityID         string
	HomeDivisionID      *string
	CommunityDivisionID *string
	IsAuthenticated     bool
	DeviceFingerprint   string
	IPAddress           string
	UserAgent           string
}

// AddVisitor registers a visitor as present in a community and returns the
// post-mutation live count. Re-joining with the same identity updates the
// existing entry instead of duplicating it. A missing fingerprint on an
// anonymous join yields an Invalid result, not an error.
func (s *VisitorTrackerService) AddVisitor(ctx context.Context, input *AddVisitorInput) (*presence.AddVisitorResult, error) {
	marker := s.perfTracker.StartOperation("add_visitor", input.CommunityID)
	defer marker.Complete()

	identity, invalidReason := resolveIdentity(input)
	if invalidReason != "" {
		s.logger.Presence().Warn("Rejected visitor join", "communityId", input.CommunityID, "reason", invalidReason)
		marker.SetSuccess(true)
		return &presence.AddVisitorResult{Invalid: true, InvalidReason: invalidReason}, nil
	}

	now := s.clock()
	entryKey := keys.EntryKey(input.CommunityID, identity)

	previous, err := s.store.GetAll(ctx, entryKey)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	prevEntry, _, hadPrevious := decodeEntry(previous)

	crossDivision := input.HomeDivisionID != nil && input.CommunityDivisionID != nil &&
		*input.HomeDivisionID != *input.CommunityDivisionID

	entry := &presence.VisitorEntry{
		Identity:        identity,
		IsAuthenticated: input.IsAuthenticated,
		HomeDivisionID:  input.HomeDivisionID,
		JoinedAt:        now,
		LastActivity:    now,
		IPAddress:       input.IPAddress,
		UserAgent:       input.UserAgent,
	}
	if hadPrevious {
		entry.JoinedAt = prevEntry.JoinedAt
		entry.PagesViewed = prevEntry.PagesViewed
	}

	if err := s.store.SetFields(ctx, entryKey, encodeEntry(entry, crossDivision), s.presenceTimeout); err != nil {
		marker.SetError(err)
		return nil, err
	}
	if err := s.store.AddToSet(ctx, s.subsetKey(input.CommunityID, identity), string(identity), s.presenceTimeout); err != nil {
		marker.SetError(err)
		return nil, err
	}
	// Registry for the reaper. TTL slides past the presence window so a
	// community stays sweepable until its last entry has been evicted.
	if err := s.store.AddToSet(ctx, keys.ActiveCommunitiesKey, input.CommunityID, 2*s.presenceTimeout); err != nil {
		s.logger.Presence().Warn("Failed to register active community", "communityId", input.CommunityID, "error", err.Error())
	}

	// Live division gauge. A re-join with a different division supersedes
	// the previous one: decrement old bucket first, then count the new.
	newBucket := divisionBucket(input.IsAuthenticated, input.HomeDivisionID)
	prevBucket := ""
	if hadPrevious {
		prevBucket = divisionBucket(prevEntry.IsAuthenticated, prevEntry.HomeDivisionID)
	}
	if newBucket != prevBucket {
		if prevBucket != "" {
			s.decrementDivision(ctx, input.CommunityID, prevBucket)
		}
		if newBucket != "" {
			if _, err := s.store.IncrementField(ctx, keys.DivisionsKey(input.CommunityID), newBucket, 1, s.presenceTimeout); err != nil {
				marker.SetError(err)
				return nil, err
			}
		}
	}

	// Cross-division ledger: counts fresh join events only, never decremented.
	if crossDivision && !hadPrevious {
		edge := presence.EdgeMember(*input.HomeDivisionID, *input.CommunityDivisionID)
		if _, err := s.store.SortedSetIncrement(ctx, keys.CrossDivisionKey(input.CommunityID), edge, 1, s.presenceTimeout); err != nil {
			s.logger.Presence().Warn("Failed to record cross-division edge", "communityId", input.CommunityID, "edge", edge, "error", err.Error())
		}
	}

	count, err := s.liveCount(ctx, input.CommunityID)
	if err != nil {
		marker.SetError(err)
		return nil, err
	}
	s.updatePeaks(ctx, input.CommunityID, count, now)
	s.recordVisitEvent(input, crossDivision, hadPrevious, now)

	s.logger.Presence().Debug("Visitor joined",
		"communityId", input.CommunityID,
		"identity", string(identity),
		"authenticated", input.IsAuthenticated,
		"crossDivision", crossDivision,
		"count", count,
		"duration", time.Since(now))
	marker.SetSuccess(true)
	return &presence.AddVisitorResult{Count: count, CrossDivision: crossDivision}, nil
}

// RemoveVisitor removes a visitor from a community and returns the resulting
// live count. Removal of an unknown identity is a no-op. It never returns an
// error; store failures degrade to a zero count and are logged.
func (s *VisitorTrackerService) RemoveVisitor(ctx context.Context, identity presence.Identity, communityID string) int {
	marker := s.perfTracker.StartOperation("remove_visitor", communityID)
	defer marker.Complete()

	entryKey := keys.EntryKey(communityID, identity)
	fields, err := s.store.GetAll(ctx, entryKey)
	if err != nil {
		s.logger.Presence().Error("Failed to read entry on remove", "communityId", communityID, "identity", string(identity), "error", err.Error())
		marker.SetError(err)
		return 0
	}

	entry, _, exists := decodeEntry(fields)
	if exists {
		if err := s.store.Delete(ctx, entryKey); err != nil {
			s.logger.Presence().Error("Failed to delete entry", "communityId", communityID, "identity", string(identity), "error", err.Error())
		}
		if err := s.store.RemoveFromSet(ctx, s.subsetKey(communityID, identity), string(identity)); err != nil {
			s.logger.Presence().Error("Failed to remove from presence set", "communityId", communityID, "identity", string(identity), "error", err.Error())
		}
		if bucket := divisionBucket(entry.IsAuthenticated, entry.HomeDivisionID); bucket != "" {
			s.decrementDivision(ctx, communityID, bucket)
		}
	} else {
		// The entry may have expired ahead of its set membership. Drop the
		// stray member so derived counts converge.
		if err := s.store.RemoveFromSet(ctx, s.subsetKey(communityID, identity), string(identity)); err != nil {
			s.logger.Presence().Error("Failed to remove stray set member", "communityId", communityID, "identity", string(identity), "error", err.Error())
		}
	}

	count, err := s.liveCount(ctx, communityID)
	if err != nil {
		marker.SetError(err)
		return 0
	}

	if exists {
		s.logger.Presence().Debug("Visitor left", "communityId", communityID, "identity", string(identity), "count", count)
	}
	marker.SetSuccess(true)
	return count
}

// Heartbeat refreshes a visitor's last-activity timestamp and sliding TTL,
// optionally counting a page view. Returns presence.ErrNotFound when the
// entry has already expired so the caller can re-issue the join.
func (s *VisitorTrackerService) Heartbeat(ctx context.Context, identity presence.Identity, communityID string, incrementPageView bool) error {
	entryKey := keys.EntryKey(communityID, identity)
	fields, err := s.store.GetAll(ctx, entryKey)
	if err != nil {
		return err
	}
	entry, _, exists := decodeEntry(fields)
	if !exists {
		return presence.ErrNotFound
	}

	now := s.clock()
	if err := s.store.SetField(ctx, entryKey, fieldLastActivity, now.Format(time.RFC3339Nano), s.presenceTimeout); err != nil {
		return err
	}
	if incrementPageView {
		if _, err := s.store.IncrementField(ctx, entryKey, fieldPagesViewed, 1, s.presenceTimeout); err != nil {
			return err
		}
	}

	// Slide the derived keys along with the entry so they cannot expire
	// out from under a still-active population.
	if err := s.store.AddToSet(ctx, s.subsetKey(communityID, identity), string(identity), s.presenceTimeout); err != nil {
		return err
	}
	if bucket := divisionBucket(entry.IsAuthenticated, entry.HomeDivisionID); bucket != "" {
		if _, err := s.store.IncrementField(ctx, keys.DivisionsKey(communityID), bucket, 0, s.presenceTimeout); err != nil {
			return err
		}
	}
	return nil
}

// GetVisitorCount returns the live visitor count for a community.
func (s *VisitorTrackerService) GetVisitorCount(ctx context.Context, communityID string) (int, error) {
	return s.liveCount(ctx, communityID)
}

// GetAuthenticatedCount returns the live authenticated visitor count.
func (s *VisitorTrackerService) GetAuthenticatedCount(ctx context.Context, communityID string) (int, error) {
	n, err := s.store.SetLength(ctx, keys.AuthSetKey(communityID))
	return int(n), err
}

// GetAnonymousCount returns the live anonymous visitor count.
func (s *VisitorTrackerService) GetAnonymousCount(ctx context.Context, communityID string) (int, error) {
	n, err := s.store.SetLength(ctx, keys.AnonSetKey(communityID))
	return int(n), err
}

// GetVisitorStats returns the live population with percentage breakdown.
func (s *VisitorTrackerService) GetVisitorStats(ctx context.Context, communityID string) (*presence.VisitorStats, error) {
	authenticated, err := s.GetAuthenticatedCount(ctx, communityID)
	if err != nil {
		return nil, err
	}
	anonymous, err := s.GetAnonymousCount(ctx, communityID)
	if err != nil {
		return nil, err
	}

	stats := &presence.VisitorStats{
		Total:         authenticated + anonymous,
		Authenticated: authenticated,
		Anonymous:     anonymous,
	}
	if stats.Total > 0 {
		stats.AuthenticatedPercentage = float64(authenticated) / float64(stats.Total) * 100
		stats.AnonymousPercentage = float64(anonymous) / float64(stats.Total) * 100
	}
	return stats, nil
}

// GetVisitorList returns the live visitor entries for a community.
func (s *VisitorTrackerService) GetVisitorList(ctx context.Context, communityID string) ([]*presence.VisitorEntry, error) {
	entries, _, err := s.listEntries(ctx, communityID)
	return entries, err
}

// GetDivisionBreakdown returns the live per-division visitor gauge. Buckets
// that have decayed to zero are omitted.
func (s *VisitorTrackerService) GetDivisionBreakdown(ctx context.Context, communityID string) (map[string]int, error) {
	fields, err := s.store.GetAll(ctx, keys.DivisionsKey(communityID))
	if err != nil {
		return nil, err
	}

	breakdown := make(map[string]int)
	for division, raw := range fields {
		count, err := strconv.Atoi(raw)
		if err != nil || count <= 0 {
			continue
		}
		breakdown[division] = count
	}
	return breakdown, nil
}

// GetCrossDivisionStats returns the top cross-division edges by accumulated
// visits and the share of current visitors that arrived from another division.
func (s *VisitorTrackerService) GetCrossDivisionStats(ctx context.Context, communityID string) (*presence.CrossDivisionStats, error) {
	top, err := s.store.SortedSetTopN(ctx, keys.CrossDivisionKey(communityID), int64(config.TopCrossDivisionEdges))
	if err != nil {
		return nil, err
	}

	edges := make([]presence.CrossDivisionEdge, 0, len(top))
	for _, member := range top {
		home, visited, ok := strings.Cut(member.Member, "->")
		if !ok {
			continue
		}
		edges = append(edges, presence.CrossDivisionEdge{
			HomeDivisionID:      home,
			CommunityDivisionID: visited,
			Count:               int(member.Score),
		})
	}

	entries, crossCount, err := s.listEntries(ctx, communityID)
	if err != nil {
		return nil, err
	}

	stats := &presence.CrossDivisionStats{
		Edges:         edges,
		TotalVisitors: len(entries),
	}
	if stats.TotalVisitors > 0 {
		stats.CrossDivisionPercentage = float64(crossCount) / float64(stats.TotalVisitors) * 100
	}
	return stats, nil
}

// GetPeakCounts returns the maximum observed live counts for the current
// daily, weekly, and monthly windows.
func (s *VisitorTrackerService) GetPeakCounts(ctx context.Context, communityID string) (*presence.PeakCounts, error) {
	now := s.clock()
	peaks := &presence.PeakCounts{}

	for _, w := range []struct {
		window presence.PeakWindow
		target *int
	}{
		{presence.PeakDaily, &peaks.Daily},
		{presence.PeakWeekly, &peaks.Weekly},
		{presence.PeakMonthly, &peaks.Monthly},
	} {
		raw, ok, err := s.store.Get(ctx, keys.PeakKey(communityID, w.window, now))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if value, err := strconv.Atoi(raw); err == nil {
			*w.target = value
		}
	}
	return peaks, nil
}

func resolveIdentity(input *AddVisitorInput) (presence.Identity, string) {
	if input.IsAuthenticated {
		if input.UserID == "" {
			return "", "user id required for authenticated visitor"
		}
		return presence.Identity(input.UserID), ""
	}
	if input.DeviceFingerprint == "" {
		return "", "device fingerprint required for anonymous visitor"
	}
	return presence.AnonymousIdentity(input.DeviceFingerprint), ""
}

// divisionBucket maps a visitor to its live-gauge bucket. Anonymous visitors
// are excluded; authenticated visitors without a home division fall into the
// unknown bucket.
func divisionBucket(isAuthenticated bool, homeDivisionID *string) string {
	if !isAuthenticated {
		return ""
	}
	if homeDivisionID == nil || *homeDivisionID == "" {
		return presence.UnknownDivisionBucket
	}
	return *homeDivisionID
}

func (s *VisitorTrackerService) subsetKey(communityID string, identity presence.Identity) string {
	if identity.IsAnonymous() {
		return keys.AnonSetKey(communityID)
	}
	return keys.AuthSetKey(communityID)
}

func (s *VisitorTrackerService) liveCount(ctx context.Context, communityID string) (int, error) {
	authenticated, err := s.store.SetLength(ctx, keys.AuthSetKey(communityID))
	if err != nil {
		return 0, err
	}
	anonymous, err := s.store.SetLength(ctx, keys.AnonSetKey(communityID))
	if err != nil {
		return 0, err
	}
	return int(authenticated + anonymous), nil
}

// decrementDivision applies the floor-guarded gauge decrement. The gauge is
// advisory, so a decrement that briefly undershoots is clamped back to zero
// rather than coordinated with a lock.
func (s *VisitorTrackerService) decrementDivision(ctx context.Context, communityID, bucket string) {
	value, err := s.store.IncrementField(ctx, keys.DivisionsKey(communityID), bucket, -1, s.presenceTimeout)
	if err != nil {
		s.logger.Presence().Error("Failed to decrement division gauge", "communityId", communityID, "division", bucket, "error", err.Error())
		return
	}
	if value < 0 {
		if _, err := s.store.IncrementField(ctx, keys.DivisionsKey(communityID), bucket, -value, s.presenceTimeout); err != nil {
			s.logger.Presence().Error("Failed to clamp division gauge", "communityId", communityID, "division", bucket, "error", err.Error())
		}
	}
}

// updatePeaks raises the per-window peak counters on strict increase only.
// Peak maintenance is best-effort and never fails the join.
func (s *VisitorTrackerService) updatePeaks(ctx context.Context, communityID string, count int, now time.Time) {
	for _, w := range []struct {
		window presence.PeakWindow
		ttl    time.Duration
	}{
		{presence.PeakDaily, config.PeakDailyTTL},
		{presence.PeakWeekly, config.PeakWeeklyTTL},
		{presence.PeakMonthly, config.PeakMonthlyTTL},
	} {
		key := keys.PeakKey(communityID, w.window, now)
		raw, ok, err := s.store.Get(ctx, key)
		if err != nil {
			s.logger.Presence().Warn("Failed to read peak counter", "communityId", communityID, "window", string(w.window), "error", err.Error())
			return
		}
		if ok {
			if current, err := strconv.Atoi(raw); err == nil && current >= count {
				continue
			}
		}
		if err := s.store.Set(ctx, key, strconv.Itoa(count), w.ttl); err != nil {
			s.logger.Presence().Warn("Failed to update peak counter", "communityId", communityID, "window", string(w.window), "error", err.Error())
		}
	}
}

// recordVisitEvent appends the durable visit row for fresh authenticated
// joins. Best-effort: the live mutation has already succeeded.
func (s *VisitorTrackerService) recordVisitEvent(input *AddVisitorInput, crossDivision, hadPrevious bool, now time.Time) {
	if s.visits == nil || !input.IsAuthenticated || hadPrevious {
		return
	}

	event := &analytics.VisitEvent{
		ID:                  security.GenerateULID(),
		CommunityID:         input.CommunityID,
		UserID:              input.UserID,
		VisitorDivisionID:   input.HomeDivisionID,
		CommunityDivisionID: input.CommunityDivisionID,
		IsCrossDivision:     crossDivision,
		VisitedAt:           now,
	}
	if err := s.visits.RecordAuthenticatedVisit(event); err != nil {
		s.logger.Presence().Warn("Failed to record visit event", "communityId", input.CommunityID, "userId", input.UserID, "error", err.Error())
	}
}

// listEntries loads every live entry for a community along with the number
// of cross-division visitors among them.
func (s *VisitorTrackerService) listEntries(ctx context.Context, communityID string) ([]*presence.VisitorEntry, int, error) {
	authenticated, err := s.store.SetMembers(ctx, keys.AuthSetKey(communityID))
	if err != nil {
		return nil, 0, err
	}
	anonymous, err := s.store.SetMembers(ctx, keys.AnonSetKey(communityID))
	if err != nil {
		return nil, 0, err
	}

	members := make([]string, 0, len(authenticated)+len(anonymous))
	members = append(members, authenticated...)
	members = append(members, anonymous...)

	entries := make([]*presence.VisitorEntry, 0, len(members))
	crossCount := 0
	for _, member := range members {
		fields, err := s.store.GetAll(ctx, keys.EntryKey(communityID, presence.Identity(member)))
		if err != nil {
			return nil, 0, err
		}
		entry, cross, exists := decodeEntry(fields)
		if !exists {
			// Entry expired ahead of its set membership; skip it, the
			// reaper or the next remove will reconcile the set.
			continue
		}
		entries = append(entries, entry)
		if cross {
			crossCount++
		}
	}
	return entries, crossCount, nil
}

func encodeEntry(entry *presence.VisitorEntry, crossDivision bool) map[string]string {
	fields := map[string]string{
		fieldIdentity:      string(entry.Identity),
		fieldAuthenticated: boolField(entry.IsAuthenticated),
		fieldJoinedAt:      entry.JoinedAt.Format(time.RFC3339Nano),
		fieldLastActivity:  entry.LastActivity.Format(time.RFC3339Nano),
		fieldPagesViewed:   strconv.Itoa(entry.PagesViewed),
		fieldIPAddress:     entry.IPAddress,
		fieldUserAgent:     entry.UserAgent,
		fieldCrossDivision: boolField(crossDivision),
	}
	if entry.HomeDivisionID != nil {
		fields[fieldHomeDivision] = *entry.HomeDivisionID
	} else {
		fields[fieldHomeDivision] = ""
	}
	return fields
}

func decodeEntry(fields map[string]string) (entry *presence.VisitorEntry, crossDivision bool, ok bool) {
	if len(fields) == 0 {
		return nil, false, false
	}

	entry = &presence.VisitorEntry{
		Identity:        presence.Identity(fields[fieldIdentity]),
		IsAuthenticated: fields[fieldAuthenticated] == "1",
		IPAddress:       fields[fieldIPAddress],
		UserAgent:       fields[fieldUserAgent],
	}
	if division := fields[fieldHomeDivision]; division != "" {
		entry.HomeDivisionID = &division
	}
	if joined, err := time.Parse(time.RFC3339Nano, fields[fieldJoinedAt]); err == nil {
		entry.JoinedAt = joined
	}
	if activity, err := time.Parse(time.RFC3339Nano, fields[fieldLastActivity]); err == nil {
		entry.LastActivity = activity
	}
	if pages, err := strconv.Atoi(fields[fieldPagesViewed]); err == nil {
		entry.PagesViewed = pages
	}
	return entry, fields[fieldCrossDivision] == "1", true
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
