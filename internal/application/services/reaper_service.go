package services

import (
	"context"
	"time"

	"github.com/lvsuno/citinfos-go/internal/domain/presence"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	keys "github.com/lvsuno/citinfos-go/internal/infrastructure/presence"
	"github.com/lvsuno/citinfos-go/pkg/config"
)

// StaleVisitorReaperService evicts visitors whose last activity exceeds the
// presence timeout. Eviction goes through the tracker's removal path, which
// is idempotent, so concurrent sweeps from multiple replicas are safe.
type StaleVisitorReaperService struct {
	tracker         *VisitorTrackerService
	store           presence.Store
	logger          *logging.ChanneledLogger
	clock           presence.Clock
	presenceTimeout time.Duration
	sweepInterval   time.Duration
}

// NewStaleVisitorReaperService creates a new reaper service.
func NewStaleVisitorReaperService(tracker *VisitorTrackerService, store presence.Store, logger *logging.ChanneledLogger) *StaleVisitorReaperService {
	return &StaleVisitorReaperService{
		tracker:         tracker,
		store:           store,
		logger:          logger,
		clock:           func() time.Time { return time.Now().UTC() },
		presenceTimeout: config.PresenceTimeout,
		sweepInterval:   config.SweepInterval,
	}
}

// SetClock overrides the staleness time source. Used by tests.
func (s *StaleVisitorReaperService) SetClock(clock presence.Clock) {
	s.clock = clock
}

// Start begins the sweep routine on the configured interval.
func (s *StaleVisitorReaperService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Presence().Info("Stale visitor reaper started", "interval", s.sweepInterval, "presenceTimeout", s.presenceTimeout)

	for {
		select {
		case <-ctx.Done():
			s.logger.Presence().Info("Stale visitor reaper stopping")
			return
		case <-ticker.C:
			s.SweepAll(ctx)
		}
	}
}

// SweepAll sweeps every community in the active registry and returns the
// total number of evicted visitors.
func (s *StaleVisitorReaperService) SweepAll(ctx context.Context) int {
	start := time.Now()

	communities, err := s.store.SetMembers(ctx, keys.ActiveCommunitiesKey)
	if err != nil {
		s.logger.Presence().Error("Sweep failed to list active communities", "error", err.Error())
		return 0
	}

	var totalRemoved int
	for _, communityID := range communities {
		select {
		case <-ctx.Done():
			return totalRemoved
		default:
			totalRemoved += s.Sweep(ctx, communityID)
		}
	}

	if totalRemoved > 0 {
		s.logger.Presence().Info("Sweep finished",
			"communities", len(communities),
			"removed", totalRemoved,
			"duration", time.Since(start))
	}
	return totalRemoved
}

// Sweep evicts every visitor in a community whose last activity is older
// than the presence timeout and returns the number of evictions. Members
// whose entry hash has already expired out from under the presence sets are
// evicted too, reconciling the derived counts.
func (s *StaleVisitorReaperService) Sweep(ctx context.Context, communityID string) int {
	cutoff := s.clock().Add(-s.presenceTimeout)

	authenticated, err := s.store.SetMembers(ctx, keys.AuthSetKey(communityID))
	if err != nil {
		s.logger.Presence().Error("Sweep failed to list visitors", "communityId", communityID, "error", err.Error())
		return 0
	}
	anonymous, err := s.store.SetMembers(ctx, keys.AnonSetKey(communityID))
	if err != nil {
		s.logger.Presence().Error("Sweep failed to list visitors", "communityId", communityID, "error", err.Error())
		return 0
	}

	var removed int
	for _, member := range append(authenticated, anonymous...) {
		identity := presence.Identity(member)
		fields, err := s.store.GetAll(ctx, keys.EntryKey(communityID, identity))
		if err != nil {
			s.logger.Presence().Error("Sweep failed to read entry", "communityId", communityID, "identity", member, "error", err.Error())
			continue
		}

		lastActivity, alive := lastActivityOf(fields)
		if alive && !lastActivity.Before(cutoff) {
			continue
		}
		s.tracker.RemoveVisitor(ctx, identity, communityID)
		removed++
		s.logger.Presence().Debug("Evicted stale visitor",
			"communityId", communityID,
			"identity", member,
			"lastActivity", lastActivity)
	}
	return removed
}

func lastActivityOf(fields map[string]string) (time.Time, bool) {
	if len(fields) == 0 {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, fields[fieldLastActivity])
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}
