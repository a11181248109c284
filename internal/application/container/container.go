// Package container provides dependency injection for all singleton services
package container

import (
	"github.com/lvsuno/citinfos-go/internal/application/services"
	"github.com/lvsuno/citinfos-go/internal/domain/analytics"
	"github.com/lvsuno/citinfos-go/internal/domain/community"
	"github.com/lvsuno/citinfos-go/internal/domain/presence"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/messaging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/logging"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/observability/performance"
	communityrepo "github.com/lvsuno/citinfos-go/internal/infrastructure/persistence/community"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/persistence/database"
	"github.com/lvsuno/citinfos-go/internal/infrastructure/persistence/visits"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	// Application Services (stateless singletons)
	TrackerService   *services.VisitorTrackerService
	AnalyticsService *services.VisitorAnalyticsService
	ReaperService    *services.StaleVisitorReaperService

	// Infrastructure Dependencies
	PresenceStore      presence.Store
	Broadcaster        messaging.Broadcaster
	CommunityDirectory community.Directory
	VisitEvents        analytics.VisitEventRepository
	AnonymousSessions  analytics.AnonymousSessionRepository
	DB                 *database.DB
	Logger             *logging.ChanneledLogger
	PerfTracker        *performance.Tracker
}

// NewContainer creates and wires all singleton services
func NewContainer(store presence.Store, db *database.DB, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *Container {
	visitEvents := visits.NewSQLVisitEventRepository(db)
	anonymousSessions := visits.NewSQLAnonymousSessionRepository(db)
	directory := communityrepo.NewSQLCommunityRepository(db)
	broadcaster := messaging.NewPresenceBroadcaster(logger)

	trackerService := services.NewVisitorTrackerService(store, visitEvents, logger, perfTracker)
	analyticsService := services.NewVisitorAnalyticsService(visitEvents, anonymousSessions, directory, trackerService, logger, perfTracker)
	reaperService := services.NewStaleVisitorReaperService(trackerService, store, logger)

	return &Container{
		TrackerService:   trackerService,
		AnalyticsService: analyticsService,
		ReaperService:    reaperService,

		PresenceStore:      store,
		Broadcaster:        broadcaster,
		CommunityDirectory: directory,
		VisitEvents:        visitEvents,
		AnonymousSessions:  anonymousSessions,
		DB:                 db,
		Logger:             logger,
		PerfTracker:        perfTracker,
	}
}
