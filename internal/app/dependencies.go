package app

import (
	"database/sql"
	"time"

	"github.com/mayanayza/transit-calendar-blocker/internal/config"
	"github.com/mayanayza/transit-calendar-blocker/internal/scheduler"
	"github.com/mayanayza/transit-calendar-blocker/internal/utils"
	"github.com/mayanayza/transit-calendar-blocker/pkg/caldav"
	"github.com/mayanayza/transit-calendar-blocker/pkg/planner"
	"github.com/mayanayza/transit-calendar-blocker/pkg/routing"
	"github.com/mayanayza/transit-calendar-blocker/pkg/sync"
	"github.com/mayanayza/transit-calendar-blocker/pkg/tracking"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	Clock utils.Clock

	TrackingRepo tracking.Repository

	SourceCalendar      caldav.SourceCalendar
	DestinationCalendar caldav.DestinationCalendar

	Resolver *routing.Resolver
	Planner  *planner.Planner

	Reconciler *sync.Reconciler
	Scheduler  *scheduler.Scheduler

	SyncHandler *sync.Handler
}

// BuildDependencies wires repositories, clients, and services together.
func BuildDependencies(db *sql.DB, cfg config.Application, loc *time.Location) *Dependencies {
	clock := utils.SystemClock{}

	repo := tracking.NewRepository(db)
	source := caldav.NewSourceClient(cfg.Source)
	dest := caldav.NewDestinationClient(cfg.Destination)

	resolver := routing.NewResolver(routing.NewHereClient(cfg.Here.APIKey), routing.DefaultCacheTTL)
	p := planner.New(resolver, planner.Options{
		HomeAddress: cfg.Transit.HomeAddress,
		Mode:        cfg.Transit.Mode,
		MaxTransit:  cfg.MaxTransitDuration(),
	})

	reconciler := sync.NewReconciler(source, dest, repo, p, resolver, clock, loc, cfg.Transit.LookForwardDays)

	// Format already checked by config validation.
	dailyHour, dailyMinute, _ := cfg.Schedule.DailyUpdateAt()
	sched := scheduler.New(reconciler, cfg.CheckInterval(), dailyHour, dailyMinute, loc)

	return &Dependencies{
		Clock:               clock,
		TrackingRepo:        repo,
		SourceCalendar:      source,
		DestinationCalendar: dest,
		Resolver:            resolver,
		Planner:             p,
		Reconciler:          reconciler,
		Scheduler:           sched,
		SyncHandler:         sync.NewHandler(reconciler, sched.Notify),
	}
}
