package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mayanayza/transit-calendar-blocker/internal/utils"
	"github.com/mayanayza/transit-calendar-blocker/pkg/caldav"
	"github.com/mayanayza/transit-calendar-blocker/pkg/event"
	"github.com/mayanayza/transit-calendar-blocker/pkg/planner"
	"github.com/mayanayza/transit-calendar-blocker/pkg/routing"
	"github.com/mayanayza/transit-calendar-blocker/pkg/tracking"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrCycleInProgress is returned when a sync cycle is requested while a
// previous one is still running. The caller is expected to drop the request,
// the running cycle already covers the full look-forward window.
var ErrCycleInProgress = errors.New("sync cycle already in progress")

const (
	// DefaultRetentionDays is how long records for past days are kept before
	// the weekly cleanup removes them.
	DefaultRetentionDays = 7

	// defaultDayConcurrency bounds how many days are replanned in parallel
	// within a single cycle.
	defaultDayConcurrency = 4
)

// CacheInvalidator drops cached travel time estimates touching an address.
// Satisfied by routing.Resolver.
type CacheInvalidator interface {
	Invalidate(address string)
}

// Result summarizes a single sync cycle.
type Result struct {
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
	EventsFetched int       `json:"eventsFetched"`
	EventsRemoved int       `json:"eventsRemoved"`
	DaysPlanned   int       `json:"daysPlanned"`
	DaysFailed    int       `json:"daysFailed"`
	LegsCreated   int       `json:"legsCreated"`
	LegsDeleted   int       `json:"legsDeleted"`
	LegsUnchanged int       `json:"legsUnchanged"`
}

// Status is a point-in-time view of the reconciler for the status endpoint.
type Status struct {
	Running    bool       `json:"running"`
	LastResult *Result    `json:"lastResult,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
}

// Reconciler keeps the destination calendar's transit events consistent with
// the source calendar over a rolling look-forward window.
type Reconciler struct {
	source          caldav.SourceCalendar
	dest            caldav.DestinationCalendar
	repo            tracking.Repository
	planner         *planner.Planner
	cache           CacheInvalidator
	clock           utils.Clock
	loc             *time.Location
	lookForwardDays int
	retentionDays   int
	dayConcurrency  int

	mu         sync.Mutex
	running    bool
	lastResult *Result
	lastErr    error
	lastRun    time.Time
}

func NewReconciler(
	source caldav.SourceCalendar,
	dest caldav.DestinationCalendar,
	repo tracking.Repository,
	p *planner.Planner,
	cache CacheInvalidator,
	clock utils.Clock,
	loc *time.Location,
	lookForwardDays int,
) *Reconciler {
	return &Reconciler{
		source:          source,
		dest:            dest,
		repo:            repo,
		planner:         p,
		cache:           cache,
		clock:           clock,
		loc:             loc,
		lookForwardDays: lookForwardDays,
		retentionDays:   DefaultRetentionDays,
		dayConcurrency:  defaultDayConcurrency,
	}
}

// Status reports whether a cycle is running and the outcome of the last one.
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Status{Running: r.running, LastResult: r.lastResult}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	if !r.lastRun.IsZero() {
		run := r.lastRun
		s.LastRun = &run
	}
	return s
}

// RunCycle executes one full reconciliation over the look-forward window:
// fetch source events, detect new, modified and removed ones, replan the
// affected days and commit fingerprints for days that planned cleanly.
// At most one cycle runs at a time, concurrent calls get ErrCycleInProgress.
func (r *Reconciler) RunCycle(ctx context.Context) (*Result, error) {
	if !r.begin() {
		log.Info("sync cycle still running, skipping this tick")
		return nil, ErrCycleInProgress
	}

	windowStart := dayStart(r.clock.Now().In(r.loc))
	windowEnd := windowStart.AddDate(0, 0, r.lookForwardDays)

	res, err := r.reconcileWindow(ctx, windowStart, windowEnd)
	r.end(res, err)
	return res, err
}

// RunDailyUpdate plans the day that just entered the look-forward window.
// The interval cycle only replans days whose events changed, so without this
// the far edge of the window would stay empty until an event there changed.
func (r *Reconciler) RunDailyUpdate(ctx context.Context) error {
	if !r.begin() {
		log.Info("sync cycle still running, skipping daily update")
		return ErrCycleInProgress
	}

	edge := dayStart(r.clock.Now().In(r.loc)).AddDate(0, 0, r.lookForwardDays-1)
	log.Infof("daily update: planning day %s", edge.Format(tracking.DayFormat))

	res, err := r.reconcileWindow(ctx, edge, edge.AddDate(0, 0, 1))
	r.end(res, err)
	return err
}

// Cleanup purges transit events and store records for days older than the
// retention period, destination first so a stale record is never dropped
// while its calendar event still exists.
func (r *Reconciler) Cleanup(ctx context.Context) error {
	cutoffDay := dayStart(r.clock.Now().In(r.loc)).AddDate(0, 0, -r.retentionDays).Format(tracking.DayFormat)

	stale, err := r.repo.ListTransitBefore(ctx, cutoffDay)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	failed := 0
	for _, rec := range stale {
		if err := r.dest.DeleteEvent(ctx, rec.ID.String()); err != nil {
			log.Warnf("cleanup could not delete transit event %s: %v", rec.ID, err)
			failed++
			continue
		}
		if err := r.repo.DeleteTransitRecord(ctx, rec.ID); err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
	}
	if failed > 0 {
		// Keep the store rows so the surviving destination events are
		// still addressable on the next cleanup.
		return fmt.Errorf("cleanup incomplete: %d transit event(s) could not be deleted", failed)
	}

	removed, err := r.repo.Cleanup(ctx, cutoffDay)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	log.Infof("cleanup removed %d tracked events and %d transit events before %s", removed, len(stale), cutoffDay)
	return nil
}

func (r *Reconciler) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Reconciler) end(res *Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.lastErr = err
	r.lastRun = r.clock.Now()
	if res != nil {
		r.lastResult = res
	}
}

func (r *Reconciler) reconcileWindow(ctx context.Context, from, to time.Time) (*Result, error) {
	res := &Result{StartedAt: r.clock.Now()}
	defer func() { res.FinishedAt = r.clock.Now() }()

	fetched, err := r.source.FetchEvents(ctx, from, to)
	if err != nil {
		return res, fmt.Errorf("fetching source events: %w", err)
	}
	res.EventsFetched = len(fetched)

	fromDay := from.Format(tracking.DayFormat)
	toDay := to.AddDate(0, 0, -1).Format(tracking.DayFormat)
	tracked, err := r.repo.ListTrackedInWindow(ctx, fromDay, toDay)
	if err != nil {
		return res, fmt.Errorf("listing tracked events: %w", err)
	}
	trackedByUID := make(map[string]tracking.TrackedEvent, len(tracked))
	trackedUIDs := make([]string, 0, len(tracked))
	for _, t := range tracked {
		trackedByUID[t.UID] = t
		trackedUIDs = append(trackedUIDs, t.UID)
	}

	eventsByDay := make(map[string][]event.SourceEvent)
	for _, e := range fetched {
		if !e.HasLocation() {
			continue
		}
		day := e.Day(r.loc)
		eventsByDay[day] = append(eventsByDay[day], e)
	}

	// Classify fetched events against their stored fingerprints and record
	// the days whose transit has to be rebuilt. A changed event's fingerprint
	// may only be committed once every day it dirtied has committed, so each
	// one carries its day set forward to the commit loop.
	dirty := make(map[string]bool)
	pending := make(map[string]pendingMark)
	for _, e := range fetched {
		if !e.HasLocation() {
			continue
		}
		day := e.Day(r.loc)
		prev, known := trackedByUID[e.UID]
		cls := event.Classify(e, prev.Fingerprint)
		if cls != event.Unchanged {
			log.Debugf("event %s (%s) classified as %s", e.UID, e.Title, cls)
			dirty[day] = true
			days := map[string]bool{day: true}
			if known && prev.Day != day {
				// Event moved to another day, rebuild the old one too.
				dirty[prev.Day] = true
				days[prev.Day] = true
			}
			pending[e.UID] = pendingMark{ev: e, days: days}
		}
		if cls == event.Modified {
			r.invalidate(prev.Location, e.Location)
		}
		snapshot := tracking.TrackedEvent{
			UID:       e.UID,
			Title:     e.Title,
			Location:  e.Location,
			StartTime: e.StartTime,
			EndTime:   e.EndTime,
			Day:       day,
		}
		if err := r.repo.UpsertSnapshot(ctx, snapshot); err != nil {
			return res, fmt.Errorf("storing snapshot for %s: %w", e.UID, err)
		}
	}

	// Events that disappeared from the source. Their transit is torn down
	// directly, the day replan afterwards handles the surviving neighbors.
	blocked := make(map[string]bool)
	for _, uid := range event.RemovedUIDs(trackedUIDs, fetched) {
		prev := trackedByUID[uid]
		dirty[prev.Day] = true
		r.invalidate(prev.Location)
		if err := r.teardownRemoved(ctx, prev); err != nil {
			log.Warnf("could not fully remove transit for %s, keeping day %s for retry: %v", uid, prev.Day, err)
			blocked[prev.Day] = true
			continue
		}
		res.EventsRemoved++
	}

	days := make([]string, 0, len(dirty))
	for day := range dirty {
		if blocked[day] {
			continue
		}
		days = append(days, day)
	}
	if len(days) == 0 {
		log.Debug("no days need replanning")
		return res, nil
	}
	log.Infof("replanning %d day(s)", len(days))

	// Stage all days with bounded parallelism, then join before any store
	// commit: no day's records are committed while another day is still
	// resolving.
	var stagedMu sync.Mutex
	staged := make([]*stagedDay, 0, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.dayConcurrency)
	for _, day := range days {
		g.Go(func() error {
			sd, err := r.stageDay(gctx, day, eventsByDay[day])
			stagedMu.Lock()
			defer stagedMu.Unlock()
			if err != nil {
				// A failed day is retried next cycle, it never aborts the
				// others.
				log.Errorf("day %s failed: %v", day, err)
				res.DaysFailed++
				return nil
			}
			staged = append(staged, sd)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	committed := make(map[string]bool)
	withheld := make(map[string]bool)
	for _, sd := range staged {
		marks := r.readyMarks(pending, committed, withheld, sd)
		if err := r.commitDay(ctx, sd, marks); err != nil {
			log.Errorf("day %s failed to commit: %v", sd.day, err)
			res.DaysFailed++
			continue
		}
		committed[sd.day] = true
		if sd.skipped > 0 {
			withheld[sd.day] = true
		}
		for _, e := range marks {
			delete(pending, e.UID)
		}
		res.DaysPlanned++
		res.LegsCreated += sd.created
		res.LegsDeleted += sd.deleted
		res.LegsUnchanged += sd.unchanged
	}
	if res.DaysFailed > 0 {
		return res, fmt.Errorf("%d day(s) failed to reconcile", res.DaysFailed)
	}
	return res, nil
}

// pendingMark is a changed event awaiting its fingerprint commit, together
// with every day it dirtied. The mark lands in the transaction of the last
// of those days to commit.
type pendingMark struct {
	ev   event.SourceEvent
	days map[string]bool
}

// readyMarks selects the pending events whose fingerprints become committable
// once sd commits: all their dirtied days are sd.day or already committed,
// and their own day planned without unresolved legs.
func (r *Reconciler) readyMarks(pending map[string]pendingMark, committed, withheld map[string]bool, sd *stagedDay) []event.SourceEvent {
	var marks []event.SourceEvent
	for _, pm := range pending {
		ready := true
		for day := range pm.days {
			if day != sd.day && !committed[day] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		home := pm.ev.Day(r.loc)
		if home == sd.day {
			if sd.skipped > 0 {
				continue
			}
		} else if withheld[home] {
			continue
		}
		marks = append(marks, pm.ev)
	}
	return marks
}

// stagedDay is one day's reconciliation, resolved and written to the
// destination but not yet committed to the store.
type stagedDay struct {
	day     string
	records []tracking.TransitRecord
	skipped int

	created   int
	deleted   int
	unchanged int
}

// stageDay replans one day and brings the destination calendar to the desired
// state. Record IDs are derived from the leg fingerprint, so an unchanged leg
// keeps its ID and is left untouched, and a retried create overwrites the
// event written by a previously failed attempt instead of duplicating it.
func (r *Reconciler) stageDay(ctx context.Context, day string, events []event.SourceEvent) (*stagedDay, error) {
	plan, err := r.planner.Plan(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}

	desired := make([]tracking.TransitRecord, 0, len(plan.Legs))
	desiredByID := make(map[uuid.UUID]tracking.TransitRecord, len(plan.Legs))
	for _, leg := range plan.Legs {
		rec := tracking.TransitRecord{
			ID:             recordID(day, leg),
			TrackedUID:     leg.EventUID,
			Day:            day,
			Direction:      string(leg.Direction),
			Title:          leg.Title,
			Origin:         leg.Origin,
			Destination:    leg.Destination,
			StartTime:      leg.StartTime,
			EndTime:        leg.EndTime,
			LegFingerprint: leg.Fingerprint(),
			CreatedAt:      r.clock.Now(),
		}
		desired = append(desired, rec)
		desiredByID[rec.ID] = rec
	}

	existing, err := r.repo.ListTransitForDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("listing existing transit: %w", err)
	}
	existingByID := make(map[uuid.UUID]bool, len(existing))
	for _, rec := range existing {
		existingByID[rec.ID] = true
	}

	sd := &stagedDay{day: day, records: desired, skipped: plan.SkippedLegs}
	for _, rec := range existing {
		if _, keep := desiredByID[rec.ID]; keep {
			sd.unchanged++
			continue
		}
		if err := r.dest.DeleteEvent(ctx, rec.ID.String()); err != nil {
			return nil, fmt.Errorf("deleting transit event %s: %w", rec.ID, err)
		}
		sd.deleted++
	}
	for _, rec := range desired {
		if existingByID[rec.ID] {
			continue
		}
		spec := caldav.TransitEventSpec{
			ID:          rec.ID.String(),
			Title:       rec.Title,
			Description: routing.AppleMapsURL(rec.Origin, rec.Destination),
			StartTime:   rec.StartTime,
			EndTime:     rec.EndTime,
		}
		if _, err := r.dest.CreateEvent(ctx, spec); err != nil {
			return nil, fmt.Errorf("creating transit event %s: %w", rec.ID, err)
		}
		sd.created++
	}
	return sd, nil
}

// commitDay writes a staged day's records and the fingerprints that became
// committable with it in one transaction. A day with unresolved legs keeps
// its events' old fingerprints so the whole day is replanned next cycle.
func (r *Reconciler) commitDay(ctx context.Context, sd *stagedDay, marks []event.SourceEvent) error {
	if sd.skipped > 0 {
		log.Warnf("day %s has %d unresolved leg(s), withholding fingerprint commit", sd.day, sd.skipped)
	}
	err := r.repo.WithTransaction(ctx, func(repo tracking.Repository) error {
		if err := repo.ReplaceDayTransit(ctx, sd.day, sd.records); err != nil {
			return err
		}
		now := r.clock.Now()
		for _, e := range marks {
			if err := repo.MarkProcessed(ctx, e.UID, event.Fingerprint(e), e.Day(r.loc), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("day %s reconciled: %d created, %d deleted, %d unchanged", sd.day, sd.created, sd.deleted, sd.unchanged)
	return nil
}

// teardownRemoved deletes the transit events of a removed source event from
// the destination and, only once all deletes succeeded, its stored state.
func (r *Reconciler) teardownRemoved(ctx context.Context, prev tracking.TrackedEvent) error {
	records, err := r.repo.ListTransitForTracked(ctx, prev.UID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := r.dest.DeleteEvent(ctx, rec.ID.String()); err != nil {
			return fmt.Errorf("deleting transit event %s: %w", rec.ID, err)
		}
		if err := r.repo.DeleteTransitRecord(ctx, rec.ID); err != nil {
			return err
		}
	}
	log.Infof("removed event %s (%s), deleted %d transit event(s)", prev.UID, prev.Title, len(records))
	return r.repo.DeleteTrackedEvent(ctx, prev.UID)
}

func (r *Reconciler) invalidate(addresses ...string) {
	if r.cache == nil {
		return
	}
	for _, a := range addresses {
		if a != "" {
			r.cache.Invalidate(a)
		}
	}
}

// recordID derives a stable ID for a transit event from its day and leg
// fingerprint. Replanning an unchanged day reproduces the same IDs.
func recordID(day string, leg planner.Leg) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(day+"|"+leg.Fingerprint()))
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
