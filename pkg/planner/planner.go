package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mayanayza/transit-calendar-blocker/pkg/event"
	"github.com/mayanayza/transit-calendar-blocker/pkg/routing"
	log "github.com/sirupsen/logrus"
)

// Direction distinguishes a leg arriving at a stop from one departing it.
type Direction string

const (
	DirectionTo   Direction = "to"
	DirectionFrom Direction = "from"
)

// RoundingInterval is the granularity transit durations are rounded up to.
const RoundingInterval = 15 * time.Minute

// Leg is one planned travel segment. It has no identity yet; identities are
// assigned when the reconciler materializes legs into destination events.
type Leg struct {
	EventUID    string
	Direction   Direction
	Title       string
	Origin      string
	Destination string
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
}

// Fingerprint digests the fields that make two legs equivalent for diffing:
// addresses and scheduled times. Titles are derived from them and carry no
// extra information.
func (l Leg) Fingerprint() string {
	input := strings.Join([]string{
		string(l.Direction),
		routing.StandardizeLocation(l.Origin),
		routing.StandardizeLocation(l.Destination),
		l.StartTime.UTC().Format(time.RFC3339),
		l.EndTime.UTC().Format(time.RFC3339),
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Options configure a planning pass.
type Options struct {
	HomeAddress string
	Mode        string
	MaxTransit  time.Duration
}

// Result is the outcome of planning one day.
type Result struct {
	Legs []Leg
	// SkippedLegs counts legs that could not be resolved this pass. A day
	// with skipped legs must not be committed as fully processed so it is
	// retried on the next cycle. Legs discarded for exceeding the maximum
	// transit duration are a final decision and are not counted here.
	SkippedLegs int
}

type legOutcome int

const (
	legPlanned legOutcome = iota
	legDiscarded
	legUnresolved
)

// Planner computes the desired transit legs for a day's located events,
// anchored by the home address as implicit first origin and last destination.
type Planner struct {
	estimator routing.Estimator
	opts      Options
}

func New(estimator routing.Estimator, opts Options) *Planner {
	return &Planner{estimator: estimator, opts: opts}
}

// Plan walks the day's stops (home -> event1 -> ... -> home) and produces a
// leg for each consecutive pair with differing locations. A day with zero
// located events yields an empty plan; there is never a lone home-to-home leg.
func (p *Planner) Plan(ctx context.Context, events []event.SourceEvent) (Result, error) {
	var res Result

	located := make([]event.SourceEvent, 0, len(events))
	for _, e := range events {
		if e.HasLocation() {
			located = append(located, e)
		}
	}
	if len(located) == 0 {
		return res, nil
	}
	sortStops(located)

	lastLocation := p.opts.HomeAddress
	lastName := "Home"

	for i, current := range located {
		currentName := current.Title
		if routing.LocationsSimilar(p.opts.HomeAddress, current.Location) {
			currentName = "Home"
		}

		if !routing.LocationsSimilar(lastLocation, current.Location) {
			leg, outcome := p.buildLeg(ctx, legSpec{
				eventUID:    current.UID,
				direction:   DirectionTo,
				title:       fmt.Sprintf("%s > %s", lastName, currentName),
				origin:      lastLocation,
				destination: current.Location,
				anchor:      current.StartTime,
			})
			switch outcome {
			case legPlanned:
				res.Legs = append(res.Legs, leg)
			case legUnresolved:
				res.SkippedLegs++
			}
		}

		lastLocation = current.Location
		lastName = currentName

		// Trailing leg back home after the day's last event.
		if i == len(located)-1 && !routing.LocationsSimilar(current.Location, p.opts.HomeAddress) {
			leg, outcome := p.buildLeg(ctx, legSpec{
				eventUID:    current.UID,
				direction:   DirectionFrom,
				title:       fmt.Sprintf("%s > Home", currentName),
				origin:      current.Location,
				destination: p.opts.HomeAddress,
				anchor:      current.EndTime,
			})
			switch outcome {
			case legPlanned:
				res.Legs = append(res.Legs, leg)
			case legUnresolved:
				res.SkippedLegs++
			}
		}
	}

	return res, nil
}

type legSpec struct {
	eventUID    string
	direction   Direction
	title       string
	origin      string
	destination string
	// anchor is the fixed end of the leg: the next stop's start for "to"
	// legs, the previous stop's end for "from" legs.
	anchor time.Time
}

func (p *Planner) buildLeg(ctx context.Context, spec legSpec) (Leg, legOutcome) {
	// "to" legs must arrive before the stop starts; "from" legs leave once
	// it ends.
	timeAnchor := routing.ArriveBy(spec.anchor)
	if spec.direction == DirectionFrom {
		timeAnchor = routing.DepartAt(spec.anchor)
	}
	duration, err := p.estimator.Estimate(ctx, spec.origin, spec.destination, p.opts.Mode, timeAnchor)
	if err != nil {
		if errors.Is(err, routing.ErrTransitUnavailable) {
			log.Warnf("could not resolve travel time %s: %v", spec.title, err)
		} else {
			log.Errorf("travel time lookup failed %s: %v", spec.title, err)
		}
		return Leg{}, legUnresolved
	}

	if duration > p.opts.MaxTransit {
		log.Infof("discarding leg %q: travel time %s exceeds maximum %s", spec.title, duration, p.opts.MaxTransit)
		return Leg{}, legDiscarded
	}

	rounded := RoundUp(duration, RoundingInterval)
	leg := Leg{
		EventUID:    spec.eventUID,
		Direction:   spec.direction,
		Title:       spec.title,
		Origin:      spec.origin,
		Destination: spec.destination,
		Duration:    rounded,
	}
	switch spec.direction {
	case DirectionTo:
		leg.EndTime = spec.anchor
		leg.StartTime = spec.anchor.Add(-rounded)
	case DirectionFrom:
		leg.StartTime = spec.anchor
		leg.EndTime = spec.anchor.Add(rounded)
	}

	return leg, legPlanned
}

// sortStops orders a day's events by start time, breaking ties by UID so
// overlapping events always plan in the same order.
func sortStops(events []event.SourceEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].StartTime.Before(events[j].StartTime)
		}
		return events[i].UID < events[j].UID
	})
}

// RoundUp rounds a duration up to the next multiple of interval. Exact
// multiples are left unchanged.
func RoundUp(d, interval time.Duration) time.Duration {
	if rem := d % interval; rem != 0 {
		return d - rem + interval
	}
	return d
}
