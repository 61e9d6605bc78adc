package caldav

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/mayanayza/transit-calendar-blocker/pkg/event"
	log "github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"
)

// maxOccurrencesPerEvent caps recurrence expansion within a window so a
// malformed rule cannot explode the event set.
const maxOccurrencesPerEvent = 250

// skipMarker in an event description opts the event out of transit planning.
const skipMarker = "No location needed"

type parsedEvent struct {
	uid         string
	summary     string
	description string
	location    string
	start       time.Time
	end         time.Time
	allDay      bool
	rawRRule    string
	exDates     []time.Time
}

// parsePayload parses one iCalendar payload and expands recurring events
// into concrete occurrences within [from, to). Only timed, located events
// survive: all-day events and events without a usable address are not
// transit-relevant.
func parsePayload(payload string, from, to time.Time) []event.SourceEvent {
	cal, err := ical.ParseCalendar(bytes.NewReader([]byte(payload)))
	if err != nil {
		log.Errorf("could not parse calendar payload: %v", err)
		return nil
	}

	var out []event.SourceEvent
	for _, ve := range cal.Events() {
		pe, err := parseVEvent(ve)
		if err != nil {
			log.Debugf("skipping unparseable event: %v", err)
			continue
		}
		if pe.allDay {
			continue
		}
		if strings.Contains(pe.description, skipMarker) {
			log.Debugf("skipping event %q: marked as needing no location", pe.summary)
			continue
		}
		if strings.TrimSpace(pe.location) == "" {
			continue
		}

		out = append(out, expandOccurrences(pe, from, to)...)
	}
	return out
}

func parseVEvent(ve *ical.VEvent) (parsedEvent, error) {
	var pe parsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return pe, fmt.Errorf("missing UID")
	}
	pe.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		pe.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		pe.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		pe.location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return pe, fmt.Errorf("event %s has no usable DTSTART: %w", pe.uid, err)
	}
	pe.start = start

	if end, err := ve.GetEndAt(); err == nil {
		pe.end = end
	} else {
		// No DTEND; assume an hour, matching how most clients render it.
		pe.end = start.Add(time.Hour)
	}

	if dtStart := ve.GetProperty(ical.ComponentPropertyDtStart); dtStart != nil {
		if params := dtStart.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				pe.allDay = true
			}
		}
		if !strings.Contains(dtStart.Value, "T") {
			pe.allDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		pe.rawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, pe.start.Location()); err == nil {
				pe.exDates = append(pe.exDates, t)
			}
		}
	}

	return pe, nil
}

// expandOccurrences turns a parsed event into SourceEvents within the
// window. Recurring occurrences get a per-occurrence identity so each one is
// tracked and fingerprinted independently.
func expandOccurrences(pe parsedEvent, from, to time.Time) []event.SourceEvent {
	if pe.rawRRule == "" {
		if pe.start.Before(to) && !pe.start.Before(from) {
			return []event.SourceEvent{sourceEvent(pe, pe.uid, pe.start, pe.end)}
		}
		return nil
	}

	r, err := rrule.StrToRRule(pe.rawRRule)
	if err != nil {
		log.Errorf("could not parse RRULE %q for %s: %v", pe.rawRRule, pe.uid, err)
		return nil
	}
	r.DTStart(pe.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range pe.exDates {
		set.ExDate(ex.In(pe.start.Location()))
	}

	starts := set.Between(from.In(pe.start.Location()), to.In(pe.start.Location()), true)
	// Between is inclusive at both ends; the window is [from, to) like the
	// non-recurring path above.
	for len(starts) > 0 && !starts[len(starts)-1].Before(to) {
		starts = starts[:len(starts)-1]
	}
	if len(starts) > maxOccurrencesPerEvent {
		log.Warnf("truncating recurrence expansion for %s at %d occurrences", pe.uid, maxOccurrencesPerEvent)
		starts = starts[:maxOccurrencesPerEvent]
	}

	duration := pe.end.Sub(pe.start)
	out := make([]event.SourceEvent, 0, len(starts))
	for _, occStart := range starts {
		uid := fmt.Sprintf("%s@%d", pe.uid, occStart.Unix())
		out = append(out, sourceEvent(pe, uid, occStart, occStart.Add(duration)))
	}
	return out
}

func sourceEvent(pe parsedEvent, uid string, start, end time.Time) event.SourceEvent {
	return event.SourceEvent{
		UID:       uid,
		Title:     pe.summary,
		Location:  pe.location,
		StartTime: start,
		EndTime:   end,
	}
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
