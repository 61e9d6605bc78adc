package caldav

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ics(lines ...string) string {
	all := append([]string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//Test//EN"}, lines...)
	all = append(all, "END:VCALENDAR")
	return strings.Join(all, "\r\n") + "\r\n"
}

func TestParsePayload(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 28)

	t.Run("parses a timed located event", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:ev-1",
			"SUMMARY:Dentist",
			"LOCATION:200 Main St\\, Brooklyn",
			"DTSTART:20260303T140000Z",
			"DTEND:20260303T150000Z",
			"END:VEVENT",
		)

		events := parsePayload(payload, from, to)
		require.Len(t, events, 1)
		e := events[0]
		assert.Equal(t, "ev-1", e.UID)
		assert.Equal(t, "Dentist", e.Title)
		assert.Equal(t, "200 Main St, Brooklyn", e.Location)
		assert.True(t, e.StartTime.Equal(time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)))
		assert.True(t, e.EndTime.Equal(time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)))
	})

	t.Run("missing DTEND defaults to one hour", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:ev-1",
			"SUMMARY:Quick stop",
			"LOCATION:200 Main St",
			"DTSTART:20260303T140000Z",
			"END:VEVENT",
		)

		events := parsePayload(payload, from, to)
		require.Len(t, events, 1)
		assert.Equal(t, time.Hour, events[0].EndTime.Sub(events[0].StartTime))
	})

	t.Run("skips all-day events", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:ev-allday",
			"SUMMARY:Vacation",
			"LOCATION:Somewhere",
			"DTSTART;VALUE=DATE:20260303",
			"DTEND;VALUE=DATE:20260304",
			"END:VEVENT",
		)

		assert.Empty(t, parsePayload(payload, from, to))
	})

	t.Run("skips events without a location", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:ev-call",
			"SUMMARY:Phone call",
			"DTSTART:20260303T140000Z",
			"DTEND:20260303T143000Z",
			"END:VEVENT",
		)

		assert.Empty(t, parsePayload(payload, from, to))
	})

	t.Run("skips events marked as needing no location", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:ev-remote",
			"SUMMARY:Remote workshop",
			"LOCATION:Zoom HQ",
			"DESCRIPTION:No location needed",
			"DTSTART:20260303T140000Z",
			"DTEND:20260303T160000Z",
			"END:VEVENT",
		)

		assert.Empty(t, parsePayload(payload, from, to))
	})

	t.Run("skips events outside the window", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:ev-late",
			"SUMMARY:Far future",
			"LOCATION:200 Main St",
			"DTSTART:20270303T140000Z",
			"DTEND:20270303T150000Z",
			"END:VEVENT",
		)

		assert.Empty(t, parsePayload(payload, from, to))
	})

	t.Run("occurrence exactly at the window end is excluded", func(t *testing.T) {
		// The window is [from, to); a daily rule starting at from must not
		// yield an occurrence at to itself.
		payload := ics(
			"BEGIN:VEVENT",
			"UID:ev-daily",
			"SUMMARY:Standup",
			"LOCATION:200 Main St",
			"DTSTART:20260301T000000Z",
			"DTEND:20260301T001500Z",
			"RRULE:FREQ=DAILY",
			"END:VEVENT",
		)

		events := parsePayload(payload, from, to)
		require.Len(t, events, 28)
		last := events[len(events)-1]
		assert.True(t, last.StartTime.Before(to))
	})

	t.Run("expands weekly recurrence with exceptions", func(t *testing.T) {
		payload := ics(
			"BEGIN:VEVENT",
			"UID:ev-gym",
			"SUMMARY:Gym",
			"LOCATION:55 River Rd",
			"DTSTART:20260302T180000Z",
			"DTEND:20260302T190000Z",
			"RRULE:FREQ=WEEKLY;BYDAY=MO",
			"EXDATE:20260309T180000Z",
			"END:VEVENT",
		)

		events := parsePayload(payload, from, to)
		// Mondays Mar 2, 16, 23 inside the 28-day window; Mar 9 excluded.
		require.Len(t, events, 3)
		assert.Equal(t, "ev-gym@1772474400", events[0].UID)
		for i, e := range events {
			assert.Equal(t, "Gym", e.Title)
			assert.Equal(t, time.Monday, e.StartTime.UTC().Weekday(), "occurrence %d", i)
			assert.NotEqual(t, 9, e.StartTime.UTC().Day())
			assert.Equal(t, time.Hour, e.EndTime.Sub(e.StartTime))
		}
	})
}
