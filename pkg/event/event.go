package event

import (
	"strings"
	"time"
)

// SourceEvent is an immutable snapshot of one located calendar event as
// fetched from the source calendar.
type SourceEvent struct {
	UID       string
	Title     string
	Location  string
	StartTime time.Time
	EndTime   time.Time
}

// Day returns the calendar day the event starts on, in the given location.
// Day boundaries for transit planning follow the configured timezone, not
// the timezone the event was authored in.
func (e SourceEvent) Day(loc *time.Location) string {
	return e.StartTime.In(loc).Format("2006-01-02")
}

// HasLocation reports whether the event carries a usable address.
func (e SourceEvent) HasLocation() bool {
	return strings.TrimSpace(e.Location) != ""
}
