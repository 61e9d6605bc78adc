package caldav

import (
	"context"
	"fmt"
	"time"

	"github.com/mayanayza/transit-calendar-blocker/pkg/event"
)

// ErrCalendarUnavailable is returned when a calendar server cannot be
// reached or rejects the request. It is retryable on the next cycle.
var ErrCalendarUnavailable = fmt.Errorf("calendar unavailable")

// SourceCalendar reads located events from the calendar being watched.
type SourceCalendar interface {
	FetchEvents(ctx context.Context, from, to time.Time) ([]event.SourceEvent, error)
}

// TransitEventSpec describes a transit event to materialize on the
// destination calendar.
type TransitEventSpec struct {
	ID          string
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
}

// DestinationCalendar owns the generated transit events. There is
// deliberately no update operation: changed events are deleted and
// recreated, since CalDAV servers disagree on partial-update semantics.
type DestinationCalendar interface {
	CreateEvent(ctx context.Context, spec TransitEventSpec) (string, error)
	DeleteEvent(ctx context.Context, id string) error
}
