package tracking

import (
	"time"

	"github.com/google/uuid"
)

// DayFormat is the layout used for day keys throughout the store.
const DayFormat = "2006-01-02"

// TrackedEvent is the persisted record of a located source event: its last
// snapshot, the last committed fingerprint, and when it was last fully
// processed. An empty Fingerprint means the event has been sighted but its
// day has never been committed.
type TrackedEvent struct {
	UID           string
	Title         string
	Location      string
	StartTime     time.Time
	EndTime       time.Time
	Day           string
	Fingerprint   string
	LastProcessed time.Time
}

// TransitRecord is the persisted identity of one generated transit event on
// the destination calendar, owned exclusively by its originating tracked
// event.
type TransitRecord struct {
	ID             uuid.UUID
	TrackedUID     string
	Day            string
	Direction      string
	Title          string
	Origin         string
	Destination    string
	StartTime      time.Time
	EndTime        time.Time
	LegFingerprint string
	CreatedAt      time.Time
}
