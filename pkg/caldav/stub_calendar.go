package caldav

import (
	"context"
	"time"

	"github.com/mayanayza/transit-calendar-blocker/pkg/event"
)

// StubSourceCalendar is an in-memory SourceCalendar for tests.
type StubSourceCalendar struct {
	Events []event.SourceEvent
	Err    error
}

func NewStubSourceCalendar() *StubSourceCalendar {
	return &StubSourceCalendar{}
}

func (s *StubSourceCalendar) FetchEvents(ctx context.Context, from, to time.Time) ([]event.SourceEvent, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	var out []event.SourceEvent
	for _, e := range s.Events {
		if e.StartTime.Before(to) && !e.StartTime.Before(from) {
			out = append(out, e)
		}
	}
	return out, nil
}

// StubDestinationCalendar is an in-memory DestinationCalendar for tests. It
// records every write so reconciliation tests can assert on the exact set of
// destination operations.
type StubDestinationCalendar struct {
	Created map[string]TransitEventSpec
	Creates int
	Deletes int

	CreateErr error
	DeleteErr error
}

func NewStubDestinationCalendar() *StubDestinationCalendar {
	return &StubDestinationCalendar{Created: make(map[string]TransitEventSpec)}
}

func (s *StubDestinationCalendar) CreateEvent(ctx context.Context, spec TransitEventSpec) (string, error) {
	if s.CreateErr != nil {
		return "", s.CreateErr
	}
	s.Creates++
	s.Created[spec.ID] = spec
	return spec.ID, nil
}

func (s *StubDestinationCalendar) DeleteEvent(ctx context.Context, id string) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.Deletes++
	delete(s.Created, id)
	return nil
}
