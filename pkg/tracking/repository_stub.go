package tracking

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// StubRepository is an in-memory Repository for tests.
type StubRepository struct {
	Tracked map[string]TrackedEvent
	Transit map[uuid.UUID]TransitRecord
}

func NewStubRepository() *StubRepository {
	return &StubRepository{
		Tracked: make(map[string]TrackedEvent),
		Transit: make(map[uuid.UUID]TransitRecord),
	}
}

func (s *StubRepository) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	return fn(s)
}

func (s *StubRepository) UpsertSnapshot(ctx context.Context, e TrackedEvent) error {
	if existing, ok := s.Tracked[e.UID]; ok {
		e.Fingerprint = existing.Fingerprint
		e.Day = existing.Day
		e.LastProcessed = existing.LastProcessed
	}
	s.Tracked[e.UID] = e
	return nil
}

func (s *StubRepository) GetTrackedEvent(ctx context.Context, uid string) (*TrackedEvent, error) {
	if e, ok := s.Tracked[uid]; ok {
		return &e, nil
	}
	return nil, nil
}

func (s *StubRepository) ListTrackedInWindow(ctx context.Context, fromDay, toDay string) ([]TrackedEvent, error) {
	var events []TrackedEvent
	for _, e := range s.Tracked {
		if e.Day >= fromDay && e.Day <= toDay {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].UID < events[j].UID })
	return events, nil
}

func (s *StubRepository) MarkProcessed(ctx context.Context, uid string, fingerprint, day string, at time.Time) error {
	if e, ok := s.Tracked[uid]; ok {
		e.Fingerprint = fingerprint
		e.Day = day
		e.LastProcessed = at
		s.Tracked[uid] = e
	}
	return nil
}

func (s *StubRepository) DeleteTrackedEvent(ctx context.Context, uid string) error {
	delete(s.Tracked, uid)
	for id, rec := range s.Transit {
		if rec.TrackedUID == uid {
			delete(s.Transit, id)
		}
	}
	return nil
}

func (s *StubRepository) ListTransitForDay(ctx context.Context, day string) ([]TransitRecord, error) {
	return s.listTransit(func(rec TransitRecord) bool { return rec.Day == day }), nil
}

func (s *StubRepository) ListTransitForTracked(ctx context.Context, uid string) ([]TransitRecord, error) {
	return s.listTransit(func(rec TransitRecord) bool { return rec.TrackedUID == uid }), nil
}

func (s *StubRepository) ListTransitBefore(ctx context.Context, beforeDay string) ([]TransitRecord, error) {
	return s.listTransit(func(rec TransitRecord) bool { return rec.Day < beforeDay }), nil
}

func (s *StubRepository) listTransit(match func(TransitRecord) bool) []TransitRecord {
	var records []TransitRecord
	for _, rec := range s.Transit {
		if match(rec) {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartTime.Equal(records[j].StartTime) {
			return records[i].StartTime.Before(records[j].StartTime)
		}
		return records[i].ID.String() < records[j].ID.String()
	})
	return records
}

func (s *StubRepository) ReplaceDayTransit(ctx context.Context, day string, records []TransitRecord) error {
	for id, rec := range s.Transit {
		if rec.Day == day {
			delete(s.Transit, id)
		}
	}
	for _, rec := range records {
		s.Transit[rec.ID] = rec
	}
	return nil
}

func (s *StubRepository) DeleteTransitRecord(ctx context.Context, id uuid.UUID) error {
	delete(s.Transit, id)
	return nil
}

func (s *StubRepository) Cleanup(ctx context.Context, beforeDay string) (int64, error) {
	var removed int64
	for uid, e := range s.Tracked {
		if e.Day < beforeDay {
			s.DeleteTrackedEvent(ctx, uid)
			removed++
		}
	}
	for id, rec := range s.Transit {
		if rec.Day < beforeDay {
			delete(s.Transit, id)
		}
	}
	return removed, nil
}
