package caldav

import (
	"context"
	"sort"
	"time"

	"github.com/mayanayza/transit-calendar-blocker/internal/config"
	"github.com/mayanayza/transit-calendar-blocker/pkg/event"
	log "github.com/sirupsen/logrus"
)

// SourceClient reads located events from the source CalDAV collection.
type SourceClient struct {
	client *client
}

func NewSourceClient(cfg config.Calendar) *SourceClient {
	return &SourceClient{
		client: newClient(cfg.URL, cfg.Username, cfg.Password),
	}
}

// FetchEvents queries the collection for the given window and returns the
// located, timed events inside it, recurring events expanded to one
// SourceEvent per occurrence.
func (s *SourceClient) FetchEvents(ctx context.Context, from, to time.Time) ([]event.SourceEvent, error) {
	payloads, err := s.client.report(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var events []event.SourceEvent
	for _, payload := range payloads {
		events = append(events, parsePayload(payload, from, to)...)
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].StartTime.Before(events[j].StartTime)
		}
		return events[i].UID < events[j].UID
	})

	log.Infof("fetched %d located events between %s and %s",
		len(events), from.Format("2006-01-02"), to.Format("2006-01-02"))
	return events, nil
}
