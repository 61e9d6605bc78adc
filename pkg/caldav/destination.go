package caldav

import (
	"context"
	"fmt"

	ical "github.com/arran4/golang-ical"
	"github.com/mayanayza/transit-calendar-blocker/internal/config"
	log "github.com/sirupsen/logrus"
)

const prodID = "-//Transit Calendar Blocker//EN"

// DestinationClient manages generated transit events on the destination
// CalDAV collection. Event resources are addressed by their identity, so a
// retried create overwrites the same resource instead of duplicating it.
type DestinationClient struct {
	client *client
}

func NewDestinationClient(cfg config.Calendar) *DestinationClient {
	return &DestinationClient{
		client: newClient(cfg.URL, cfg.Username, cfg.Password),
	}
}

func (d *DestinationClient) CreateEvent(ctx context.Context, spec TransitEventSpec) (string, error) {
	if spec.ID == "" {
		return "", fmt.Errorf("transit event spec has no identity")
	}

	cal := ical.NewCalendar()
	cal.SetProductId(prodID)
	cal.SetVersion("2.0")

	ev := cal.AddEvent(spec.ID)
	ev.SetSummary(spec.Title)
	ev.SetDescription(spec.Description)
	ev.SetStartAt(spec.StartTime)
	ev.SetEndAt(spec.EndTime)
	ev.SetDtStampTime(spec.StartTime)

	if err := d.client.put(ctx, spec.ID, cal.Serialize()); err != nil {
		return "", err
	}

	log.Infof("created transit event %q (%s)", spec.Title, spec.ID)
	return spec.ID, nil
}

func (d *DestinationClient) DeleteEvent(ctx context.Context, id string) error {
	if err := d.client.delete(ctx, id); err != nil {
		return err
	}
	log.Debugf("deleted transit event %s", id)
	return nil
}
