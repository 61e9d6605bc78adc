package caldav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// client is a minimal CalDAV HTTP client: REPORT to query a collection,
// PUT/DELETE to manage individual event resources. Authentication is HTTP
// basic, per the usual CalDAV deployment.
type client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

func newClient(baseURL, username, password string) *client {
	return &client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

const calendarQueryTemplate = `<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s" end="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

type multistatusResponse struct {
	XMLName   xml.Name `xml:"multistatus"`
	Responses []struct {
		Href     string `xml:"href"`
		Propstat []struct {
			Prop struct {
				CalendarData string `xml:"calendar-data"`
			} `xml:"prop"`
		} `xml:"propstat"`
	} `xml:"response"`
}

// report runs a calendar-query REPORT for the given time range and returns
// the raw iCalendar payloads it finds.
func (c *client) report(ctx context.Context, from, to time.Time) ([]string, error) {
	body := fmt.Sprintf(calendarQueryTemplate,
		from.UTC().Format("20060102T150405Z"),
		to.UTC().Format("20060102T150405Z"))

	req, err := http.NewRequestWithContext(ctx, "REPORT", c.baseURL+"/", strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not build REPORT request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", "1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Errorf("calendar REPORT failed: %v", err)
		return nil, ErrCalendarUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		log.Errorf("calendar REPORT returned status %d", resp.StatusCode)
		return nil, ErrCalendarUnavailable
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read REPORT response: %w", err)
	}

	var ms multistatusResponse
	if err := xml.Unmarshal(raw, &ms); err != nil {
		return nil, fmt.Errorf("could not parse REPORT response: %w", err)
	}

	var payloads []string
	for _, r := range ms.Responses {
		for _, ps := range r.Propstat {
			if data := strings.TrimSpace(ps.Prop.CalendarData); data != "" {
				payloads = append(payloads, data)
			}
		}
	}
	return payloads, nil
}

// put writes an iCalendar resource under the given name.
func (c *client) put(ctx context.Context, name, ical string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resourceURL(name), bytes.NewReader([]byte(ical)))
	if err != nil {
		return fmt.Errorf("could not build PUT request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Errorf("calendar PUT failed: %v", err)
		return ErrCalendarUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Errorf("calendar PUT returned status %d for %s", resp.StatusCode, name)
		return ErrCalendarUnavailable
	}
	return nil
}

// delete removes an event resource. A 404 counts as success so retried
// deletions stay idempotent.
func (c *client) delete(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.resourceURL(name), nil)
	if err != nil {
		return fmt.Errorf("could not build DELETE request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Errorf("calendar DELETE failed: %v", err)
		return ErrCalendarUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		log.Errorf("calendar DELETE returned status %d for %s", resp.StatusCode, name)
		return ErrCalendarUnavailable
	}
	return nil
}

func (c *client) resourceURL(name string) string {
	return c.baseURL + "/" + name + ".ics"
}
