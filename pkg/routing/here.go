package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	geocodeBaseURL = "https://geocode.search.hereapi.com/v1/geocode"
	routerBaseURL  = "https://transit.router.hereapi.com/v8/routes"
)

// ErrTransitUnavailable is returned when the routing service cannot produce
// an estimate: unreachable service, rate limiting, unresolvable address, or
// no viable route. Callers treat it as retryable on the next cycle.
var ErrTransitUnavailable = fmt.Errorf("transit time unavailable")

// TimeAnchor fixes one end of a trip in time: the arrival for a leg that
// must reach a stop before it starts, the departure for a leg that leaves
// once the stop ends. The router optimizes the anchored end.
type TimeAnchor struct {
	At        time.Time
	Departure bool
}

// ArriveBy anchors a trip at its arrival time.
func ArriveBy(t time.Time) TimeAnchor { return TimeAnchor{At: t} }

// DepartAt anchors a trip at its departure time.
func DepartAt(t time.Time) TimeAnchor { return TimeAnchor{At: t, Departure: true} }

// Estimator produces a travel duration between two addresses for the given
// transport mode, anchored at either end of the trip.
type Estimator interface {
	Estimate(ctx context.Context, origin, destination, mode string, anchor TimeAnchor) (time.Duration, error)
}

// HereClient calls the HERE geocoding and transit routing APIs.
type HereClient struct {
	apiKey     string
	httpClient *http.Client
	geocodeURL string
	routerURL  string
}

func NewHereClient(apiKey string) *HereClient {
	return &HereClient{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		geocodeURL: geocodeBaseURL,
		routerURL:  routerBaseURL,
	}
}

type position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type geocodeResponse struct {
	Items []struct {
		Position position `json:"position"`
	} `json:"items"`
}

type routesResponse struct {
	Routes []struct {
		Sections []struct {
			TravelSummary struct {
				Duration int `json:"duration"`
			} `json:"travelSummary"`
		} `json:"sections"`
	} `json:"routes"`
}

// Estimate geocodes both addresses and requests a route anchored at the
// given time. The returned duration is the sum of all section durations of
// the first route.
func (c *HereClient) Estimate(ctx context.Context, origin, destination, mode string, anchor TimeAnchor) (time.Duration, error) {
	origin = NormalizeAddress(origin)
	destination = NormalizeAddress(destination)

	originPos, err := c.geocode(ctx, origin)
	if err != nil {
		return 0, fmt.Errorf("geocoding origin %q: %w", origin, err)
	}
	destPos, err := c.geocode(ctx, destination)
	if err != nil {
		return 0, fmt.Errorf("geocoding destination %q: %w", destination, err)
	}

	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("origin", fmt.Sprintf("%f,%f", originPos.Lat, originPos.Lng))
	params.Set("destination", fmt.Sprintf("%f,%f", destPos.Lat, destPos.Lng))
	if anchor.Departure {
		params.Set("departure", anchor.At.Format("2006-01-02T15:04:05"))
	} else {
		params.Set("arrival", anchor.At.Format("2006-01-02T15:04:05"))
	}
	params.Set("return", "travelSummary")
	if tm := hereTransportMode(mode); tm != "" {
		params.Set("transportMode", tm)
	}

	var parsed routesResponse
	if err := c.getJSON(ctx, c.routerURL, params, &parsed); err != nil {
		return 0, err
	}

	if len(parsed.Routes) == 0 {
		log.Warnf("no routes found between %q and %q", origin, destination)
		return 0, ErrTransitUnavailable
	}

	totalSeconds := 0
	for _, section := range parsed.Routes[0].Sections {
		totalSeconds += section.TravelSummary.Duration
	}
	if totalSeconds == 0 {
		return 0, ErrTransitUnavailable
	}

	return time.Duration(totalSeconds) * time.Second, nil
}

func (c *HereClient) geocode(ctx context.Context, address string) (position, error) {
	params := url.Values{}
	params.Set("apiKey", c.apiKey)
	params.Set("q", address)
	params.Set("limit", "1")

	var parsed geocodeResponse
	if err := c.getJSON(ctx, c.geocodeURL, params, &parsed); err != nil {
		return position{}, err
	}

	if len(parsed.Items) == 0 {
		log.Warnf("no geocoding results for address %q", address)
		return position{}, ErrTransitUnavailable
	}
	return parsed.Items[0].Position, nil
}

func (c *HereClient) getJSON(ctx context.Context, baseURL string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("could not build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Errorf("HERE API request failed: %v", err)
		return ErrTransitUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("HERE API returned status %d for %s", resp.StatusCode, baseURL)
		return ErrTransitUnavailable
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode HERE API response: %w", err)
	}
	return nil
}

// hereTransportMode maps the configured mode to the HERE transportMode
// parameter. Public transit is the router default and needs no parameter.
func hereTransportMode(mode string) string {
	switch mode {
	case "driving":
		return "car"
	case "walking":
		return "pedestrian"
	case "cycling":
		return "bicycle"
	default:
		return ""
	}
}
