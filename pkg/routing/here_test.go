package routing

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHereClient points a client at stub geocoding and routing endpoints
// and records the query parameters of every routing call.
func newTestHereClient(t *testing.T) (*HereClient, *[]url.Values) {
	t.Helper()

	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"position":{"lat":40.7,"lng":-73.9}}]}`)
	}))
	t.Cleanup(geocode.Close)

	var routerCalls []url.Values
	router := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routerCalls = append(routerCalls, r.URL.Query())
		fmt.Fprint(w, `{"routes":[{"sections":[{"travelSummary":{"duration":1200}},{"travelSummary":{"duration":600}}]}]}`)
	}))
	t.Cleanup(router.Close)

	client := NewHereClient("test-key")
	client.geocodeURL = geocode.URL
	client.routerURL = router.URL
	return client, &routerCalls
}

func TestHereClientEstimate(t *testing.T) {
	ctx := context.Background()
	anchorTime := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	t.Run("sums section durations", func(t *testing.T) {
		client, _ := newTestHereClient(t)

		d, err := client.Estimate(ctx, "12 Oak St", "99 Elm Ave", "transit", ArriveBy(anchorTime))
		require.NoError(t, err)
		assert.Equal(t, 30*time.Minute, d)
	})

	t.Run("arrival anchor sets the arrival parameter", func(t *testing.T) {
		client, calls := newTestHereClient(t)

		_, err := client.Estimate(ctx, "12 Oak St", "99 Elm Ave", "transit", ArriveBy(anchorTime))
		require.NoError(t, err)

		require.Len(t, *calls, 1)
		q := (*calls)[0]
		assert.Equal(t, "2026-03-10T09:00:00", q.Get("arrival"))
		assert.Empty(t, q.Get("departure"))
	})

	t.Run("departure anchor sets the departure parameter", func(t *testing.T) {
		client, calls := newTestHereClient(t)

		_, err := client.Estimate(ctx, "12 Oak St", "99 Elm Ave", "transit", DepartAt(anchorTime))
		require.NoError(t, err)

		require.Len(t, *calls, 1)
		q := (*calls)[0]
		assert.Equal(t, "2026-03-10T09:00:00", q.Get("departure"))
		assert.Empty(t, q.Get("arrival"))
	})

	t.Run("no routes yields ErrTransitUnavailable", func(t *testing.T) {
		client, _ := newTestHereClient(t)
		empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"routes":[]}`)
		}))
		t.Cleanup(empty.Close)
		client.routerURL = empty.URL

		_, err := client.Estimate(ctx, "12 Oak St", "99 Elm Ave", "transit", ArriveBy(anchorTime))
		assert.ErrorIs(t, err, ErrTransitUnavailable)
	})
}
