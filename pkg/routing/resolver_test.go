package routing

import (
	"context"
	"testing"
	"time"

	"github.com/mayanayza/transit-calendar-blocker/internal/utils"
	"github.com/stretchr/testify/assert"
)

func TestResolverEstimate(t *testing.T) {
	ctx := context.Background()
	arrival := ArriveBy(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))

	t.Run("caches results by origin, destination and mode", func(t *testing.T) {
		stub := NewStubEstimator()
		stub.Set("12 Oak St", "99 Elm Ave", 20*time.Minute)
		resolver := NewResolver(stub, time.Hour)

		d1, err := resolver.Estimate(ctx, "12 Oak St", "99 Elm Ave", "transit", arrival)
		assert.NoError(t, err)
		d2, err := resolver.Estimate(ctx, "12 Oak St", "99 Elm Ave", "transit", arrival)
		assert.NoError(t, err)

		assert.Equal(t, 20*time.Minute, d1)
		assert.Equal(t, d1, d2)
		assert.Equal(t, 1, stub.Calls)
	})

	t.Run("expired entries are re-resolved", func(t *testing.T) {
		stub := NewStubEstimator()
		stub.Set("12 Oak St", "99 Elm Ave", 20*time.Minute)
		clock := &utils.MockClock{FixedNow: arrival.At}
		resolver := NewResolver(stub, time.Hour)
		resolver.clock = clock

		_, err := resolver.Estimate(ctx, "12 Oak St", "99 Elm Ave", "transit", arrival)
		assert.NoError(t, err)

		clock.SetNow(arrival.At.Add(2 * time.Hour))
		_, err = resolver.Estimate(ctx, "12 Oak St", "99 Elm Ave", "transit", arrival)
		assert.NoError(t, err)

		assert.Equal(t, 2, stub.Calls)
	})

	t.Run("failures are not cached", func(t *testing.T) {
		stub := NewStubEstimator()
		resolver := NewResolver(stub, time.Hour)

		_, err := resolver.Estimate(ctx, "12 Oak St", "unknown", "transit", arrival)
		assert.ErrorIs(t, err, ErrTransitUnavailable)

		stub.Set("12 Oak St", "unknown", 10*time.Minute)
		d, err := resolver.Estimate(ctx, "12 Oak St", "unknown", "transit", arrival)
		assert.NoError(t, err)
		assert.Equal(t, 10*time.Minute, d)
	})

	t.Run("invalidate drops entries touching the address", func(t *testing.T) {
		stub := NewStubEstimator()
		stub.Set("12 Oak St", "99 Elm Ave", 20*time.Minute)
		stub.Set("1 Pine Rd", "8 Birch Ct", 10*time.Minute)
		resolver := NewResolver(stub, time.Hour)

		_, _ = resolver.Estimate(ctx, "12 Oak St", "99 Elm Ave", "transit", arrival)
		_, _ = resolver.Estimate(ctx, "1 Pine Rd", "8 Birch Ct", "transit", arrival)
		assert.Equal(t, 2, stub.Calls)

		resolver.Invalidate("99 Elm Ave")

		_, _ = resolver.Estimate(ctx, "12 Oak St", "99 Elm Ave", "transit", arrival)
		_, _ = resolver.Estimate(ctx, "1 Pine Rd", "8 Birch Ct", "transit", arrival)
		assert.Equal(t, 3, stub.Calls)
	})
}
