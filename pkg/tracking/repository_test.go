package tracking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mayanayza/transit-calendar-blocker/internal/test_utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepositoryTest(t *testing.T) (*RepositoryImpl, context.Context) {
	db := test_utils.SetupTestDB(t)
	return NewRepository(db), context.Background()
}

func testTrackedEvent(uid, day string) TrackedEvent {
	start := mustDayTime(day, 9)
	return TrackedEvent{
		UID:       uid,
		Title:     "Appointment",
		Location:  "12 Oak St",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Day:       day,
	}
}

func testTransitRecord(trackedUID, day string) TransitRecord {
	start := mustDayTime(day, 8)
	return TransitRecord{
		ID:             uuid.New(),
		TrackedUID:     trackedUID,
		Day:            day,
		Direction:      "to",
		Title:          "Home > Appointment",
		Origin:         "123 Main St",
		Destination:    "12 Oak St",
		StartTime:      start,
		EndTime:        start.Add(30 * time.Minute),
		LegFingerprint: "fp-" + trackedUID,
	}
}

func mustDayTime(day string, hour int) time.Time {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	return t.Add(time.Duration(hour) * time.Hour).UTC()
}

func TestRepositoryUpsertSnapshot(t *testing.T) {
	repo, ctx := setupRepositoryTest(t)

	t.Run("insert then fetch round-trips", func(t *testing.T) {
		ev := testTrackedEvent("uid-1", "2026-03-10")
		require.NoError(t, repo.UpsertSnapshot(ctx, ev))

		got, err := repo.GetTrackedEvent(ctx, "uid-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, ev.Title, got.Title)
		assert.Equal(t, ev.Location, got.Location)
		assert.Equal(t, ev.StartTime, got.StartTime)
		assert.Equal(t, ev.Day, got.Day)
		assert.Empty(t, got.Fingerprint)
		assert.True(t, got.LastProcessed.IsZero())
	})

	t.Run("upsert preserves committed fingerprint", func(t *testing.T) {
		ev := testTrackedEvent("uid-2", "2026-03-10")
		require.NoError(t, repo.UpsertSnapshot(ctx, ev))
		processedAt := mustDayTime("2026-03-10", 12)
		require.NoError(t, repo.MarkProcessed(ctx, "uid-2", "committed-fp", "2026-03-10", processedAt))

		ev.Location = "99 Elm Ave"
		require.NoError(t, repo.UpsertSnapshot(ctx, ev))

		got, err := repo.GetTrackedEvent(ctx, "uid-2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "99 Elm Ave", got.Location)
		assert.Equal(t, "committed-fp", got.Fingerprint)
		assert.Equal(t, processedAt, got.LastProcessed)
	})

	t.Run("upsert keeps the committed day until MarkProcessed moves it", func(t *testing.T) {
		ev := testTrackedEvent("uid-4", "2026-03-10")
		require.NoError(t, repo.UpsertSnapshot(ctx, ev))

		moved := testTrackedEvent("uid-4", "2026-03-12")
		require.NoError(t, repo.UpsertSnapshot(ctx, moved))

		got, err := repo.GetTrackedEvent(ctx, "uid-4")
		require.NoError(t, err)
		require.NotNil(t, got)
		// The old day still owns its transit records until both days commit.
		assert.Equal(t, "2026-03-10", got.Day)

		require.NoError(t, repo.MarkProcessed(ctx, "uid-4", "moved-fp", "2026-03-12", mustDayTime("2026-03-12", 12)))
		got, err = repo.GetTrackedEvent(ctx, "uid-4")
		require.NoError(t, err)
		assert.Equal(t, "2026-03-12", got.Day)
	})

	t.Run("missing event returns nil without error", func(t *testing.T) {
		got, err := repo.GetTrackedEvent(ctx, "no-such-uid")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRepositoryListTrackedInWindow(t *testing.T) {
	repo, ctx := setupRepositoryTest(t)

	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("in-1", "2026-03-10")))
	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("in-2", "2026-03-15")))
	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("before", "2026-03-01")))
	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("after", "2026-04-20")))

	events, err := repo.ListTrackedInWindow(ctx, "2026-03-10", "2026-03-31")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "in-1", events[0].UID)
	assert.Equal(t, "in-2", events[1].UID)
}

func TestRepositoryTransitRecords(t *testing.T) {
	repo, ctx := setupRepositoryTest(t)

	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("uid-1", "2026-03-10")))
	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("uid-2", "2026-03-10")))

	rec1 := testTransitRecord("uid-1", "2026-03-10")
	rec2 := testTransitRecord("uid-2", "2026-03-10")
	rec2.StartTime = rec2.StartTime.Add(2 * time.Hour)
	rec2.EndTime = rec2.EndTime.Add(2 * time.Hour)
	require.NoError(t, repo.ReplaceDayTransit(ctx, "2026-03-10", []TransitRecord{rec1, rec2}))

	t.Run("list by day ordered by start time", func(t *testing.T) {
		records, err := repo.ListTransitForDay(ctx, "2026-03-10")
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, rec1.ID, records[0].ID)
		assert.Equal(t, rec2.ID, records[1].ID)
		assert.Equal(t, rec1.LegFingerprint, records[0].LegFingerprint)
	})

	t.Run("list by tracked event", func(t *testing.T) {
		records, err := repo.ListTransitForTracked(ctx, "uid-2")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, rec2.ID, records[0].ID)
	})

	t.Run("replace swaps the whole day", func(t *testing.T) {
		replacement := testTransitRecord("uid-1", "2026-03-10")
		require.NoError(t, repo.ReplaceDayTransit(ctx, "2026-03-10", []TransitRecord{replacement}))

		records, err := repo.ListTransitForDay(ctx, "2026-03-10")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, replacement.ID, records[0].ID)
	})

	t.Run("delete single record", func(t *testing.T) {
		records, err := repo.ListTransitForDay(ctx, "2026-03-10")
		require.NoError(t, err)
		require.Len(t, records, 1)

		require.NoError(t, repo.DeleteTransitRecord(ctx, records[0].ID))
		records, err = repo.ListTransitForDay(ctx, "2026-03-10")
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestRepositoryListTransitBefore(t *testing.T) {
	repo, ctx := setupRepositoryTest(t)

	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("uid-old", "2026-03-01")))
	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("uid-new", "2026-03-10")))
	oldRec := testTransitRecord("uid-old", "2026-03-01")
	newRec := testTransitRecord("uid-new", "2026-03-10")
	require.NoError(t, repo.ReplaceDayTransit(ctx, "2026-03-01", []TransitRecord{oldRec}))
	require.NoError(t, repo.ReplaceDayTransit(ctx, "2026-03-10", []TransitRecord{newRec}))

	records, err := repo.ListTransitBefore(ctx, "2026-03-05")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, oldRec.ID, records[0].ID)
}

func TestRepositoryListTransitSkipsCorruptRows(t *testing.T) {
	repo, ctx := setupRepositoryTest(t)

	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("uid-1", "2026-03-10")))
	good := testTransitRecord("uid-1", "2026-03-10")
	require.NoError(t, repo.ReplaceDayTransit(ctx, "2026-03-10", []TransitRecord{good}))

	_, err := repo.db.ExecContext(ctx, `INSERT INTO transit_record
		(id, tracked_uid, day, direction, title, origin, destination, start_time, end_time, leg_fingerprint, created_at)
		VALUES ('not-a-uuid', 'uid-1', '2026-03-10', 'to', 'X', 'a', 'b', 0, 0, '', 0)`)
	require.NoError(t, err)

	records, err := repo.ListTransitForDay(ctx, "2026-03-10")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, good.ID, records[0].ID)
}

func TestRepositoryDeleteCascades(t *testing.T) {
	repo, ctx := setupRepositoryTest(t)

	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("uid-1", "2026-03-10")))
	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("uid-2", "2026-03-10")))
	require.NoError(t, repo.ReplaceDayTransit(ctx, "2026-03-10", []TransitRecord{
		testTransitRecord("uid-1", "2026-03-10"),
		testTransitRecord("uid-2", "2026-03-10"),
	}))

	require.NoError(t, repo.DeleteTrackedEvent(ctx, "uid-1"))

	records, err := repo.ListTransitForDay(ctx, "2026-03-10")
	require.NoError(t, err)
	// Only uid-2's record survives the cascade.
	require.Len(t, records, 1)
	assert.Equal(t, "uid-2", records[0].TrackedUID)
}

func TestRepositoryMarkProcessedAtomicWithDayReplace(t *testing.T) {
	repo, ctx := setupRepositoryTest(t)

	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("uid-1", "2026-03-10")))
	require.NoError(t, repo.ReplaceDayTransit(ctx, "2026-03-10", []TransitRecord{
		testTransitRecord("uid-1", "2026-03-10"),
	}))

	// A failing step inside the transaction must leave both the fingerprint
	// and the transit records at their previous state.
	err := repo.WithTransaction(ctx, func(txRepo Repository) error {
		if err := txRepo.ReplaceDayTransit(ctx, "2026-03-10", nil); err != nil {
			return err
		}
		if err := txRepo.MarkProcessed(ctx, "uid-1", "new-fp", "2026-03-10", mustDayTime("2026-03-10", 12)); err != nil {
			return err
		}
		return fmt.Errorf("simulated destination failure")
	})
	require.Error(t, err)

	got, err := repo.GetTrackedEvent(ctx, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Fingerprint)

	records, err := repo.ListTransitForDay(ctx, "2026-03-10")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRepositoryCleanup(t *testing.T) {
	repo, ctx := setupRepositoryTest(t)

	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("old", "2026-03-01")))
	require.NoError(t, repo.UpsertSnapshot(ctx, testTrackedEvent("current", "2026-03-10")))
	require.NoError(t, repo.ReplaceDayTransit(ctx, "2026-03-01", []TransitRecord{
		testTransitRecord("old", "2026-03-01"),
	}))
	require.NoError(t, repo.ReplaceDayTransit(ctx, "2026-03-10", []TransitRecord{
		testTransitRecord("current", "2026-03-10"),
	}))

	removed, err := repo.Cleanup(ctx, "2026-03-05")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	gone, err := repo.GetTrackedEvent(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := repo.ListTransitForDay(ctx, "2026-03-10")
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	purged, err := repo.ListTransitForDay(ctx, "2026-03-01")
	require.NoError(t, err)
	assert.Empty(t, purged)
}
