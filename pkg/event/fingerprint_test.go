package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	t.Run("identical content yields identical fingerprint regardless of title", func(t *testing.T) {
		a := SourceEvent{UID: "a", Title: "Dentist", Location: "12 Oak St", StartTime: start, EndTime: end}
		b := SourceEvent{UID: "b", Title: "Renamed appointment", Location: "12 Oak St", StartTime: start, EndTime: end}

		assert.Equal(t, Fingerprint(a), Fingerprint(b))
	})

	t.Run("insignificant address formatting does not change fingerprint", func(t *testing.T) {
		a := SourceEvent{Location: "12 Oak St", StartTime: start, EndTime: end}
		b := SourceEvent{Location: "  12  Oak   st ", StartTime: start, EndTime: end}

		assert.Equal(t, Fingerprint(a), Fingerprint(b))
	})

	t.Run("location change yields different fingerprint", func(t *testing.T) {
		a := SourceEvent{Location: "12 Oak St", StartTime: start, EndTime: end}
		b := SourceEvent{Location: "99 Elm Ave", StartTime: start, EndTime: end}

		assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
	})

	t.Run("start time change yields different fingerprint", func(t *testing.T) {
		a := SourceEvent{Location: "12 Oak St", StartTime: start, EndTime: end}
		b := SourceEvent{Location: "12 Oak St", StartTime: start.Add(15 * time.Minute), EndTime: end}

		assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
	})

	t.Run("same instant in different zones yields identical fingerprint", func(t *testing.T) {
		warsaw, err := time.LoadLocation("Europe/Warsaw")
		assert.NoError(t, err)

		a := SourceEvent{Location: "12 Oak St", StartTime: start, EndTime: end}
		b := SourceEvent{Location: "12 Oak St", StartTime: start.In(warsaw), EndTime: end.In(warsaw)}

		assert.Equal(t, Fingerprint(a), Fingerprint(b))
	})
}

func TestClassify(t *testing.T) {
	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	ev := SourceEvent{UID: "a", Location: "12 Oak St", StartTime: start, EndTime: start.Add(time.Hour)}

	t.Run("no tracked fingerprint classifies as new", func(t *testing.T) {
		assert.Equal(t, New, Classify(ev, ""))
	})

	t.Run("matching fingerprint classifies as unchanged", func(t *testing.T) {
		assert.Equal(t, Unchanged, Classify(ev, Fingerprint(ev)))
	})

	t.Run("different fingerprint classifies as modified", func(t *testing.T) {
		moved := ev
		moved.Location = "99 Elm Ave"
		assert.Equal(t, Modified, Classify(moved, Fingerprint(ev)))
	})
}

func TestRemovedUIDs(t *testing.T) {
	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	fetched := []SourceEvent{
		{UID: "a", Location: "12 Oak St", StartTime: start, EndTime: start.Add(time.Hour)},
		{UID: "b", Location: "99 Elm Ave", StartTime: start, EndTime: start.Add(time.Hour)},
	}

	t.Run("tracked events absent from fetch are removed", func(t *testing.T) {
		removed := RemovedUIDs([]string{"a", "b", "c"}, fetched)
		assert.Equal(t, []string{"c"}, removed)
	})

	t.Run("nothing removed when all tracked events are present", func(t *testing.T) {
		removed := RemovedUIDs([]string{"a", "b"}, fetched)
		assert.Empty(t, removed)
	})
}

func TestSourceEventDay(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	assert.NoError(t, err)

	// 23:30 UTC is already the next day in Warsaw.
	ev := SourceEvent{StartTime: time.Date(2026, time.March, 10, 23, 30, 0, 0, time.UTC)}
	assert.Equal(t, "2026-03-10", ev.Day(time.UTC))
	assert.Equal(t, "2026-03-11", ev.Day(warsaw))
}
