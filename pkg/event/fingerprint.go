package event

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Classification is the result of comparing a fetched event against its
// tracked state.
type Classification int

const (
	New Classification = iota
	Unchanged
	Modified
)

func (c Classification) String() string {
	switch c {
	case New:
		return "new"
	case Unchanged:
		return "unchanged"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Fingerprint computes a stable digest over the fields that affect transit
// planning: location, start time, and end time. The title is deliberately
// excluded so cosmetic renames do not regenerate transit events.
func Fingerprint(e SourceEvent) string {
	input := strings.Join([]string{
		canonicalLocation(e.Location),
		e.StartTime.UTC().Format(time.RFC3339),
		e.EndTime.UTC().Format(time.RFC3339),
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Classify compares a fetched event against the last committed fingerprint.
// An empty lastFingerprint means the event has never been fully processed,
// which also covers recovery from a corrupt or missing tracked record.
func Classify(e SourceEvent, lastFingerprint string) Classification {
	if lastFingerprint == "" {
		return New
	}
	if Fingerprint(e) == lastFingerprint {
		return Unchanged
	}
	return Modified
}

// RemovedUIDs returns the tracked identities that are absent from the latest
// fetched set. This is a set difference computed once per cycle, not a
// per-event classification.
func RemovedUIDs(trackedUIDs []string, fetched []SourceEvent) []string {
	present := make(map[string]struct{}, len(fetched))
	for _, e := range fetched {
		present[e.UID] = struct{}{}
	}

	var removed []string
	for _, uid := range trackedUIDs {
		if _, ok := present[uid]; !ok {
			removed = append(removed, uid)
		}
	}
	return removed
}

// canonicalLocation flattens whitespace and case so that insignificant
// formatting differences in the address do not change the fingerprint.
func canonicalLocation(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}
