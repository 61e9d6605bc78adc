package routing

import (
	"context"
	"time"
)

// StubEstimator is an in-memory Estimator for tests. Durations are looked up
// by standardized (origin, destination) pair; unknown pairs fail with
// ErrTransitUnavailable. Every anchor passed in is recorded.
type StubEstimator struct {
	Durations map[[2]string]time.Duration
	Calls     int
	Anchors   []TimeAnchor
}

func NewStubEstimator() *StubEstimator {
	return &StubEstimator{Durations: make(map[[2]string]time.Duration)}
}

// Set registers the travel duration between two addresses.
func (s *StubEstimator) Set(origin, destination string, d time.Duration) {
	s.Durations[stubKey(origin, destination)] = d
}

func (s *StubEstimator) Estimate(ctx context.Context, origin, destination, mode string, anchor TimeAnchor) (time.Duration, error) {
	s.Calls++
	s.Anchors = append(s.Anchors, anchor)
	if d, ok := s.Durations[stubKey(origin, destination)]; ok {
		return d, nil
	}
	return 0, ErrTransitUnavailable
}

func stubKey(origin, destination string) [2]string {
	return [2]string{StandardizeLocation(origin), StandardizeLocation(destination)}
}
