package routing

import (
	"context"
	"sync"
	"time"

	"github.com/mayanayza/transit-calendar-blocker/internal/utils"
	log "github.com/sirupsen/logrus"
)

// DefaultCacheTTL bounds how long a resolved duration is reused across
// planning passes of unchanged days.
const DefaultCacheTTL = 30 * time.Minute

type cacheEntry struct {
	origin      string
	destination string
	duration    time.Duration
	expiresAt   time.Time
}

// Resolver wraps an Estimator with a TTL cache keyed by standardized
// (origin, destination, mode). Repeated planning passes over unchanged days
// do not hit the external service again. Failures are never cached.
type Resolver struct {
	estimator Estimator
	ttl       time.Duration
	clock     utils.Clock

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewResolver(estimator Estimator, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{
		estimator: estimator,
		ttl:       ttl,
		clock:     utils.SystemClock{},
		cache:     make(map[string]cacheEntry),
	}
}

func (r *Resolver) Estimate(ctx context.Context, origin, destination, mode string, anchor TimeAnchor) (time.Duration, error) {
	key := cacheKey(origin, destination, mode)

	r.mu.Lock()
	entry, ok := r.cache[key]
	if ok && r.clock.Now().Before(entry.expiresAt) {
		r.mu.Unlock()
		log.Debugf("travel time cache hit for %s", key)
		return entry.duration, nil
	}
	r.mu.Unlock()

	duration, err := r.estimator.Estimate(ctx, origin, destination, mode, anchor)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{
		origin:      StandardizeLocation(origin),
		destination: StandardizeLocation(destination),
		duration:    duration,
		expiresAt:   r.clock.Now().Add(r.ttl),
	}
	r.mu.Unlock()

	return duration, nil
}

// Invalidate drops cached entries whose origin or destination matches the
// given address. Called when a tracked event is reclassified as modified or
// removed, since its address may have been the stale endpoint.
func (r *Resolver) Invalidate(address string) {
	std := StandardizeLocation(address)
	if std == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.cache {
		if entry.origin == std || entry.destination == std {
			delete(r.cache, key)
		}
	}
}

func cacheKey(origin, destination, mode string) string {
	return StandardizeLocation(origin) + "|" + StandardizeLocation(destination) + "|" + mode
}
