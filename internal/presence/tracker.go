package presence

import (
	"context"
	"sync"
	"time"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

const (
	// StaleThreshold is how long a presence report stays trustworthy.
	// Users with older reports are treated as offline.
	StaleThreshold = 5 * time.Minute
)

// Source resolves the live availability of a user. Implementations must be
// fail-safe: any doubt (timeout, missing key, stale report) resolves to
// offline, never into an invalid assignment.
type Source interface {
	Availability(ctx context.Context, userID string) types.UserAvailability
}

// Tracker is the in-memory presence source, fed by the availability ingest
// endpoint and used directly in tests.
type Tracker struct {
	users map[string]*types.UserAvailability
	now   func() time.Time
	mu    sync.RWMutex
}

// NewTracker creates an empty presence tracker
func NewTracker() *Tracker {
	return &Tracker{
		users: make(map[string]*types.UserAvailability),
		now:   time.Now,
	}
}

// SetClock overrides the time source, used by tests
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Update records a presence report for a user
func (t *Tracker) Update(event types.AvailabilityEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := event.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}
	t.users[event.UserID] = &types.UserAvailability{
		UserID:        event.UserID,
		CurrentStatus: event.Status,
		Geographic:    event.Geographic,
		UpdatedAt:     ts,
	}
}

// Availability returns the last known presence; unknown or stale users are
// reported offline.
func (t *Tracker) Availability(_ context.Context, userID string) types.UserAvailability {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ua, ok := t.users[userID]
	if !ok || t.now().Sub(ua.UpdatedAt) > StaleThreshold {
		return types.UserAvailability{UserID: userID, CurrentStatus: types.AvailabilityOffline}
	}
	return *ua
}

// Count returns the number of tracked users
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}
