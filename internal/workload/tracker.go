package workload

import (
	"sync"
	"time"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// userCounters holds one user's live counters together with the period
// starts used for lazy rollover.
type userCounters struct {
	current     int
	daily       int
	weekly      int
	rejections  int
	completed   int
	totalSecs   float64 // accumulated completion time
	lastAssign  *time.Time
	dayStart    time.Time
	weekStart   time.Time
}

// Tracker maintains live per-user workload counters. Counters are a cache
// reconstructible from the assignment store; daily/weekly values roll over
// lazily at tenant-local boundaries instead of via a background sweep.
type Tracker struct {
	users map[string]*userCounters
	loc   *time.Location
	now   func() time.Time
	mu    sync.RWMutex
}

// NewTracker creates a tracker using the tenant timezone for rollover
// boundaries. An unknown or empty timezone falls back to UTC.
func NewTracker(timezone string) *Tracker {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
	}
	return &Tracker{
		users: make(map[string]*userCounters),
		loc:   loc,
		now:   time.Now,
	}
}

// SetClock overrides the time source, used by tests
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// dayStartOf truncates to tenant-local midnight
func (t *Tracker) dayStartOf(at time.Time) time.Time {
	local := at.In(t.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.loc)
}

// weekStartOf truncates to tenant-local Monday midnight
func (t *Tracker) weekStartOf(at time.Time) time.Time {
	day := t.dayStartOf(at)
	offset := (int(day.Weekday()) + 6) % 7 // Monday=0
	return day.AddDate(0, 0, -offset)
}

// get returns the counters for a user, creating and rolling over as needed.
// Caller must hold the write lock.
func (t *Tracker) get(userID string) *userCounters {
	now := t.now()
	c, ok := t.users[userID]
	if !ok {
		c = &userCounters{
			dayStart:  t.dayStartOf(now),
			weekStart: t.weekStartOf(now),
		}
		t.users[userID] = c
		return c
	}

	if day := t.dayStartOf(now); day.After(c.dayStart) {
		c.daily = 0
		c.dayStart = day
	}
	if week := t.weekStartOf(now); week.After(c.weekStart) {
		c.weekly = 0
		c.weekStart = week
	}
	return c
}

// Increment records a new assignment for the user
func (t *Tracker) Increment(userID string, _ types.ResourceType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.get(userID)
	now := t.now()
	c.current++
	c.daily++
	c.weekly++
	c.lastAssign = &now
}

// Decrement records that the user no longer holds an assignment. A positive
// completionSecs feeds the average completion time; rejections and
// cancellations pass zero so they never count as completions.
func (t *Tracker) Decrement(userID string, _ types.ResourceType, completionSecs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.get(userID)
	if c.current > 0 {
		c.current--
	}
	if completionSecs > 0 {
		c.completed++
		c.totalSecs += completionSecs
	}
}

// RecordRejection bumps the internal rejection counter used by lottery
// exclusions; lifetime stats are otherwise untouched.
func (t *Tracker) RecordRejection(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(userID).rejections++
}

// Snapshot returns the user's current workload after lazy rollover
func (t *Tracker) Snapshot(userID string) types.UserWorkload {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.get(userID)
	w := types.UserWorkload{
		UserID:             userID,
		CurrentAssignments: c.current,
		DailyAssignments:   c.daily,
		WeeklyAssignments:  c.weekly,
		Rejections:         c.rejections,
		LastAssignmentAt:   c.lastAssign,
	}
	if c.completed > 0 {
		w.AverageCompletionTime = c.totalSecs / float64(c.completed)
	}
	return w
}

// WouldExceed reports whether assigning one more item of the given resource
// type and priority would push the user past any matching limit. The check
// is against the post-increment value.
func (t *Tracker) WouldExceed(userID string, limits []types.WorkloadLimit, rt types.ResourceType, p types.Priority) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.get(userID)
	for _, limit := range limits {
		if !limit.Matches(rt, p) {
			continue
		}
		if limit.MaxConcurrent > 0 && c.current+1 > limit.MaxConcurrent {
			return true
		}
		if limit.MaxDaily > 0 && c.daily+1 > limit.MaxDaily {
			return true
		}
		if limit.MaxWeekly > 0 && c.weekly+1 > limit.MaxWeekly {
			return true
		}
	}
	return false
}
