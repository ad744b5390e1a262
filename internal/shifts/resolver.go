package shifts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/presence"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// ActiveCounter reports how many assignments a user currently holds.
// Satisfied by workload.Tracker; used by the finish_current transition.
type ActiveCounter interface {
	Snapshot(userID string) types.UserWorkload
}

// Options tune eligibility per strategy
type Options struct {
	// ExcludeBusy drops busy users from the pool. Off by default; the
	// availability_based strategy turns it on.
	ExcludeBusy bool
}

// Resolver answers "who is eligible to work right now" for a shift or
// channel, combining the schedule, per-member status and live presence.
type Resolver struct {
	shifts   map[string]*types.Shift
	members  map[string][]types.ShiftAssignment // shiftID -> members
	presence presence.Source
	active   ActiveCounter
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// NewResolver creates a resolver over the given presence source
func NewResolver(src presence.Source, active ActiveCounter, logger zerolog.Logger) *Resolver {
	return &Resolver{
		shifts:   make(map[string]*types.Shift),
		members:  make(map[string][]types.ShiftAssignment),
		presence: src,
		active:   active,
		logger:   logger.With().Str("component", "shifts").Logger(),
	}
}

// UpsertShift registers or replaces a shift definition
func (r *Resolver) UpsertShift(shift types.Shift) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shifts[shift.ID] = &shift
}

// SetMembers replaces the member list of a shift
func (r *Resolver) SetMembers(shiftID string, members []types.ShiftAssignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[shiftID] = members
}

// EligibleUsers returns the user ids eligible for the shift at the given
// instant, sorted for stable ordering.
func (r *Resolver) EligibleUsers(ctx context.Context, shiftID string, at time.Time, opts Options) ([]string, error) {
	r.mu.RLock()
	shift, ok := r.shifts[shiftID]
	members := r.members[shiftID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("shift %s: %w", shiftID, types.ErrNoEligibleCandidates)
	}
	return r.eligible(ctx, shift, members, at, opts), nil
}

// EligibleByChannel unions the eligible users of every shift attached to a
// channel.
func (r *Resolver) EligibleByChannel(ctx context.Context, channelID string, at time.Time, opts Options) []string {
	r.mu.RLock()
	var matched []*types.Shift
	for _, s := range r.shifts {
		if s.ChannelID == channelID {
			matched = append(matched, s)
		}
	}
	r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, shift := range matched {
		r.mu.RLock()
		members := r.members[shift.ID]
		r.mu.RUnlock()
		for _, id := range r.eligible(ctx, shift, members, at, opts) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

// OnShift reports whether a user is inside any shift window right now.
// Used by the lottery's outsideShift exclusion.
func (r *Resolver) OnShift(ctx context.Context, userID string, at time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, shift := range r.shifts {
		for _, m := range r.members[id] {
			if m.UserID != userID || m.Status != types.ShiftMemberActive {
				continue
			}
			if shift.Schedule == types.ScheduleOnDemand {
				return true
			}
			if w := r.activeWindow(shift, at); w != nil && inWindow(*w, at, shift.Timezone) {
				return true
			}
		}
	}
	return false
}

func (r *Resolver) eligible(ctx context.Context, shift *types.Shift, members []types.ShiftAssignment, at time.Time, opts Options) []string {
	var pool []string
	for _, m := range members {
		if m.Status != types.ShiftMemberActive {
			continue
		}
		if !r.scheduleAdmits(shift, m.UserID, at) {
			continue
		}
		ua := r.presence.Availability(ctx, m.UserID)
		switch ua.CurrentStatus {
		case types.AvailabilityAway, types.AvailabilityOffline:
			continue
		case types.AvailabilityBusy:
			if opts.ExcludeBusy {
				continue
			}
		}
		pool = append(pool, m.UserID)
	}
	sort.Strings(pool)

	// An on-demand shift below its floor is reported empty rather than
	// partially eligible, so a thin pool does not starve.
	if shift.Schedule == types.ScheduleOnDemand {
		if shift.MinUsers > 0 && len(pool) < shift.MinUsers {
			r.logger.Debug().
				Str("shift_id", shift.ID).
				Int("eligible", len(pool)).
				Int("min_users", shift.MinUsers).
				Msg("on-demand shift below minimum, reporting empty")
			return nil
		}
		if shift.MaxUsers > 0 && len(pool) > shift.MaxUsers {
			pool = pool[:shift.MaxUsers]
		}
	}
	return pool
}

// scheduleAdmits applies the time-window rules for the shift's schedule type
func (r *Resolver) scheduleAdmits(shift *types.Shift, userID string, at time.Time) bool {
	switch shift.Schedule {
	case types.ScheduleOnDemand:
		return true
	case types.ScheduleFixed, types.ScheduleRotating:
		w := r.activeWindow(shift, at)
		if w == nil {
			return false
		}
		if inWindow(*w, at, shift.Timezone) {
			return true
		}
		return r.boundaryAdmits(shift, *w, userID, at)
	}
	return false
}

// activeWindow returns the window in force for the shift at the given time
func (r *Resolver) activeWindow(shift *types.Shift, at time.Time) *types.ShiftWindow {
	switch shift.Schedule {
	case types.ScheduleFixed:
		return shift.Window
	case types.ScheduleRotating:
		if len(shift.SubShifts) == 0 || shift.RotationDays <= 0 {
			return nil
		}
		loc := location(shift.Timezone)
		days := int(at.In(loc).Unix() / 86400)
		idx := (days / shift.RotationDays) % len(shift.SubShifts)
		return &shift.SubShifts[idx]
	}
	return nil
}

// boundaryAdmits keeps outgoing users eligible past the window end,
// depending on the transition strategy.
func (r *Resolver) boundaryAdmits(shift *types.Shift, w types.ShiftWindow, userID string, at time.Time) bool {
	since, ok := minutesSinceEnd(w, at, shift.Timezone)
	if !ok {
		return false
	}

	switch shift.TransitionStrategy {
	case types.TransitionOverlap:
		return shift.OverlapMinutes > 0 && since <= float64(shift.OverlapMinutes)
	case types.TransitionFinishCurrent:
		if shift.OverlapMinutes > 0 && since > float64(shift.OverlapMinutes) {
			return false
		}
		if r.active == nil {
			return false
		}
		return r.active.Snapshot(userID).CurrentAssignments > 0
	}
	// immediate (or unset): cut over at the boundary
	return false
}

func location(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		return time.UTC
	}
	return loc
}

// parseClock converts "HH:MM" into minutes since midnight
func parseClock(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// inWindow reports whether at falls inside the window in the given
// timezone. Windows with end <= start span midnight.
func inWindow(w types.ShiftWindow, at time.Time, tz string) bool {
	local := at.In(location(tz))
	start, ok1 := parseClock(w.StartTime)
	end, ok2 := parseClock(w.EndTime)
	if !ok1 || !ok2 {
		return false
	}
	minute := local.Hour()*60 + local.Minute()

	if end > start {
		return weekdayMatch(w.Weekdays, local.Weekday()) && minute >= start && minute < end
	}
	// Overnight: the part after midnight belongs to the previous weekday
	if minute >= start {
		return weekdayMatch(w.Weekdays, local.Weekday())
	}
	if minute < end {
		return weekdayMatch(w.Weekdays, local.AddDate(0, 0, -1).Weekday())
	}
	return false
}

// minutesSinceEnd returns how many minutes ago the window last ended,
// when the end is within the past 24h.
func minutesSinceEnd(w types.ShiftWindow, at time.Time, tz string) (float64, bool) {
	loc := location(tz)
	local := at.In(loc)
	end, ok := parseClock(w.EndTime)
	if !ok {
		return 0, false
	}

	for back := 0; back <= 1; back++ {
		day := local.AddDate(0, 0, -back)
		endAt := time.Date(day.Year(), day.Month(), day.Day(), end/60, end%60, 0, 0, loc)
		if endAt.After(local) {
			continue
		}
		// The window must actually have run on that day
		start, ok := parseClock(w.StartTime)
		if !ok {
			return 0, false
		}
		runDay := day
		if end <= start { // overnight window ends the day after it starts
			runDay = day.AddDate(0, 0, -1)
		}
		if !weekdayMatch(w.Weekdays, runDay.Weekday()) {
			continue
		}
		since := local.Sub(endAt).Minutes()
		if since <= 24*60 {
			return since, true
		}
	}
	return 0, false
}

func weekdayMatch(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, wd := range days {
		if wd == d {
			return true
		}
	}
	return false
}
