package types

import "time"

// ShiftScheduleType is how a shift's time windows are defined
type ShiftScheduleType string

const (
	ScheduleFixed    ShiftScheduleType = "fixed"
	ScheduleRotating ShiftScheduleType = "rotating"
	ScheduleOnDemand ShiftScheduleType = "on_demand"
)

// TransitionStrategy controls eligibility around shift boundaries
type TransitionStrategy string

const (
	TransitionImmediate     TransitionStrategy = "immediate"
	TransitionFinishCurrent TransitionStrategy = "finish_current"
	TransitionOverlap       TransitionStrategy = "overlap"
)

// ShiftWindow is a single recurring time window in the shift's timezone
type ShiftWindow struct {
	Weekdays  []time.Weekday `json:"weekdays"`
	StartTime string         `json:"startTime"` // "HH:MM"
	EndTime   string         `json:"endTime"`   // "HH:MM"
}

// Shift defines when a group of users is on duty
type Shift struct {
	ID                 string             `json:"id"`
	AppID              string             `json:"appId"`
	CompanyID          string             `json:"companyId"`
	Name               string             `json:"name"`
	ChannelID          string             `json:"channelId,omitempty"`
	Schedule           ShiftScheduleType  `json:"schedule"`
	Timezone           string             `json:"timezone"`
	Window             *ShiftWindow       `json:"window,omitempty"`    // fixed schedules
	SubShifts          []ShiftWindow      `json:"subShifts,omitempty"` // rotating schedules
	RotationDays       int                `json:"rotationDays,omitempty"`
	OverlapMinutes     int                `json:"overlapMinutes,omitempty"`
	TransitionStrategy TransitionStrategy `json:"transitionStrategy,omitempty"`
	MinUsers           int                `json:"minUsers,omitempty"`
	MaxUsers           int                `json:"maxUsers,omitempty"`
}

// ShiftAssignmentStatus gates a user's membership in a shift
type ShiftAssignmentStatus string

const (
	ShiftMemberActive   ShiftAssignmentStatus = "active"
	ShiftMemberInactive ShiftAssignmentStatus = "inactive"
	ShiftMemberVacation ShiftAssignmentStatus = "vacation"
	ShiftMemberSick     ShiftAssignmentStatus = "sick_leave"
)

// ShiftAssignment links a user to a shift
type ShiftAssignment struct {
	ShiftID string                `json:"shiftId"`
	UserID  string                `json:"userId"`
	Status  ShiftAssignmentStatus `json:"status"`
}

// AvailabilityStatus is the real-time presence layer on top of the schedule
type AvailabilityStatus string

const (
	AvailabilityAvailable AvailabilityStatus = "available"
	AvailabilityBusy      AvailabilityStatus = "busy"
	AvailabilityAway      AvailabilityStatus = "away"
	AvailabilityOffline   AvailabilityStatus = "offline"
)

// UserAvailability is the last known presence of a user
type UserAvailability struct {
	UserID        string             `json:"userId"`
	CurrentStatus AvailabilityStatus `json:"currentStatus"`
	Geographic    string             `json:"geographic,omitempty"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}
