package types

import "time"

// AssignmentEventType names the real-time events pushed to dashboards
type AssignmentEventType string

const (
	EventAssignmentCreated   AssignmentEventType = "assignment:created"
	EventAssignmentUpdated   AssignmentEventType = "assignment:updated"
	EventAssignmentCompleted AssignmentEventType = "assignment:completed"
)

// AssignmentEvent is the payload broadcast on every status transition
type AssignmentEvent struct {
	Type       AssignmentEventType `json:"type"`
	Assignment Assignment          `json:"assignment"`
	Timestamp  time.Time           `json:"timestamp"`
}

// AvailabilityEvent is pushed by the presence subsystem when a user's
// status changes
type AvailabilityEvent struct {
	UserID     string             `json:"userId"`
	Status     AvailabilityStatus `json:"status"`
	Geographic string             `json:"geographic,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}
