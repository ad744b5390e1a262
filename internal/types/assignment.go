package types

import "time"

// ResourceType identifies the kind of work item being routed
type ResourceType string

const (
	ResourceConversation ResourceType = "conversation"
	ResourceTicket       ResourceType = "ticket"
	ResourceLead         ResourceType = "lead"
	ResourceCall         ResourceType = "call"
)

// AssignmentStrategy selects how a candidate is chosen from the pool
type AssignmentStrategy string

const (
	StrategyManual            AssignmentStrategy = "manual"
	StrategyRoundRobin        AssignmentStrategy = "round_robin"
	StrategyLeastBusy         AssignmentStrategy = "least_busy"
	StrategyPriorityBased     AssignmentStrategy = "priority_based"
	StrategyRandom            AssignmentStrategy = "random"
	StrategyShiftLottery      AssignmentStrategy = "shift_lottery"
	StrategyAvailabilityBased AssignmentStrategy = "availability_based"
	StrategySkillBased        AssignmentStrategy = "skill_based"
	StrategyGeographic        AssignmentStrategy = "geographic"
	StrategyRuleBased         AssignmentStrategy = "rule_based"
	StrategyManualOverride    AssignmentStrategy = "manual_override"
)

// AssignmentType records how the routing decision was made
type AssignmentType string

const (
	TypeManual    AssignmentType = "manual"
	TypeAutomatic AssignmentType = "automatic"
	TypeLottery   AssignmentType = "lottery"
	TypeRuleBased AssignmentType = "rule_based"
)

// AssignmentStatus is the lifecycle state of an Assignment
type AssignmentStatus string

const (
	StatusPending   AssignmentStatus = "pending"
	StatusAssigned  AssignmentStatus = "assigned"
	StatusAccepted  AssignmentStatus = "accepted"
	StatusRejected  AssignmentStatus = "rejected"
	StatusCompleted AssignmentStatus = "completed"
	StatusCancelled AssignmentStatus = "cancelled"
)

// IsActive reports whether the status still holds the resource
func (s AssignmentStatus) IsActive() bool {
	return s == StatusPending || s == StatusAssigned || s == StatusAccepted
}

// IsTerminal reports whether the status can no longer change
func (s AssignmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Priority of the routed resource
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank maps a priority to a comparable level; unknown priorities rank lowest
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Escalate bumps a priority one level, capped at urgent
func (p Priority) Escalate() Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityUrgent
	}
}

// Assignment is one routing decision for one (resourceType, resourceId) pair
type Assignment struct {
	ID           string             `json:"id"`
	AppID        string             `json:"appId"`
	CompanyID    string             `json:"companyId"`
	ResourceType ResourceType       `json:"resourceType"`
	ResourceID   string             `json:"resourceId"`
	AssignedTo   string             `json:"assignedTo"`
	AssignedBy   string             `json:"assignedBy,omitempty"`
	TeamID       string             `json:"teamId,omitempty"`
	ChannelID    string             `json:"channelId,omitempty"`
	ShiftID      string             `json:"shiftId,omitempty"`
	Type         AssignmentType     `json:"assignmentType"`
	Strategy     AssignmentStrategy `json:"assignmentStrategy"`
	Priority     Priority           `json:"priority"`
	Status       AssignmentStatus   `json:"status"`
	AssignedAt   time.Time          `json:"assignedAt"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
	DateKey      string             `json:"dateKey"` // YYYY-MM-DD partition for history queries
}

// AssignmentCriteria is the ephemeral input to one routing decision
type AssignmentCriteria struct {
	ResourceType   ResourceType       `json:"resourceType"`
	Priority       Priority           `json:"priority,omitempty"`
	RequiredUsers  []string           `json:"requiredUsers,omitempty"`
	PreferredUsers []string           `json:"preferredUsers,omitempty"`
	ExcludedUsers  []string           `json:"excludedUsers,omitempty"`
	TeamID         string             `json:"teamId,omitempty"`
	ShiftID        string             `json:"shiftId,omitempty"`
	ChannelID      string             `json:"channelId,omitempty"`
	Skills         []SkillRequirement `json:"skills,omitempty"`
	TimeSlot       *TimeSlot          `json:"timeSlot,omitempty"`
	Geographic     string             `json:"geographic,omitempty"`
}

// TimeSlot scopes a routing decision to a window
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CreateAssignmentRequest asks the dispatcher to route one resource
type CreateAssignmentRequest struct {
	AppID          string             `json:"appId"`
	CompanyID      string             `json:"companyId"`
	ResourceType   ResourceType       `json:"resourceType"`
	ResourceID     string             `json:"resourceId"`
	Strategy       AssignmentStrategy `json:"strategy,omitempty"` // overrides config default when set
	SpecificUserID string             `json:"specificUserId,omitempty"`
	AssignedBy     string             `json:"assignedBy,omitempty"`
	Criteria       AssignmentCriteria `json:"criteria"`
	Attributes     map[string]any     `json:"attributes,omitempty"` // rule evaluation input
}

// AssignmentResult is the caller-visible outcome of one dispatch
type AssignmentResult struct {
	Success        bool               `json:"success"`
	Message        string             `json:"message,omitempty"`
	Assignment     *Assignment        `json:"assignment,omitempty"`
	AssignedUserID string             `json:"assignedUserId,omitempty"`
	TeamID         string             `json:"teamId,omitempty"`
	Strategy       AssignmentStrategy `json:"strategy,omitempty"`
	FallbackUsed   bool               `json:"fallbackUsed"`
	Escalated      bool               `json:"escalated"`
	RetryCount     int                `json:"retryCount"`
}

// BulkAssignmentRequest routes many resources in one call
type BulkAssignmentRequest struct {
	AppID     string                    `json:"appId"`
	CompanyID string                    `json:"companyId"`
	Items     []CreateAssignmentRequest `json:"items"`
}

// BulkAssignmentResult preserves per-item ordering and independent outcomes
type BulkAssignmentResult struct {
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Results   []AssignmentResult `json:"results"`
}
