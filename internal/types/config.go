package types

// EscalationCondition names the trigger an escalation rule reacts to
type EscalationCondition string

const (
	EscalateOnTimeout      EscalationCondition = "timeout"
	EscalateOnRejection    EscalationCondition = "rejection"
	EscalateOnNoCandidates EscalationCondition = "no_available_users"
)

// EscalationAction is what happens when an escalation rule fires
type EscalationAction string

const (
	ActionReassign         EscalationAction = "reassign"
	ActionNotifyManager    EscalationAction = "notify_manager"
	ActionQueue            EscalationAction = "queue"
	ActionEscalatePriority EscalationAction = "escalate_priority"
)

// EscalationRule is a policy entry inside AssignmentConfig
type EscalationRule struct {
	Condition      EscalationCondition `json:"condition"`
	Action         EscalationAction    `json:"action"`
	TargetStrategy AssignmentStrategy  `json:"targetStrategy,omitempty"`
	ManagerID      string              `json:"managerId,omitempty"`
	DelayMinutes   int                 `json:"delayMinutes,omitempty"`
	MaxEscalations int                 `json:"maxEscalations,omitempty"`
}

// WorkloadLimit caps how much work a user may hold; zero fields mean unlimited
type WorkloadLimit struct {
	ResourceType  ResourceType `json:"resourceType,omitempty"` // empty matches all
	Priority      Priority     `json:"priority,omitempty"`     // empty matches all
	MaxConcurrent int          `json:"maxConcurrent,omitempty"`
	MaxDaily      int          `json:"maxDaily,omitempty"`
	MaxWeekly     int          `json:"maxWeekly,omitempty"`
}

// Matches reports whether this limit applies to the given resource
func (l WorkloadLimit) Matches(rt ResourceType, p Priority) bool {
	if l.ResourceType != "" && l.ResourceType != rt {
		return false
	}
	if l.Priority != "" && l.Priority != p {
		return false
	}
	return true
}

// AssignmentConfig is the tenant- or channel-level routing policy.
// It is consumed as an immutable snapshot per routing decision.
type AssignmentConfig struct {
	AppID               string             `json:"appId"`
	CompanyID           string             `json:"companyId"`
	ChannelID           string             `json:"channelId,omitempty"`
	Enabled             bool               `json:"enabled"`
	DefaultStrategy     AssignmentStrategy `json:"defaultStrategy"`
	FallbackStrategy    AssignmentStrategy `json:"fallbackStrategy,omitempty"`
	MaxRetries          int                `json:"maxRetries"`
	RetryDelaySeconds   int                `json:"retryDelaySeconds"`
	TimeoutMinutes      int                `json:"timeoutMinutes"`
	AutoAccept          bool               `json:"autoAccept"`
	RequireConfirmation bool               `json:"requireConfirmation"`
	EscalationRules     []EscalationRule   `json:"escalationRules,omitempty"`
	WorkloadLimits      []WorkloadLimit    `json:"workloadLimits,omitempty"`
	Lottery             *LotteryConfig     `json:"lottery,omitempty"`
	Timezone            string             `json:"timezone,omitempty"` // tenant-local rollover boundary
}

// Scope returns the key used for per-scope strategy state such as
// round-robin cursors: channel first, then team, then company.
func (c AssignmentConfig) Scope(teamID string) string {
	if c.ChannelID != "" {
		return "channel:" + c.ChannelID
	}
	if teamID != "" {
		return "team:" + teamID
	}
	return "company:" + c.CompanyID
}
