package types

// RuleOperator compares a resource attribute against a rule value
type RuleOperator string

const (
	OpEquals   RuleOperator = "equals"
	OpContains RuleOperator = "contains"
	OpIn       RuleOperator = "in"
	OpNotIn    RuleOperator = "not_in"
)

// RuleCondition is a single attribute check
type RuleCondition struct {
	Field    string       `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    any          `json:"value"`
}

// RuleActionType is what a matched rule does
type RuleActionType string

const (
	RuleAssignUser   RuleActionType = "assign_user"
	RuleAssignTeam   RuleActionType = "assign_team"
	RuleUseStrategy  RuleActionType = "use_strategy"
	RuleSetPriority  RuleActionType = "set_priority"
)

// RuleAction is the outcome of a matched rule
type RuleAction struct {
	Type     RuleActionType     `json:"type"`
	UserID   string             `json:"userId,omitempty"`
	TeamID   string             `json:"teamId,omitempty"`
	Strategy AssignmentStrategy `json:"strategy,omitempty"`
	Priority Priority           `json:"priority,omitempty"`
}

// AssignmentRule is an ordered condition→action pair evaluated before
// strategy selection; first match wins.
type AssignmentRule struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Priority  int           `json:"priority"` // higher evaluates first
	Active    bool          `json:"active"`
	Condition RuleCondition `json:"condition"`
	Action    RuleAction    `json:"action"`
}

// LeadRoutingCondition mirrors RuleCondition for lead routing rules
type LeadRoutingCondition = RuleCondition

// LeadRoutingRule routes leads ahead of the lottery engine. Shape-compatible
// with AssignmentRule so both feed the same evaluator.
type LeadRoutingRule struct {
	ID        string               `json:"id"`
	FunnelID  string               `json:"funnelId,omitempty"`
	Priority  int                  `json:"priority"`
	Active    bool                 `json:"active"`
	Condition LeadRoutingCondition `json:"condition"`
	Action    RuleAction           `json:"action"`
}

// AsAssignmentRule adapts a lead routing rule for the shared evaluator
func (r LeadRoutingRule) AsAssignmentRule() AssignmentRule {
	return AssignmentRule{
		ID:        r.ID,
		Priority:  r.Priority,
		Active:    r.Active,
		Condition: r.Condition,
		Action:    r.Action,
	}
}
