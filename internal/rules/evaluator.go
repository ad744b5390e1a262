package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// Evaluate runs an ordered rule list against a resource's attributes.
// Rules are sorted by priority descending, declaration order breaking ties;
// only active rules participate. The first rule whose condition holds wins
// and evaluation stops: rules express "most specific exception first"
// semantics, running ahead of strategy selection.
//
// Evaluate is a pure function of its inputs.
func Evaluate(ruleList []types.AssignmentRule, attrs map[string]any) *types.RuleAction {
	ordered := make([]types.AssignmentRule, 0, len(ruleList))
	for _, r := range ruleList {
		if r.Active {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, r := range ordered {
		if Matches(r.Condition, attrs) {
			action := r.Action
			return &action
		}
	}
	return nil
}

// EvaluateLeadRules adapts lead routing rules onto the shared evaluator
func EvaluateLeadRules(leadRules []types.LeadRoutingRule, attrs map[string]any) *types.RuleAction {
	adapted := make([]types.AssignmentRule, 0, len(leadRules))
	for _, r := range leadRules {
		adapted = append(adapted, r.AsAssignmentRule())
	}
	return Evaluate(adapted, attrs)
}

// Matches evaluates a single condition against the attribute map
func Matches(cond types.RuleCondition, attrs map[string]any) bool {
	actual, ok := attrs[cond.Field]
	if !ok {
		return cond.Operator == types.OpNotIn
	}

	switch cond.Operator {
	case types.OpEquals:
		return equals(actual, cond.Value)
	case types.OpContains:
		return contains(actual, cond.Value)
	case types.OpIn:
		return in(actual, cond.Value)
	case types.OpNotIn:
		return !in(actual, cond.Value)
	}
	return false
}

// equals is strict value equality after normalizing numerics, since JSON
// decoding produces float64 for every number
func equals(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

// contains covers substring match on strings and membership on slices
func contains(actual, value any) bool {
	switch v := actual.(type) {
	case string:
		s, ok := value.(string)
		return ok && strings.Contains(v, s)
	case []any:
		for _, item := range v {
			if equals(item, value) {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if equals(item, value) {
				return true
			}
		}
	}
	return false
}

// in checks actual ∈ value where value is the rule's array
func in(actual, value any) bool {
	switch vs := value.(type) {
	case []any:
		for _, v := range vs {
			if equals(actual, v) {
				return true
			}
		}
	case []string:
		for _, v := range vs {
			if equals(actual, v) {
				return true
			}
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Describe renders a condition for logs and audit messages
func Describe(cond types.RuleCondition) string {
	return fmt.Sprintf("%s %s %v", cond.Field, cond.Operator, cond.Value)
}
