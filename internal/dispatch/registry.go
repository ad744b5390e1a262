package dispatch

import (
	"sort"
	"sync"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// ConfigRegistry holds assignment configs per tenant scope. Channel-level
// configs take precedence over the company default. Lookups return copies:
// a config is an immutable snapshot for the duration of one decision.
type ConfigRegistry struct {
	byChannel map[string]types.AssignmentConfig
	byCompany map[string]types.AssignmentConfig
	mu        sync.RWMutex
}

// NewConfigRegistry creates an empty config registry
func NewConfigRegistry() *ConfigRegistry {
	return &ConfigRegistry{
		byChannel: make(map[string]types.AssignmentConfig),
		byCompany: make(map[string]types.AssignmentConfig),
	}
}

// SetConfig registers a config under its channel or company scope
func (r *ConfigRegistry) SetConfig(cfg types.AssignmentConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.ChannelID != "" {
		r.byChannel[cfg.ChannelID] = cfg
		return
	}
	r.byCompany[cfg.CompanyID] = cfg
}

// ConfigFor resolves the config snapshot for a routing decision
func (r *ConfigRegistry) ConfigFor(companyID, channelID string) (types.AssignmentConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if channelID != "" {
		if cfg, ok := r.byChannel[channelID]; ok {
			return cfg, true
		}
	}
	cfg, ok := r.byCompany[companyID]
	return cfg, ok
}

// RuleRegistry holds assignment and lead-routing rules per company
type RuleRegistry struct {
	assignment map[string][]types.AssignmentRule
	lead       map[string][]types.LeadRoutingRule
	mu         sync.RWMutex
}

// NewRuleRegistry creates an empty rule registry
func NewRuleRegistry() *RuleRegistry {
	return &RuleRegistry{
		assignment: make(map[string][]types.AssignmentRule),
		lead:       make(map[string][]types.LeadRoutingRule),
	}
}

// SetRules replaces a company's assignment rules
func (r *RuleRegistry) SetRules(companyID string, ruleList []types.AssignmentRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignment[companyID] = ruleList
}

// SetLeadRules replaces a company's lead routing rules
func (r *RuleRegistry) SetLeadRules(companyID string, ruleList []types.LeadRoutingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lead[companyID] = ruleList
}

// RulesFor returns the rules to evaluate for one resource; lead resources
// also see the company's lead routing rules, which run as assignment rules.
func (r *RuleRegistry) RulesFor(companyID string, rt types.ResourceType) []types.AssignmentRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.AssignmentRule, 0, len(r.assignment[companyID]))
	out = append(out, r.assignment[companyID]...)
	if rt == types.ResourceLead {
		for _, lr := range r.lead[companyID] {
			out = append(out, lr.AsAssignmentRule())
		}
	}
	return out
}

// Directory knows which users belong to a company or team. It backs pool
// building when no shift or channel scoping is given.
type Directory struct {
	byCompany map[string][]string
	byTeam    map[string][]string
	known     map[string]bool
	mu        sync.RWMutex
}

// NewDirectory creates an empty user directory
func NewDirectory() *Directory {
	return &Directory{
		byCompany: make(map[string][]string),
		byTeam:    make(map[string][]string),
		known:     make(map[string]bool),
	}
}

// SetCompanyUsers replaces a company's user list
func (d *Directory) SetCompanyUsers(companyID string, users []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byCompany[companyID] = sorted(users)
	for _, u := range users {
		d.known[u] = true
	}
}

// SetTeamMembers replaces a team's member list
func (d *Directory) SetTeamMembers(teamID string, users []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byTeam[teamID] = sorted(users)
	for _, u := range users {
		d.known[u] = true
	}
}

// CompanyUsers returns a company's users, sorted
func (d *Directory) CompanyUsers(companyID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.byCompany[companyID]...)
}

// TeamMembers returns a team's members, sorted
func (d *Directory) TeamMembers(teamID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.byTeam[teamID]...)
}

// UserExists reports whether a user id is known to the directory
func (d *Directory) UserExists(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.known[userID]
}

func sorted(users []string) []string {
	out := append([]string(nil), users...)
	sort.Strings(out)
	return out
}
