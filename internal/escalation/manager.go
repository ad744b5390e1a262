package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/metrics"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/store"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// Dispatcher re-routes resources when an escalation rule fires. Implemented
// by the dispatch package; narrowed here to break the dependency cycle.
type Dispatcher interface {
	AssignWithConfig(ctx context.Context, req types.CreateAssignmentRequest, cfg types.AssignmentConfig) (types.AssignmentResult, error)
}

// Notifier delivers manager alerts. A nil notifier drops them.
type Notifier interface {
	NotifyManager(managerID string, a *types.Assignment, reason string)
}

// Manager owns the escalation policy: confirmation timeouts, rejection
// follow-ups and empty-pool recovery. It implements dispatch.EscalationHook.
type Manager struct {
	dispatcher  Dispatcher
	assignments *store.Assignments
	notifier    Notifier
	logger      zerolog.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer // assignmentID -> confirmation timer
	attempts map[string]int         // resource key -> escalation count
}

// NewManager creates an escalation manager. The dispatcher is set later via
// SetDispatcher because each needs a reference to the other.
func NewManager(assignments *store.Assignments, notifier Notifier, logger zerolog.Logger) *Manager {
	return &Manager{
		assignments: assignments,
		notifier:    notifier,
		logger:      logger.With().Str("component", "escalation").Logger(),
		timers:      make(map[string]*time.Timer),
		attempts:    make(map[string]int),
	}
}

// SetDispatcher closes the loop back into the dispatcher
func (m *Manager) SetDispatcher(d Dispatcher) { m.dispatcher = d }

func resourceKey(rt types.ResourceType, resourceID string) string {
	return string(rt) + "/" + resourceID
}

// OnAssigned starts the confirmation timeout for an assignment that awaits
// an explicit accept.
func (m *Manager) OnAssigned(a types.Assignment, cfg types.AssignmentConfig) {
	if cfg.TimeoutMinutes <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prior, ok := m.timers[a.ID]; ok {
		prior.Stop()
	}
	m.timers[a.ID] = time.AfterFunc(time.Duration(cfg.TimeoutMinutes)*time.Minute, func() {
		m.handleTimeout(a.ID, cfg)
	})
}

// OnNoCandidates reacts to a dispatch round that found nobody eligible
func (m *Manager) OnNoCandidates(req types.CreateAssignmentRequest, cfg types.AssignmentConfig) {
	rule, ok := ruleFor(cfg, types.EscalateOnNoCandidates)
	if !ok {
		return
	}
	m.schedule(rule, func() {
		if _, err := m.applyToRequest(context.Background(), rule, req, cfg); err != nil {
			m.logger.Error().Err(err).
				Str("resource_id", req.ResourceID).
				Msg("no-candidates escalation failed")
		}
	})
}

// OnRejection reacts to an assignee turning down an assignment. Called by
// the API layer after the rejection transition succeeds.
func (m *Manager) OnRejection(ctx context.Context, a types.Assignment, cfg types.AssignmentConfig) (types.AssignmentResult, error) {
	m.CancelTimer(a.ID)

	rule, ok := ruleFor(cfg, types.EscalateOnRejection)
	if !ok {
		return types.AssignmentResult{Success: false, Message: "assignment rejected"}, nil
	}
	return m.applyToAssignment(ctx, rule, a, cfg)
}

// CancelTimer stops confirmation tracking for an assignment that reached a
// decision before the timeout.
func (m *Manager) CancelTimer(assignmentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.timers[assignmentID]; ok {
		timer.Stop()
		delete(m.timers, assignmentID)
	}
}

// ClearAttempts resets the escalation count for a resource, called once it
// reaches a terminal state.
func (m *Manager) ClearAttempts(rt types.ResourceType, resourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, resourceKey(rt, resourceID))
}

// Stop cancels all outstanding timers, used on shutdown
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}

// handleTimeout fires when the confirmation window elapses. The store's
// transition rules make this race-safe: if the assignee accepted in the
// meantime the status check below sees it and the escalation is dropped.
func (m *Manager) handleTimeout(assignmentID string, cfg types.AssignmentConfig) {
	ctx := context.Background()

	m.mu.Lock()
	delete(m.timers, assignmentID)
	m.mu.Unlock()

	a, err := m.assignments.Get(ctx, assignmentID)
	if err != nil {
		m.logger.Error().Err(err).Str("assignment_id", assignmentID).Msg("timeout lookup failed")
		return
	}
	if a.Status != types.StatusAssigned {
		return
	}

	rule, ok := ruleFor(cfg, types.EscalateOnTimeout)
	if !ok {
		return
	}
	if _, err := m.applyToAssignment(ctx, rule, *a, cfg); err != nil {
		m.logger.Error().Err(err).Str("assignment_id", assignmentID).Msg("timeout escalation failed")
	}
}

// schedule runs fn after the rule's delay, or inline when there is none
func (m *Manager) schedule(rule types.EscalationRule, fn func()) {
	if rule.DelayMinutes <= 0 {
		fn()
		return
	}
	time.AfterFunc(time.Duration(rule.DelayMinutes)*time.Minute, fn)
}

// applyToAssignment escalates an existing assignment per the rule
func (m *Manager) applyToAssignment(ctx context.Context, rule types.EscalationRule, a types.Assignment, cfg types.AssignmentConfig) (types.AssignmentResult, error) {
	count, err := m.bump(a.ResourceType, a.ResourceID, rule)
	if err != nil {
		metrics.Get().RecordEscalation(true)
		m.logger.Warn().
			Str("assignment_id", a.ID).
			Int("attempts", count).
			Msg("escalation budget exhausted")
		return types.AssignmentResult{
			Success:    false,
			Message:    "escalation budget exhausted",
			Escalated:  true,
			RetryCount: count,
		}, err
	}
	metrics.Get().RecordEscalation(false)

	switch rule.Action {
	case types.ActionReassign:
		req := requestFrom(a)
		if rule.TargetStrategy != "" {
			req.Strategy = rule.TargetStrategy
		}
		// the user who just failed this assignment is out of the running
		req.Criteria.ExcludedUsers = append(req.Criteria.ExcludedUsers, a.AssignedTo)
		return m.redispatch(ctx, req, cfg, count)

	case types.ActionEscalatePriority:
		req := requestFrom(a)
		req.Criteria.Priority = a.Priority.Escalate()
		if rule.TargetStrategy != "" {
			req.Strategy = rule.TargetStrategy
		}
		return m.redispatch(ctx, req, cfg, count)

	case types.ActionQueue:
		queued, err := m.assignments.Transition(ctx, a.ID, types.StatusPending)
		if err != nil {
			return types.AssignmentResult{Success: false, Message: err.Error()}, err
		}
		return types.AssignmentResult{
			Success:    true,
			Message:    "requeued",
			Assignment: queued,
			Escalated:  true,
			RetryCount: count,
		}, nil

	case types.ActionNotifyManager:
		m.notify(rule.ManagerID, &a, "assignment needs attention")
		return types.AssignmentResult{
			Success:    false,
			Message:    "manager notified",
			Escalated:  true,
			RetryCount: count,
		}, nil
	}

	return types.AssignmentResult{Success: false, Message: "unknown escalation action"}, nil
}

// applyToRequest escalates a request that never produced an assignment
func (m *Manager) applyToRequest(ctx context.Context, rule types.EscalationRule, req types.CreateAssignmentRequest, cfg types.AssignmentConfig) (types.AssignmentResult, error) {
	count, err := m.bump(req.ResourceType, req.ResourceID, rule)
	if err != nil {
		metrics.Get().RecordEscalation(true)
		return types.AssignmentResult{
			Success:    false,
			Message:    "escalation budget exhausted",
			Escalated:  true,
			RetryCount: count,
		}, err
	}
	metrics.Get().RecordEscalation(false)

	switch rule.Action {
	case types.ActionReassign, types.ActionEscalatePriority:
		if rule.Action == types.ActionEscalatePriority {
			req.Criteria.Priority = req.Criteria.Priority.Escalate()
		}
		if rule.TargetStrategy != "" {
			req.Strategy = rule.TargetStrategy
		}
		return m.redispatch(ctx, req, cfg, count)

	case types.ActionQueue:
		// park the resource unassigned so it surfaces on dashboards
		queued, _, err := m.assignments.Create(ctx, types.Assignment{
			AppID:        req.AppID,
			CompanyID:    req.CompanyID,
			ResourceType: req.ResourceType,
			ResourceID:   req.ResourceID,
			Type:         types.TypeAutomatic,
			Strategy:     req.Strategy,
			Priority:     req.Criteria.Priority,
			Status:       types.StatusPending,
		})
		if err != nil {
			return types.AssignmentResult{Success: false, Message: err.Error()}, err
		}
		return types.AssignmentResult{
			Success:    true,
			Message:    "queued awaiting capacity",
			Assignment: queued,
			Escalated:  true,
			RetryCount: count,
		}, nil

	case types.ActionNotifyManager:
		m.notify(rule.ManagerID, nil, fmt.Sprintf("no eligible users for %s %s", req.ResourceType, req.ResourceID))
		return types.AssignmentResult{
			Success:    false,
			Message:    "manager notified",
			Escalated:  true,
			RetryCount: count,
		}, nil
	}

	return types.AssignmentResult{Success: false, Message: "unknown escalation action"}, nil
}

// defaultMaxEscalations bounds rules that leave maxEscalations unset. A
// zero-delay reassign rule re-enters the dispatcher inline, so every rule
// must carry a finite budget.
const defaultMaxEscalations = 3

// bump increments the attempt counter, failing once the rule's budget is
// spent.
func (m *Manager) bump(rt types.ResourceType, resourceID string, rule types.EscalationRule) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := rule.MaxEscalations
	if limit <= 0 {
		limit = defaultMaxEscalations
	}

	key := resourceKey(rt, resourceID)
	count := m.attempts[key]
	if count >= limit {
		return count, types.ErrEscalationExhausted
	}
	m.attempts[key] = count + 1
	return count + 1, nil
}

func (m *Manager) redispatch(ctx context.Context, req types.CreateAssignmentRequest, cfg types.AssignmentConfig, count int) (types.AssignmentResult, error) {
	result, err := m.dispatcher.AssignWithConfig(ctx, req, cfg)
	result.Escalated = true
	result.RetryCount = count
	return result, err
}

func (m *Manager) notify(managerID string, a *types.Assignment, reason string) {
	if m.notifier == nil || managerID == "" {
		m.logger.Warn().Str("reason", reason).Msg("manager notification dropped, no notifier configured")
		return
	}
	m.notifier.NotifyManager(managerID, a, reason)
}

func ruleFor(cfg types.AssignmentConfig, cond types.EscalationCondition) (types.EscalationRule, bool) {
	for _, rule := range cfg.EscalationRules {
		if rule.Condition == cond {
			return rule, true
		}
	}
	return types.EscalationRule{}, false
}

func requestFrom(a types.Assignment) types.CreateAssignmentRequest {
	return types.CreateAssignmentRequest{
		AppID:        a.AppID,
		CompanyID:    a.CompanyID,
		ResourceType: a.ResourceType,
		ResourceID:   a.ResourceID,
		Criteria: types.AssignmentCriteria{
			ResourceType: a.ResourceType,
			Priority:     a.Priority,
			TeamID:       a.TeamID,
			ShiftID:      a.ShiftID,
			ChannelID:    a.ChannelID,
		},
	}
}
