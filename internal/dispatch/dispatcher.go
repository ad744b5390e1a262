package dispatch

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/lottery"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/metrics"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/presence"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/rules"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/shifts"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/skills"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/store"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/workload"
)

// EscalationHook receives dispatcher outcomes that may need follow-up.
// The escalation manager implements it; a nil hook disables escalation.
type EscalationHook interface {
	// OnAssigned fires after a successful assignment that awaits
	// confirmation, so a timeout timer can be started.
	OnAssigned(a types.Assignment, cfg types.AssignmentConfig)
	// OnNoCandidates fires when both the primary and fallback strategies
	// produced no winner.
	OnNoCandidates(req types.CreateAssignmentRequest, cfg types.AssignmentConfig)
}

// Dispatcher is the top-level entry point for routing decisions. One call
// runs rule_check, pool_build and strategy_execute for a single resource;
// calls for different resources are safe to run concurrently, calls for
// the same resource serialize on a per-resource advisory lock.
type Dispatcher struct {
	configs     *ConfigRegistry
	rules       *RuleRegistry
	directory   *Directory
	resolver    *shifts.Resolver
	skills      *skills.Filter
	workload    *workload.Tracker
	lottery     *lottery.Engine
	assignments *store.Assignments
	presence    presence.Source
	hook        EscalationHook

	locks  *resourceLocks
	scopes *scopeLocks
	logger zerolog.Logger
	now    func() time.Time

	// base backoff between lock acquisition attempts
	retryDelay time.Duration
}

// NewDispatcher wires the routing components together
func NewDispatcher(
	configs *ConfigRegistry,
	ruleRegistry *RuleRegistry,
	directory *Directory,
	resolver *shifts.Resolver,
	skillFilter *skills.Filter,
	tracker *workload.Tracker,
	lotteryEngine *lottery.Engine,
	assignments *store.Assignments,
	presenceSrc presence.Source,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		configs:     configs,
		rules:       ruleRegistry,
		directory:   directory,
		resolver:    resolver,
		skills:      skillFilter,
		workload:    tracker,
		lottery:     lotteryEngine,
		assignments: assignments,
		presence:    presenceSrc,
		locks:       newResourceLocks(),
		scopes:      newScopeLocks(),
		logger:      logger.With().Str("component", "dispatch").Logger(),
		now:         time.Now,
		retryDelay:  50 * time.Millisecond,
	}
}

// SetEscalationHook attaches the escalation manager
func (d *Dispatcher) SetEscalationHook(hook EscalationHook) { d.hook = hook }

// SetClock overrides the time source, used by tests
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// SetRetryDelay overrides the lock backoff base, used by tests
func (d *Dispatcher) SetRetryDelay(delay time.Duration) { d.retryDelay = delay }

// Assign resolves the tenant config and routes one resource
func (d *Dispatcher) Assign(ctx context.Context, req types.CreateAssignmentRequest) (types.AssignmentResult, error) {
	cfg, ok := d.configs.ConfigFor(req.CompanyID, req.Criteria.ChannelID)
	if !ok {
		return failure("no assignment config for tenant"), types.ErrConfigDisabled
	}
	return d.AssignWithConfig(ctx, req, cfg)
}

// AssignWithConfig routes one resource under an explicit config snapshot.
// Expected "no one available" outcomes return a non-success result with a
// nil error; config and concurrency errors are returned as errors alongside
// the failure result.
func (d *Dispatcher) AssignWithConfig(ctx context.Context, req types.CreateAssignmentRequest, cfg types.AssignmentConfig) (types.AssignmentResult, error) {
	started := d.now()
	m := metrics.Get()

	if !cfg.Enabled {
		m.RecordAssignmentFailure()
		return failure("assignment disabled for tenant"), types.ErrConfigDisabled
	}

	if err := d.acquire(ctx, req, cfg); err != nil {
		m.RecordAssignmentFailure()
		return failure("resource is being dispatched elsewhere"), err
	}

	result, exhausted, err := d.dispatchLocked(ctx, req, cfg, started)

	// The hook fires outside the lock so an inline escalation can
	// re-dispatch this same resource.
	if exhausted && d.hook != nil {
		d.hook.OnNoCandidates(req, cfg)
	}
	return result, err
}

// dispatchLocked runs rule_check, pool_build and strategy_execute under the
// per-resource lock. The third return reports that every strategy came up
// empty, which is the escalation trigger.
func (d *Dispatcher) dispatchLocked(ctx context.Context, req types.CreateAssignmentRequest, cfg types.AssignmentConfig, started time.Time) (types.AssignmentResult, bool, error) {
	defer d.locks.Release(req.ResourceType, req.ResourceID)
	m := metrics.Get()

	// rule_check runs before strategy selection; a match can short-circuit
	// pool building entirely
	strategy := req.Strategy
	if strategy == "" {
		strategy = cfg.DefaultStrategy
	}

	if action := rules.Evaluate(d.rules.RulesFor(req.CompanyID, req.ResourceType), req.Attributes); action != nil {
		switch action.Type {
		case types.RuleAssignUser:
			a, err := d.finalize(ctx, req, cfg, action.UserID, action.TeamID, types.TypeRuleBased, types.StrategyRuleBased)
			if err != nil {
				m.RecordAssignmentFailure()
				return failure(err.Error()), false, err
			}
			m.RecordAssignment(types.StrategyRuleBased, d.now().Sub(started))
			return success(a, types.StrategyRuleBased, false), false, nil
		case types.RuleAssignTeam:
			a, err := d.finalize(ctx, req, cfg, "", action.TeamID, types.TypeRuleBased, types.StrategyRuleBased)
			if err != nil {
				m.RecordAssignmentFailure()
				return failure(err.Error()), false, err
			}
			m.RecordAssignment(types.StrategyRuleBased, d.now().Sub(started))
			return success(a, types.StrategyRuleBased, false), false, nil
		case types.RuleUseStrategy:
			strategy = action.Strategy
		case types.RuleSetPriority:
			req.Criteria.Priority = action.Priority
		}
	}

	result, err := d.executeStrategy(ctx, req, cfg, strategy)
	if err == nil {
		m.RecordAssignment(strategy, d.now().Sub(started))
		return result, false, nil
	}
	if !errors.Is(err, types.ErrNoEligibleCandidates) {
		m.RecordAssignmentFailure()
		return failure(err.Error()), false, err
	}

	// Strategy failure: one shot with the fallback, then escalation
	if cfg.FallbackStrategy != "" && cfg.FallbackStrategy != strategy {
		result, fbErr := d.executeStrategy(ctx, req, cfg, cfg.FallbackStrategy)
		if fbErr == nil {
			result.FallbackUsed = true
			m.RecordFallbackUsed()
			m.RecordAssignment(cfg.FallbackStrategy, d.now().Sub(started))
			return result, false, nil
		}
		if !errors.Is(fbErr, types.ErrNoEligibleCandidates) {
			m.RecordAssignmentFailure()
			return failure(fbErr.Error()), false, fbErr
		}
	}

	m.RecordAssignmentFailure()
	d.logger.Info().
		Str("resource_type", string(req.ResourceType)).
		Str("resource_id", req.ResourceID).
		Str("strategy", string(strategy)).
		Msg("no eligible users for dispatch")

	return failure("no eligible users"), true, nil
}

// AssignBulk routes many resources, preserving per-item order and
// independent success/failure.
func (d *Dispatcher) AssignBulk(ctx context.Context, req types.BulkAssignmentRequest) types.BulkAssignmentResult {
	out := types.BulkAssignmentResult{Total: len(req.Items)}
	for _, item := range req.Items {
		if item.AppID == "" {
			item.AppID = req.AppID
		}
		if item.CompanyID == "" {
			item.CompanyID = req.CompanyID
		}
		result, _ := d.Assign(ctx, item)
		if result.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
		out.Results = append(out.Results, result)
	}
	return out
}

// acquire takes the per-resource lock, backing off up to cfg.MaxRetries
// times before reporting a concurrency conflict.
func (d *Dispatcher) acquire(ctx context.Context, req types.CreateAssignmentRequest, cfg types.AssignmentConfig) error {
	delay := d.retryDelay
	if cfg.RetryDelaySeconds > 0 {
		delay = time.Duration(cfg.RetryDelaySeconds) * time.Second
	}
	for attempt := 0; ; attempt++ {
		if d.locks.TryAcquire(req.ResourceType, req.ResourceID) {
			return nil
		}
		if attempt >= cfg.MaxRetries {
			return types.ErrResourceLocked
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// executeStrategy runs pool_build and strategy_execute for one strategy
func (d *Dispatcher) executeStrategy(ctx context.Context, req types.CreateAssignmentRequest, cfg types.AssignmentConfig, strategy types.AssignmentStrategy) (types.AssignmentResult, error) {
	fn, ok := strategyTable[strategy]
	if !ok {
		return failure("unknown strategy"), types.ErrUnknownStrategy
	}

	winner, atype, err := fn(ctx, d, &req, &cfg)
	if err != nil {
		return failure(err.Error()), err
	}

	a, err := d.finalize(ctx, req, cfg, winner, req.Criteria.TeamID, atype, strategy)
	if err != nil {
		return failure(err.Error()), err
	}
	return success(a, strategy, false), nil
}

// buildPool intersects shift/availability eligibility, skill filtering and
// workload limits into the candidate pool, sorted by user id.
func (d *Dispatcher) buildPool(ctx context.Context, req *types.CreateAssignmentRequest, cfg *types.AssignmentConfig, excludeBusy bool) ([]string, error) {
	opts := shifts.Options{ExcludeBusy: excludeBusy}
	crit := req.Criteria

	// A time slot pins eligibility to the window's start instead of now, so
	// scheduled work is routed to whoever holds the shift at that moment.
	now := d.now()
	if crit.TimeSlot != nil && !crit.TimeSlot.Start.IsZero() {
		now = crit.TimeSlot.Start
	}

	var pool []string
	var presenceChecked bool
	switch {
	case len(crit.RequiredUsers) > 0:
		pool = append(pool, crit.RequiredUsers...)
	case crit.ShiftID != "":
		eligible, err := d.resolver.EligibleUsers(ctx, crit.ShiftID, now, opts)
		if err != nil {
			return nil, err
		}
		pool = eligible
		presenceChecked = true
	case crit.ChannelID != "":
		pool = d.resolver.EligibleByChannel(ctx, crit.ChannelID, now, opts)
		presenceChecked = true
	case crit.TeamID != "":
		pool = d.directory.TeamMembers(crit.TeamID)
	default:
		pool = d.directory.CompanyUsers(req.CompanyID)
	}

	excluded := make(map[string]bool, len(crit.ExcludedUsers))
	for _, id := range crit.ExcludedUsers {
		excluded[id] = true
	}

	filtered := pool[:0:0]
	for _, id := range pool {
		if excluded[id] {
			continue
		}
		if !presenceChecked {
			ua := d.presence.Availability(ctx, id)
			switch ua.CurrentStatus {
			case types.AvailabilityAway, types.AvailabilityOffline:
				continue
			case types.AvailabilityBusy:
				if opts.ExcludeBusy {
					continue
				}
			}
		}
		filtered = append(filtered, id)
	}

	filtered = d.skills.Apply(filtered, crit.Skills)

	pool = filtered[:0:0]
	for _, id := range filtered {
		if d.workload.WouldExceed(id, cfg.WorkloadLimits, req.ResourceType, crit.Priority) {
			continue
		}
		pool = append(pool, id)
	}

	sort.Strings(pool)
	if len(pool) == 0 {
		return nil, types.ErrNoEligibleCandidates
	}
	return pool, nil
}

// candidatesFor assembles lottery candidates from the pool
func (d *Dispatcher) candidatesFor(ctx context.Context, pool []string, req *types.CreateAssignmentRequest) []lottery.Candidate {
	now := d.now()
	preferred := make(map[string]bool, len(req.Criteria.PreferredUsers))
	for _, id := range req.Criteria.PreferredUsers {
		preferred[id] = true
	}

	out := make([]lottery.Candidate, 0, len(pool))
	for _, id := range pool {
		w := d.workload.Snapshot(id)
		ua := d.presence.Availability(ctx, id)

		priorityScore := d.skills.Score(id, req.Criteria.Skills)
		if preferred[id] {
			priorityScore = 1
		}

		out = append(out, lottery.Candidate{
			UserID:             id,
			PriorityScore:      priorityScore,
			SkillScore:         d.skills.Score(id, req.Criteria.Skills),
			Performance:        performanceTerm(w),
			Availability:       ua.CurrentStatus,
			OnShift:            d.resolver.OnShift(ctx, id, now),
			CurrentAssignments: w.CurrentAssignments,
			Rejections:         w.Rejections,
			LastAssignmentAt:   w.LastAssignmentAt,
		})
	}
	return out
}

// finalize persists the decision, bumps workload counters and kicks off
// confirmation tracking. An empty winner queues the work on a team.
func (d *Dispatcher) finalize(ctx context.Context, req types.CreateAssignmentRequest, cfg types.AssignmentConfig, winner, teamID string, atype types.AssignmentType, strategy types.AssignmentStrategy) (*types.Assignment, error) {
	status := types.StatusAssigned
	if winner == "" {
		status = types.StatusPending
	}

	a := types.Assignment{
		AppID:        req.AppID,
		CompanyID:    req.CompanyID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		AssignedTo:   winner,
		AssignedBy:   req.AssignedBy,
		TeamID:       teamID,
		ChannelID:    req.Criteria.ChannelID,
		ShiftID:      req.Criteria.ShiftID,
		Type:         atype,
		Strategy:     strategy,
		Priority:     req.Criteria.Priority,
		Status:       status,
		AssignedAt:   d.now(),
	}

	created, superseded, err := d.assignments.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	if superseded != nil && superseded.AssignedTo != "" {
		d.workload.Decrement(superseded.AssignedTo, superseded.ResourceType, 0)
	}

	if winner != "" {
		d.workload.Increment(winner, req.ResourceType)

		if cfg.AutoAccept && !cfg.RequireConfirmation {
			accepted, err := d.assignments.Transition(ctx, created.ID, types.StatusAccepted)
			if err == nil {
				created = accepted
			}
		} else if cfg.RequireConfirmation && d.hook != nil {
			d.hook.OnAssigned(*created, cfg)
		}
	}

	d.logger.Debug().
		Str("assignment_id", created.ID).
		Str("resource_id", req.ResourceID).
		Str("assigned_to", winner).
		Str("strategy", string(strategy)).
		Msg("assignment created")

	return created, nil
}

// performanceTerm maps completion speed into a 0-1 score. Users with no
// completion history score neutral.
func performanceTerm(w types.UserWorkload) float64 {
	if w.AverageCompletionTime <= 0 {
		return 0.5
	}
	// one hour average maps to 0.5, faster trends toward 1
	return 3600 / (3600 + w.AverageCompletionTime)
}

func success(a *types.Assignment, strategy types.AssignmentStrategy, fallback bool) types.AssignmentResult {
	return types.AssignmentResult{
		Success:        true,
		Assignment:     a,
		AssignedUserID: a.AssignedTo,
		TeamID:         a.TeamID,
		Strategy:       strategy,
		FallbackUsed:   fallback,
	}
}

func failure(message string) types.AssignmentResult {
	return types.AssignmentResult{Success: false, Message: message}
}
