package dispatch

import (
	"context"
	"time"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/metrics"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// strategyFunc picks a winner from the eligible pool. A nil error means a
// winner was chosen; ErrNoEligibleCandidates triggers the fallback path.
type strategyFunc func(ctx context.Context, d *Dispatcher, req *types.CreateAssignmentRequest, cfg *types.AssignmentConfig) (string, types.AssignmentType, error)

var strategyTable = map[types.AssignmentStrategy]strategyFunc{
	types.StrategyManual:            manualStrategy,
	types.StrategyManualOverride:    manualOverrideStrategy,
	types.StrategyRoundRobin:        roundRobinStrategy,
	types.StrategyLeastBusy:         leastBusyStrategy,
	types.StrategyPriorityBased:     priorityBasedStrategy,
	types.StrategyRandom:            lotteryStrategy(types.LotteryPureRandom, false),
	types.StrategyShiftLottery:      lotteryStrategy(types.LotteryAvailabilityWeighted, false),
	types.StrategyAvailabilityBased: lotteryStrategy(types.LotteryAvailabilityWeighted, true),
	types.StrategySkillBased:        lotteryStrategy(types.LotterySkillWeighted, false),
	types.StrategyGeographic:        lotteryStrategy(types.LotteryPureRandom, false),
	types.StrategyRuleBased:         ruleBasedStrategy,
}

// manualStrategy assigns the explicitly requested user, still honoring
// workload limits and presence.
func manualStrategy(ctx context.Context, d *Dispatcher, req *types.CreateAssignmentRequest, cfg *types.AssignmentConfig) (string, types.AssignmentType, error) {
	userID := req.SpecificUserID
	if userID == "" {
		return "", "", types.ErrNoEligibleCandidates
	}
	if !d.directory.UserExists(userID) {
		return "", "", types.ErrUserNotFound
	}
	switch d.presence.Availability(ctx, userID).CurrentStatus {
	case types.AvailabilityOffline, types.AvailabilityAway:
		return "", "", types.ErrNoEligibleCandidates
	}
	if d.workload.WouldExceed(userID, cfg.WorkloadLimits, req.ResourceType, req.Criteria.Priority) {
		return "", "", types.ErrWorkloadLimitExceeded
	}
	return userID, types.TypeManual, nil
}

// manualOverrideStrategy bypasses limits and presence; only user existence
// is checked. Intended for supervisors reassigning work by hand.
func manualOverrideStrategy(_ context.Context, d *Dispatcher, req *types.CreateAssignmentRequest, _ *types.AssignmentConfig) (string, types.AssignmentType, error) {
	userID := req.SpecificUserID
	if userID == "" {
		return "", "", types.ErrNoEligibleCandidates
	}
	if !d.directory.UserExists(userID) {
		return "", "", types.ErrUserNotFound
	}
	return userID, types.TypeManual, nil
}

// roundRobinStrategy walks the pool with a durable per-scope cursor. The
// cursor advances by one on every pick and wraps modulo the pool size at
// read time, so pool membership changes never strand it.
func roundRobinStrategy(ctx context.Context, d *Dispatcher, req *types.CreateAssignmentRequest, cfg *types.AssignmentConfig) (string, types.AssignmentType, error) {
	pool, err := d.buildPool(ctx, req, cfg, false)
	if err != nil {
		return "", "", err
	}

	scope := cfg.Scope(req.Criteria.TeamID)
	mu := d.scopes.For(scope)
	mu.Lock()
	defer mu.Unlock()

	cursor, err := d.assignments.Cursor(ctx, scope)
	if err != nil {
		return "", "", err
	}
	winner := pool[cursor%len(pool)]
	if err := d.assignments.SaveCursor(ctx, scope, cursor+1); err != nil {
		return "", "", err
	}
	return winner, types.TypeAutomatic, nil
}

// leastBusyStrategy picks the user with the fewest active assignments,
// breaking ties by least recent assignment, then by user id.
func leastBusyStrategy(ctx context.Context, d *Dispatcher, req *types.CreateAssignmentRequest, cfg *types.AssignmentConfig) (string, types.AssignmentType, error) {
	pool, err := d.buildPool(ctx, req, cfg, false)
	if err != nil {
		return "", "", err
	}

	winner := pool[0]
	best := d.workload.Snapshot(winner)
	for _, id := range pool[1:] {
		w := d.workload.Snapshot(id)
		if w.CurrentAssignments < best.CurrentAssignments ||
			(w.CurrentAssignments == best.CurrentAssignments && lessRecent(w.LastAssignmentAt, best.LastAssignmentAt)) {
			winner, best = id, w
		}
	}
	return winner, types.TypeAutomatic, nil
}

// lessRecent orders by last assignment time with never-assigned first
func lessRecent(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

// priorityBasedStrategy ranks by preferred-user status and skill fit,
// falling back to least busy among equals.
func priorityBasedStrategy(ctx context.Context, d *Dispatcher, req *types.CreateAssignmentRequest, cfg *types.AssignmentConfig) (string, types.AssignmentType, error) {
	pool, err := d.buildPool(ctx, req, cfg, false)
	if err != nil {
		return "", "", err
	}

	preferred := make(map[string]bool, len(req.Criteria.PreferredUsers))
	for _, id := range req.Criteria.PreferredUsers {
		preferred[id] = true
	}

	score := func(id string) float64 {
		s := d.skills.Score(id, req.Criteria.Skills)
		if preferred[id] {
			s += 1
		}
		return s
	}

	winner := pool[0]
	bestScore := score(winner)
	bestBusy := d.workload.Snapshot(winner).CurrentAssignments
	for _, id := range pool[1:] {
		s := score(id)
		busy := d.workload.Snapshot(id).CurrentAssignments
		if s > bestScore || (s == bestScore && busy < bestBusy) {
			winner, bestScore, bestBusy = id, s, busy
		}
	}
	return winner, types.TypeAutomatic, nil
}

// ruleBasedStrategy is reached only when rule_based is configured as the
// strategy itself and no rule matched during rule_check; there is nothing
// left to decide with.
func ruleBasedStrategy(_ context.Context, _ *Dispatcher, _ *types.CreateAssignmentRequest, _ *types.AssignmentConfig) (string, types.AssignmentType, error) {
	return "", "", types.ErrNoEligibleCandidates
}

// lotteryStrategy adapts a draw algorithm into a strategyFunc. The tenant's
// lottery config supplies weights and exclusions; the strategy pins the
// algorithm and whether busy users are dropped up front.
func lotteryStrategy(algorithm types.LotteryAlgorithm, excludeBusy bool) strategyFunc {
	return func(ctx context.Context, d *Dispatcher, req *types.CreateAssignmentRequest, cfg *types.AssignmentConfig) (string, types.AssignmentType, error) {
		pool, err := d.buildPool(ctx, req, cfg, excludeBusy)
		if err != nil {
			return "", "", err
		}

		if req.Criteria.Geographic != "" {
			pool = d.filterGeographic(ctx, pool, req.Criteria.Geographic)
			if len(pool) == 0 {
				return "", "", types.ErrNoEligibleCandidates
			}
		}

		lcfg := types.LotteryConfig{Algorithm: algorithm}
		if cfg.Lottery != nil {
			lcfg = *cfg.Lottery
			lcfg.Algorithm = algorithm
		}

		result := d.lottery.Draw(d.candidatesFor(ctx, pool, req), lcfg)
		result.AppID = req.AppID
		result.CompanyID = req.CompanyID

		excluded := 0
		for _, p := range result.Participants {
			if p.ExclusionReason != "" {
				excluded++
			}
		}
		metrics.Get().RecordLotteryDraw(excluded)

		if err := d.assignments.SaveLotteryResult(ctx, result); err != nil {
			d.logger.Error().Err(err).Str("draw_id", result.ID).Msg("failed to persist lottery result")
		}

		if result.WinnerID == "" {
			return "", "", types.ErrNoEligibleCandidates
		}
		return result.WinnerID, types.TypeLottery, nil
	}
}

// filterGeographic keeps users whose last known region matches
func (d *Dispatcher) filterGeographic(ctx context.Context, pool []string, region string) []string {
	out := pool[:0:0]
	for _, id := range pool {
		if d.presence.Availability(ctx, id).Geographic == region {
			out = append(out, id)
		}
	}
	return out
}
