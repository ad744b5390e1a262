package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/lottery"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/presence"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/shifts"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/skills"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/store"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/workload"
)

type captureHook struct {
	assigned     []types.Assignment
	noCandidates int
}

func (h *captureHook) OnAssigned(a types.Assignment, _ types.AssignmentConfig) {
	h.assigned = append(h.assigned, a)
}

func (h *captureHook) OnNoCandidates(_ types.CreateAssignmentRequest, _ types.AssignmentConfig) {
	h.noCandidates++
}

type testEnv struct {
	dispatcher  *Dispatcher
	backend     *store.MemoryBackend
	assignments *store.Assignments
	presence    *presence.Tracker
	tracker     *workload.Tracker
	directory   *Directory
	configs     *ConfigRegistry
	rules       *RuleRegistry
	skills      *skills.Filter
	resolver    *shifts.Resolver
	hook        *captureHook
}

func baseConfig() types.AssignmentConfig {
	return types.AssignmentConfig{
		AppID:           "app-1",
		CompanyID:       "co-1",
		Enabled:         true,
		DefaultStrategy: types.StrategyRoundRobin,
		MaxRetries:      2,
	}
}

func newTestEnv(users ...string) *testEnv {
	backend := store.NewMemoryBackend()
	assignments := store.NewAssignments(backend, nil, zerolog.Nop())
	pres := presence.NewTracker()
	tracker := workload.NewTracker("UTC")
	resolver := shifts.NewResolver(pres, tracker, zerolog.Nop())
	skillFilter := skills.NewFilter()
	configs := NewConfigRegistry()
	ruleReg := NewRuleRegistry()
	dir := NewDirectory()

	dir.SetCompanyUsers("co-1", users)
	for _, u := range users {
		pres.Update(types.AvailabilityEvent{UserID: u, Status: types.AvailabilityAvailable})
	}

	engine := lottery.NewEngine(rand.NewSource(1), zerolog.Nop())
	d := NewDispatcher(configs, ruleReg, dir, resolver, skillFilter, tracker, engine, assignments, pres, zerolog.Nop())
	d.SetRetryDelay(time.Millisecond)

	hook := &captureHook{}
	d.SetEscalationHook(hook)
	configs.SetConfig(baseConfig())

	return &testEnv{
		dispatcher:  d,
		backend:     backend,
		assignments: assignments,
		presence:    pres,
		tracker:     tracker,
		directory:   dir,
		configs:     configs,
		rules:       ruleReg,
		skills:      skillFilter,
		resolver:    resolver,
		hook:        hook,
	}
}

func assignReq(resourceID string) types.CreateAssignmentRequest {
	return types.CreateAssignmentRequest{
		AppID:        "app-1",
		CompanyID:    "co-1",
		ResourceType: types.ResourceConversation,
		ResourceID:   resourceID,
	}
}

func TestRoundRobinUsesDurableCursor(t *testing.T) {
	env := newTestEnv("alice", "bob", "carol")
	ctx := context.Background()

	if err := env.assignments.SaveCursor(ctx, "company:co-1", 1); err != nil {
		t.Fatalf("failed to seed cursor: %v", err)
	}

	result, err := env.dispatcher.Assign(ctx, assignReq("conv-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AssignedUserID != "bob" {
		t.Errorf("expected bob at cursor 1, got %q", result.AssignedUserID)
	}

	cursor, err := env.assignments.Cursor(ctx, "company:co-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cursor != 2 {
		t.Errorf("expected cursor 2 after pick, got %d", cursor)
	}
}

func TestRoundRobinDistributesEvenly(t *testing.T) {
	env := newTestEnv("alice", "bob", "carol")
	ctx := context.Background()

	counts := map[string]int{}
	for i := 0; i < 6; i++ {
		req := assignReq("conv-" + string(rune('a'+i)))
		result, err := env.dispatcher.Assign(ctx, req)
		if err != nil {
			t.Fatalf("assign %d failed: %v", i, err)
		}
		counts[result.AssignedUserID]++
	}

	for _, u := range []string{"alice", "bob", "carol"} {
		if counts[u] != 2 {
			t.Errorf("expected 2 assignments for %s, got %d", u, counts[u])
		}
	}
}

func TestLeastBusyPicksLightestUser(t *testing.T) {
	env := newTestEnv("alice", "bob", "carol")
	ctx := context.Background()

	env.tracker.Increment("alice", types.ResourceConversation)
	env.tracker.Increment("alice", types.ResourceConversation)
	env.tracker.Increment("carol", types.ResourceConversation)

	req := assignReq("conv-1")
	req.Strategy = types.StrategyLeastBusy
	result, err := env.dispatcher.Assign(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AssignedUserID != "bob" {
		t.Errorf("expected bob with zero active assignments, got %q", result.AssignedUserID)
	}
}

func TestManualRespectsWorkloadLimits(t *testing.T) {
	env := newTestEnv("alice", "bob")
	cfg := baseConfig()
	cfg.WorkloadLimits = []types.WorkloadLimit{{MaxConcurrent: 1}}
	env.configs.SetConfig(cfg)
	ctx := context.Background()

	env.tracker.Increment("alice", types.ResourceConversation)

	req := assignReq("conv-1")
	req.Strategy = types.StrategyManual
	req.SpecificUserID = "alice"
	result, err := env.dispatcher.Assign(ctx, req)
	if !errors.Is(err, types.ErrWorkloadLimitExceeded) {
		t.Fatalf("expected ErrWorkloadLimitExceeded, got %v", err)
	}
	if result.Success {
		t.Error("expected failure result")
	}
}

func TestManualRejectsAwayUser(t *testing.T) {
	env := newTestEnv("alice", "bob")
	env.presence.Update(types.AvailabilityEvent{UserID: "alice", Status: types.AvailabilityAway})
	ctx := context.Background()

	req := assignReq("conv-1")
	req.Strategy = types.StrategyManual
	req.SpecificUserID = "alice"
	if _, err := env.dispatcher.Assign(ctx, req); !errors.Is(err, types.ErrNoEligibleCandidates) {
		t.Fatalf("expected ErrNoEligibleCandidates for away user, got %v", err)
	}
}

func TestManualUnknownUser(t *testing.T) {
	env := newTestEnv("alice")
	ctx := context.Background()

	req := assignReq("conv-1")
	req.Strategy = types.StrategyManual
	req.SpecificUserID = "nobody"
	_, err := env.dispatcher.Assign(ctx, req)
	if !errors.Is(err, types.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestManualOverrideBypassesLimits(t *testing.T) {
	env := newTestEnv("alice")
	cfg := baseConfig()
	cfg.WorkloadLimits = []types.WorkloadLimit{{MaxConcurrent: 1}}
	env.configs.SetConfig(cfg)
	ctx := context.Background()

	env.tracker.Increment("alice", types.ResourceConversation)

	req := assignReq("conv-1")
	req.Strategy = types.StrategyManualOverride
	req.SpecificUserID = "alice"
	result, err := env.dispatcher.Assign(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AssignedUserID != "alice" {
		t.Errorf("expected override to assign alice, got %q", result.AssignedUserID)
	}
}

func TestFallbackStrategyUsed(t *testing.T) {
	env := newTestEnv("alice")
	cfg := baseConfig()
	cfg.DefaultStrategy = types.StrategyManual // no SpecificUserID given
	cfg.FallbackStrategy = types.StrategyRoundRobin
	env.configs.SetConfig(cfg)
	ctx := context.Background()

	result, err := env.dispatcher.Assign(ctx, assignReq("conv-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success via fallback, got %q", result.Message)
	}
	if !result.FallbackUsed {
		t.Error("expected FallbackUsed to be set")
	}
	if result.AssignedUserID != "alice" {
		t.Errorf("expected alice via fallback, got %q", result.AssignedUserID)
	}
}

func TestNoEligibleUsersTriggersEscalationHook(t *testing.T) {
	env := newTestEnv() // empty directory
	ctx := context.Background()

	result, err := env.dispatcher.Assign(ctx, assignReq("conv-1"))
	if err != nil {
		t.Fatalf("expected nil error for expected empty pool, got %v", err)
	}
	if result.Success {
		t.Error("expected failure result")
	}
	if result.Message != "no eligible users" {
		t.Errorf("unexpected message %q", result.Message)
	}
	if env.hook.noCandidates != 1 {
		t.Errorf("expected 1 OnNoCandidates call, got %d", env.hook.noCandidates)
	}
}

func TestDisabledConfigRejected(t *testing.T) {
	env := newTestEnv("alice")
	cfg := baseConfig()
	cfg.Enabled = false
	env.configs.SetConfig(cfg)

	_, err := env.dispatcher.Assign(context.Background(), assignReq("conv-1"))
	if !errors.Is(err, types.ErrConfigDisabled) {
		t.Fatalf("expected ErrConfigDisabled, got %v", err)
	}
}

func TestRuleAssignsUserBeforeStrategy(t *testing.T) {
	env := newTestEnv("alice", "bob", "dave")
	env.rules.SetRules("co-1", []types.AssignmentRule{
		{
			ID:       "rule-vip",
			Priority: 10,
			Active:   true,
			Condition: types.RuleCondition{
				Field:    "segment",
				Operator: types.OpEquals,
				Value:    "vip",
			},
			Action: types.RuleAction{Type: types.RuleAssignUser, UserID: "dave"},
		},
	})
	ctx := context.Background()

	req := assignReq("conv-1")
	req.Attributes = map[string]any{"segment": "vip"}
	result, err := env.dispatcher.Assign(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AssignedUserID != "dave" {
		t.Errorf("expected rule winner dave, got %q", result.AssignedUserID)
	}
	if result.Strategy != types.StrategyRuleBased {
		t.Errorf("expected rule_based strategy, got %q", result.Strategy)
	}
	if result.Assignment.Type != types.TypeRuleBased {
		t.Errorf("expected rule_based assignment type, got %q", result.Assignment.Type)
	}
}

func TestRuleSetsPriority(t *testing.T) {
	env := newTestEnv("alice")
	env.rules.SetRules("co-1", []types.AssignmentRule{
		{
			ID:       "rule-urgent",
			Priority: 5,
			Active:   true,
			Condition: types.RuleCondition{
				Field:    "tier",
				Operator: types.OpIn,
				Value:    []any{"gold", "platinum"},
			},
			Action: types.RuleAction{Type: types.RuleSetPriority, Priority: types.PriorityUrgent},
		},
	})
	ctx := context.Background()

	req := assignReq("conv-1")
	req.Attributes = map[string]any{"tier": "gold"}
	result, err := env.dispatcher.Assign(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Assignment.Priority != types.PriorityUrgent {
		t.Errorf("expected escalated priority urgent, got %q", result.Assignment.Priority)
	}
}

func TestReassignSupersedesAndReleasesWorkload(t *testing.T) {
	env := newTestEnv("alice", "bob")
	ctx := context.Background()

	first, err := env.dispatcher.Assign(ctx, assignReq("conv-1"))
	if err != nil {
		t.Fatalf("first assign failed: %v", err)
	}
	if got := env.tracker.Snapshot(first.AssignedUserID).CurrentAssignments; got != 1 {
		t.Fatalf("expected 1 active for first winner, got %d", got)
	}

	second, err := env.dispatcher.Assign(ctx, assignReq("conv-1"))
	if err != nil {
		t.Fatalf("second assign failed: %v", err)
	}
	if second.AssignedUserID == first.AssignedUserID {
		t.Fatalf("expected round robin to move on, both picks were %q", first.AssignedUserID)
	}

	if got := env.tracker.Snapshot(first.AssignedUserID).CurrentAssignments; got != 0 {
		t.Errorf("expected superseded assignee released, got %d active", got)
	}

	active, err := env.assignments.Active(ctx, types.ResourceConversation, "conv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active == nil || active.ID != second.Assignment.ID {
		t.Error("expected the second assignment to be the only active one")
	}

	prior, err := env.assignments.Get(ctx, first.Assignment.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prior.Status != types.StatusCancelled {
		t.Errorf("expected superseded assignment cancelled, got %q", prior.Status)
	}
}

func TestAutoAcceptTransitions(t *testing.T) {
	env := newTestEnv("alice")
	cfg := baseConfig()
	cfg.AutoAccept = true
	env.configs.SetConfig(cfg)

	result, err := env.dispatcher.Assign(context.Background(), assignReq("conv-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Assignment.Status != types.StatusAccepted {
		t.Errorf("expected auto-accepted status, got %q", result.Assignment.Status)
	}
}

func TestRequireConfirmationStartsTimer(t *testing.T) {
	env := newTestEnv("alice")
	cfg := baseConfig()
	cfg.RequireConfirmation = true
	cfg.TimeoutMinutes = 5
	env.configs.SetConfig(cfg)

	result, err := env.dispatcher.Assign(context.Background(), assignReq("conv-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Assignment.Status != types.StatusAssigned {
		t.Errorf("expected assigned status awaiting confirmation, got %q", result.Assignment.Status)
	}
	if len(env.hook.assigned) != 1 {
		t.Fatalf("expected 1 OnAssigned call, got %d", len(env.hook.assigned))
	}
	if env.hook.assigned[0].ID != result.Assignment.ID {
		t.Error("hook received a different assignment")
	}
}

func TestWorkloadLimitExcludesFromPool(t *testing.T) {
	env := newTestEnv("alice", "bob", "carol")
	cfg := baseConfig()
	cfg.WorkloadLimits = []types.WorkloadLimit{{MaxConcurrent: 1}}
	env.configs.SetConfig(cfg)
	ctx := context.Background()

	env.tracker.Increment("alice", types.ResourceConversation)

	result, err := env.dispatcher.Assign(ctx, assignReq("conv-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AssignedUserID == "alice" {
		t.Error("expected alice excluded by workload limit")
	}
}

func TestLotteryStrategyPersistsDraw(t *testing.T) {
	env := newTestEnv("alice", "bob", "carol")
	ctx := context.Background()

	req := assignReq("conv-1")
	req.Strategy = types.StrategyRandom
	result, err := env.dispatcher.Assign(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Message)
	}
	if result.Assignment.Type != types.TypeLottery {
		t.Errorf("expected lottery assignment type, got %q", result.Assignment.Type)
	}
	if env.backend.LotteryResultCount() != 1 {
		t.Errorf("expected 1 persisted draw, got %d", env.backend.LotteryResultCount())
	}
}

func TestGeographicFiltersPool(t *testing.T) {
	env := newTestEnv("alice", "bob", "carol")
	env.presence.Update(types.AvailabilityEvent{
		UserID: "carol", Status: types.AvailabilityAvailable, Geographic: "br-south",
	})
	ctx := context.Background()

	req := assignReq("conv-1")
	req.Strategy = types.StrategyGeographic
	req.Criteria.Geographic = "br-south"
	result, err := env.dispatcher.Assign(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AssignedUserID != "carol" {
		t.Errorf("expected carol in br-south, got %q", result.AssignedUserID)
	}
}

func TestOfflineUsersExcluded(t *testing.T) {
	env := newTestEnv("alice", "bob")
	env.presence.Update(types.AvailabilityEvent{UserID: "alice", Status: types.AvailabilityOffline})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := env.dispatcher.Assign(ctx, assignReq("conv-"+string(rune('a'+i))))
		if err != nil {
			t.Fatalf("assign %d failed: %v", i, err)
		}
		if result.AssignedUserID != "bob" {
			t.Errorf("expected only bob eligible, got %q", result.AssignedUserID)
		}
	}
}

func TestResourceLockConflict(t *testing.T) {
	env := newTestEnv("alice")
	ctx := context.Background()

	if !env.dispatcher.locks.TryAcquire(types.ResourceConversation, "conv-1") {
		t.Fatal("failed to pre-acquire lock")
	}
	defer env.dispatcher.locks.Release(types.ResourceConversation, "conv-1")

	_, err := env.dispatcher.Assign(ctx, assignReq("conv-1"))
	if !errors.Is(err, types.ErrResourceLocked) {
		t.Fatalf("expected ErrResourceLocked, got %v", err)
	}
}

func TestTimeSlotPinsShiftEligibility(t *testing.T) {
	env := newTestEnv("alice")
	env.dispatcher.SetClock(func() time.Time {
		return time.Date(2026, time.January, 6, 20, 0, 0, 0, time.UTC) // Tuesday evening
	})
	env.resolver.UpsertShift(types.Shift{
		ID:        "shift-1",
		CompanyID: "co-1",
		Schedule:  types.ScheduleFixed,
		Timezone:  "UTC",
		Window: &types.ShiftWindow{
			Weekdays:  []time.Weekday{time.Tuesday},
			StartTime: "09:00",
			EndTime:   "17:00",
		},
	})
	env.resolver.SetMembers("shift-1", []types.ShiftAssignment{
		{ShiftID: "shift-1", UserID: "alice", Status: types.ShiftMemberActive},
	})
	ctx := context.Background()

	req := assignReq("conv-1")
	req.Criteria.ShiftID = "shift-1"
	result, err := env.dispatcher.Assign(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("expected empty pool outside shift hours")
	}

	req = assignReq("conv-2")
	req.Criteria.ShiftID = "shift-1"
	req.Criteria.TimeSlot = &types.TimeSlot{
		Start: time.Date(2026, time.January, 6, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, time.January, 6, 11, 0, 0, 0, time.UTC),
	}
	result, err = env.dispatcher.Assign(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AssignedUserID != "alice" {
		t.Errorf("expected alice on shift at the slot start, got %q", result.AssignedUserID)
	}
}

func TestConfigRetryDelayOverridesBackoffBase(t *testing.T) {
	env := newTestEnv("alice")

	if !env.dispatcher.locks.TryAcquire(types.ResourceConversation, "conv-1") {
		t.Fatal("failed to pre-acquire lock")
	}
	defer env.dispatcher.locks.Release(types.ResourceConversation, "conv-1")

	cfg := baseConfig()
	cfg.MaxRetries = 3
	cfg.RetryDelaySeconds = 1

	// with a one second backoff base the retries cannot finish inside the
	// deadline; the millisecond test override would have burned through all
	// three attempts and reported the lock conflict instead
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := env.dispatcher.AssignWithConfig(ctx, assignReq("conv-1"), cfg)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while honoring config delay, got %v", err)
	}
}

func TestBulkPreservesOrderAndIsolation(t *testing.T) {
	env := newTestEnv("alice", "bob")
	ctx := context.Background()

	bad := assignReq("conv-2")
	bad.Strategy = types.StrategyManual
	bad.SpecificUserID = "nobody"

	result := env.dispatcher.AssignBulk(ctx, types.BulkAssignmentRequest{
		AppID:     "app-1",
		CompanyID: "co-1",
		Items:     []types.CreateAssignmentRequest{assignReq("conv-1"), bad, assignReq("conv-3")},
	})

	if result.Total != 3 || result.Succeeded != 2 || result.Failed != 1 {
		t.Fatalf("expected 3/2/1, got %d/%d/%d", result.Total, result.Succeeded, result.Failed)
	}
	if len(result.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result.Results))
	}
	if !result.Results[0].Success || result.Results[1].Success || !result.Results[2].Success {
		t.Error("expected failure isolated to the second item")
	}
}

func TestStrategyOverrideOnRequest(t *testing.T) {
	env := newTestEnv("alice", "bob")
	ctx := context.Background()

	env.tracker.Increment("alice", types.ResourceConversation)

	req := assignReq("conv-1")
	req.Strategy = types.StrategyLeastBusy
	result, err := env.dispatcher.Assign(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AssignedUserID != "bob" {
		t.Errorf("expected least_busy override to pick bob, got %q", result.AssignedUserID)
	}
}
