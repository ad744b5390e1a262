package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// Backend is the durable side of the assignment store. Implementations:
// DynamoDB for production, memory for tests and DYNAMO_MODE=none.
type Backend interface {
	PutAssignment(ctx context.Context, a types.Assignment) error
	GetAssignment(ctx context.Context, id string) (*types.Assignment, error)
	ActiveAssignment(ctx context.Context, rt types.ResourceType, resourceID string) (*types.Assignment, error)
	AssignmentsByDate(ctx context.Context, dateKey string) ([]types.Assignment, error)
	PutLotteryResult(ctx context.Context, r types.LotteryResult) error
	Cursor(ctx context.Context, scope string) (int, bool, error)
	PutCursor(ctx context.Context, scope string, pos int) error
}

// Publisher receives every assignment state transition for real-time
// propagation. The WebSocket hub implements it.
type Publisher interface {
	Publish(event types.AssignmentEvent)
}

// Assignments is the state machine over Assignment entities and the only
// component allowed to mutate assignment status. It guarantees at most one
// active assignment per (resourceType, resourceId): creating a new one
// first cancels the prior active one.
type Assignments struct {
	backend   Backend
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
	mu        sync.Mutex
}

// NewAssignments creates the assignment state machine. publisher may be nil.
func NewAssignments(backend Backend, publisher Publisher, logger zerolog.Logger) *Assignments {
	return &Assignments{
		backend:   backend,
		publisher: publisher,
		logger:    logger.With().Str("component", "store").Logger(),
		now:       time.Now,
	}
}

// SetClock overrides the time source, used by tests
func (s *Assignments) SetClock(now func() time.Time) { s.now = now }

// validTransitions maps each status to the statuses reachable from it.
// Terminal statuses map to nothing, so the first terminal transition wins
// and later attempts fail with ErrInvalidTransition.
var validTransitions = map[types.AssignmentStatus][]types.AssignmentStatus{
	types.StatusPending:  {types.StatusAssigned, types.StatusCancelled},
	types.StatusAssigned: {types.StatusAccepted, types.StatusRejected, types.StatusCompleted, types.StatusCancelled, types.StatusPending},
	types.StatusAccepted: {types.StatusCompleted, types.StatusCancelled},
}

func canTransition(from, to types.AssignmentStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Create persists a new assignment, superseding any prior active one for
// the same resource. Returns the created assignment and the superseded one,
// if any.
func (s *Assignments) Create(ctx context.Context, a types.Assignment) (*types.Assignment, *types.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = types.StatusPending
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = now
	}
	a.DateKey = a.AssignedAt.Format("2006-01-02")

	prior, err := s.backend.ActiveAssignment(ctx, a.ResourceType, a.ResourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to look up active assignment: %w", err)
	}
	if prior != nil {
		prior.Status = types.StatusCancelled
		completed := now
		prior.CompletedAt = &completed
		if err := s.backend.PutAssignment(ctx, *prior); err != nil {
			return nil, nil, fmt.Errorf("failed to supersede assignment %s: %w", prior.ID, err)
		}
		s.publish(types.EventAssignmentUpdated, *prior)
		s.logger.Debug().
			Str("assignment_id", prior.ID).
			Str("resource_id", a.ResourceID).
			Msg("prior active assignment superseded")
	}

	if err := s.backend.PutAssignment(ctx, a); err != nil {
		return nil, nil, fmt.Errorf("failed to save assignment: %w", err)
	}
	s.publish(types.EventAssignmentCreated, a)

	return &a, prior, nil
}

// Get returns one assignment by id
func (s *Assignments) Get(ctx context.Context, id string) (*types.Assignment, error) {
	a, err := s.backend.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, types.ErrAssignmentNotFound
	}
	return a, nil
}

// Active returns the active assignment for a resource, or nil
func (s *Assignments) Active(ctx context.Context, rt types.ResourceType, resourceID string) (*types.Assignment, error) {
	return s.backend.ActiveAssignment(ctx, rt, resourceID)
}

// ByDate returns all assignments created on a YYYY-MM-DD date key
func (s *Assignments) ByDate(ctx context.Context, dateKey string) ([]types.Assignment, error) {
	return s.backend.AssignmentsByDate(ctx, dateKey)
}

// Transition moves an assignment to a new status. Invalid moves, including
// any transition out of a terminal status, fail with ErrInvalidTransition.
func (s *Assignments) Transition(ctx context.Context, id string, to types.AssignmentStatus) (*types.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.backend.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, types.ErrAssignmentNotFound
	}
	if !canTransition(a.Status, to) {
		return nil, fmt.Errorf("%s -> %s: %w", a.Status, to, types.ErrInvalidTransition)
	}

	a.Status = to
	if to == types.StatusPending {
		// Requeued by escalation: back in line with no assignee
		a.AssignedTo = ""
	}
	if a.Status.IsTerminal() {
		completed := s.now()
		a.CompletedAt = &completed
	}

	if err := s.backend.PutAssignment(ctx, *a); err != nil {
		return nil, fmt.Errorf("failed to save assignment transition: %w", err)
	}

	eventType := types.EventAssignmentUpdated
	if to == types.StatusCompleted {
		eventType = types.EventAssignmentCompleted
	}
	s.publish(eventType, *a)

	s.logger.Debug().
		Str("assignment_id", a.ID).
		Str("status", string(to)).
		Msg("assignment transitioned")

	return a, nil
}

// SaveLotteryResult stores the frozen audit record of one draw
func (s *Assignments) SaveLotteryResult(ctx context.Context, r types.LotteryResult) error {
	return s.backend.PutLotteryResult(ctx, r)
}

// Cursor returns the round-robin cursor for a scope; missing scopes start
// at zero.
func (s *Assignments) Cursor(ctx context.Context, scope string) (int, error) {
	pos, ok, err := s.backend.Cursor(ctx, scope)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return pos, nil
}

// SaveCursor writes through the round-robin cursor for a scope
func (s *Assignments) SaveCursor(ctx context.Context, scope string, pos int) error {
	return s.backend.PutCursor(ctx, scope, pos)
}

func (s *Assignments) publish(t types.AssignmentEventType, a types.Assignment) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(types.AssignmentEvent{Type: t, Assignment: a, Timestamp: s.now()})
}
