package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// capturingPublisher records published events for assertions
type capturingPublisher struct {
	events []types.AssignmentEvent
	mu     sync.Mutex
}

func (p *capturingPublisher) Publish(e types.AssignmentEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturingPublisher) byType(t types.AssignmentEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newAssignment(resourceID, userID string) types.Assignment {
	return types.Assignment{
		AppID:        "app-1",
		CompanyID:    "co-1",
		ResourceType: types.ResourceTicket,
		ResourceID:   resourceID,
		AssignedTo:   userID,
		Type:         types.TypeAutomatic,
		Strategy:     types.StrategyRoundRobin,
		Priority:     types.PriorityMedium,
		Status:       types.StatusAssigned,
	}
}

func TestCreateAssignsIDAndDateKey(t *testing.T) {
	s := NewAssignments(NewMemoryBackend(), nil, zerolog.Nop())

	created, superseded, err := s.Create(context.Background(), newAssignment("res-1", "user-a"))
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Error("expected generated id")
	}
	if created.DateKey == "" {
		t.Error("expected date key")
	}
	if superseded != nil {
		t.Error("expected no superseded assignment on first create")
	}
}

func TestAtMostOneActivePerResource(t *testing.T) {
	s := NewAssignments(NewMemoryBackend(), nil, zerolog.Nop())
	ctx := context.Background()

	first, _, err := s.Create(ctx, newAssignment("res-1", "user-a"))
	if err != nil {
		t.Fatal(err)
	}

	second, superseded, err := s.Create(ctx, newAssignment("res-1", "user-b"))
	if err != nil {
		t.Fatal(err)
	}
	if superseded == nil || superseded.ID != first.ID {
		t.Fatal("expected first assignment to be superseded")
	}
	if superseded.Status != types.StatusCancelled {
		t.Errorf("expected superseded assignment cancelled, got %s", superseded.Status)
	}

	active, err := s.Active(ctx, types.ResourceTicket, "res-1")
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != second.ID {
		t.Errorf("expected second assignment active, got %+v", active)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	s := NewAssignments(NewMemoryBackend(), nil, zerolog.Nop())
	ctx := context.Background()

	created, _, _ := s.Create(ctx, newAssignment("res-1", "user-a"))

	a, err := s.Transition(ctx, created.ID, types.StatusAccepted)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != types.StatusAccepted {
		t.Errorf("expected accepted, got %s", a.Status)
	}

	a, err = s.Transition(ctx, created.ID, types.StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if a.CompletedAt == nil {
		t.Error("expected completedAt on terminal transition")
	}

	// Resource no longer held
	active, _ := s.Active(ctx, types.ResourceTicket, "res-1")
	if active != nil {
		t.Errorf("expected no active assignment after completion, got %+v", active)
	}
}

func TestFirstTerminalTransitionWins(t *testing.T) {
	s := NewAssignments(NewMemoryBackend(), nil, zerolog.Nop())
	ctx := context.Background()

	created, _, _ := s.Create(ctx, newAssignment("res-1", "user-a"))

	if _, err := s.Transition(ctx, created.ID, types.StatusCompleted); err != nil {
		t.Fatal(err)
	}
	// A late timeout/rejection must be a no-op failure
	if _, err := s.Transition(ctx, created.ID, types.StatusRejected); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition after terminal state, got %v", err)
	}
}

func TestRequeueClearsAssignee(t *testing.T) {
	s := NewAssignments(NewMemoryBackend(), nil, zerolog.Nop())
	ctx := context.Background()

	created, _, _ := s.Create(ctx, newAssignment("res-1", "user-a"))
	a, err := s.Transition(ctx, created.ID, types.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if a.AssignedTo != "" {
		t.Errorf("expected assignee cleared on requeue, got %s", a.AssignedTo)
	}
	if !a.Status.IsActive() {
		t.Error("requeued assignment should still hold the resource")
	}
}

func TestUnknownAssignment(t *testing.T) {
	s := NewAssignments(NewMemoryBackend(), nil, zerolog.Nop())
	if _, err := s.Transition(context.Background(), "missing", types.StatusCompleted); !errors.Is(err, types.ErrAssignmentNotFound) {
		t.Errorf("expected ErrAssignmentNotFound, got %v", err)
	}
}

func TestEventsPublished(t *testing.T) {
	pub := &capturingPublisher{}
	s := NewAssignments(NewMemoryBackend(), pub, zerolog.Nop())
	ctx := context.Background()

	created, _, _ := s.Create(ctx, newAssignment("res-1", "user-a"))
	s.Transition(ctx, created.ID, types.StatusAccepted)
	s.Transition(ctx, created.ID, types.StatusCompleted)

	if got := pub.byType(types.EventAssignmentCreated); got != 1 {
		t.Errorf("expected 1 created event, got %d", got)
	}
	if got := pub.byType(types.EventAssignmentUpdated); got != 1 {
		t.Errorf("expected 1 updated event, got %d", got)
	}
	if got := pub.byType(types.EventAssignmentCompleted); got != 1 {
		t.Errorf("expected 1 completed event, got %d", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := NewAssignments(NewMemoryBackend(), nil, zerolog.Nop())
	ctx := context.Background()

	pos, err := s.Cursor(ctx, "channel:c1")
	if err != nil || pos != 0 {
		t.Fatalf("expected fresh cursor at 0, got %d err %v", pos, err)
	}

	if err := s.SaveCursor(ctx, "channel:c1", 5); err != nil {
		t.Fatal(err)
	}
	pos, _ = s.Cursor(ctx, "channel:c1")
	if pos != 5 {
		t.Errorf("expected cursor 5, got %d", pos)
	}
}
