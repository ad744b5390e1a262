package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/dispatch"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/escalation"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/store"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/workload"
)

// LifecycleHandler drives assignment status transitions: accept, reject,
// complete and cancel. All status changes go through the store's state
// machine; this handler adds the workload bookkeeping and escalation hooks
// around them.
type LifecycleHandler struct {
	assignments *store.Assignments
	tracker     *workload.Tracker
	escalation  *escalation.Manager
	configs     *dispatch.ConfigRegistry
	logger      zerolog.Logger
}

// NewLifecycleHandler creates a new LifecycleHandler
func NewLifecycleHandler(assignments *store.Assignments, tracker *workload.Tracker, esc *escalation.Manager, configs *dispatch.ConfigRegistry, logger zerolog.Logger) *LifecycleHandler {
	return &LifecycleHandler{
		assignments: assignments,
		tracker:     tracker,
		escalation:  esc,
		configs:     configs,
		logger:      logger.With().Str("component", "lifecycle_handler").Logger(),
	}
}

// Accept handles POST /api/assignments/{id}/accept
func (h *LifecycleHandler) Accept(w http.ResponseWriter, r *http.Request) {
	a, ok := h.transition(w, r, types.StatusAccepted)
	if !ok {
		return
	}
	h.escalation.CancelTimer(a.ID)
	writeJSON(w, http.StatusOK, a)
}

// Reject handles POST /api/assignments/{id}/reject. The assignee's slot is
// released without counting a completion, the rejection counter feeds future
// lottery exclusions, and any rejection escalation rule runs inline.
func (h *LifecycleHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	prior, err := h.assignments.Get(r.Context(), id)
	if err != nil {
		h.writeTransitionError(w, id, err)
		return
	}
	assignee := prior.AssignedTo

	a, err := h.assignments.Transition(r.Context(), id, types.StatusRejected)
	if err != nil {
		h.writeTransitionError(w, id, err)
		return
	}

	if assignee != "" {
		h.tracker.Decrement(assignee, a.ResourceType, 0)
		h.tracker.RecordRejection(assignee)
	}

	cfg, ok := h.configs.ConfigFor(a.CompanyID, a.ChannelID)
	if !ok {
		writeJSON(w, http.StatusOK, types.AssignmentResult{Success: false, Message: "assignment rejected"})
		return
	}

	result, err := h.escalation.OnRejection(r.Context(), *a, cfg)
	if err != nil && !errors.Is(err, types.ErrEscalationExhausted) {
		h.logger.Error().Err(err).Str("assignment_id", id).Msg("rejection escalation failed")
	}
	writeJSON(w, http.StatusOK, result)
}

// Complete handles POST /api/assignments/{id}/complete
func (h *LifecycleHandler) Complete(w http.ResponseWriter, r *http.Request) {
	a, ok := h.transition(w, r, types.StatusCompleted)
	if !ok {
		return
	}

	h.escalation.CancelTimer(a.ID)
	h.escalation.ClearAttempts(a.ResourceType, a.ResourceID)
	if a.AssignedTo != "" && a.CompletedAt != nil {
		h.tracker.Decrement(a.AssignedTo, a.ResourceType, a.CompletedAt.Sub(a.AssignedAt).Seconds())
	}
	writeJSON(w, http.StatusOK, a)
}

// Cancel handles POST /api/assignments/{id}/cancel
func (h *LifecycleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	prior, err := h.assignments.Get(r.Context(), id)
	if err != nil {
		h.writeTransitionError(w, id, err)
		return
	}
	assignee := prior.AssignedTo

	a, err := h.assignments.Transition(r.Context(), id, types.StatusCancelled)
	if err != nil {
		h.writeTransitionError(w, id, err)
		return
	}

	h.escalation.CancelTimer(a.ID)
	h.escalation.ClearAttempts(a.ResourceType, a.ResourceID)
	if assignee != "" {
		h.tracker.Decrement(assignee, a.ResourceType, 0)
	}
	writeJSON(w, http.StatusOK, a)
}

// transition runs the status change shared by accept and complete
func (h *LifecycleHandler) transition(w http.ResponseWriter, r *http.Request, to types.AssignmentStatus) (*types.Assignment, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return nil, false
	}

	a, err := h.assignments.Transition(r.Context(), id, to)
	if err != nil {
		h.writeTransitionError(w, id, err)
		return nil, false
	}
	return a, true
}

func (h *LifecycleHandler) writeTransitionError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, types.ErrAssignmentNotFound):
		http.Error(w, "assignment not found", http.StatusNotFound)
	case errors.Is(err, types.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error().Err(err).Str("assignment_id", id).Msg("transition failed")
		http.Error(w, "failed to update assignment", http.StatusInternalServerError)
	}
}
