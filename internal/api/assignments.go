package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/dispatch"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/store"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/workload"
)

// AssignmentsHandler provides REST endpoints for creating and reading
// assignments
type AssignmentsHandler struct {
	dispatcher  *dispatch.Dispatcher
	assignments *store.Assignments
	tracker     *workload.Tracker
	logger      zerolog.Logger
}

// NewAssignmentsHandler creates a new AssignmentsHandler
func NewAssignmentsHandler(dispatcher *dispatch.Dispatcher, assignments *store.Assignments, tracker *workload.Tracker, logger zerolog.Logger) *AssignmentsHandler {
	return &AssignmentsHandler{
		dispatcher:  dispatcher,
		assignments: assignments,
		tracker:     tracker,
		logger:      logger.With().Str("component", "assignments_handler").Logger(),
	}
}

// Create handles POST /api/assignments
func (h *AssignmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CompanyID == "" || req.ResourceID == "" || req.ResourceType == "" {
		http.Error(w, "companyId, resourceType and resourceId are required", http.StatusBadRequest)
		return
	}

	result, err := h.dispatcher.Assign(r.Context(), req)
	if err != nil {
		h.writeDispatchError(w, req, result, err)
		return
	}

	status := http.StatusCreated
	if !result.Success {
		// Expected empty-pool outcome: the request was valid, nobody was
		// eligible. Escalation may already be running.
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// Bulk handles POST /api/assignments/bulk
func (h *AssignmentsHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req types.BulkAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		http.Error(w, "items are required", http.StatusBadRequest)
		return
	}

	result := h.dispatcher.AssignBulk(r.Context(), req)
	writeJSON(w, http.StatusOK, result)
}

// Get handles GET /api/assignments/{id}
func (h *AssignmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	a, err := h.assignments.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrAssignmentNotFound) {
			http.Error(w, "assignment not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("assignment_id", id).Msg("failed to get assignment")
		http.Error(w, "failed to retrieve assignment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// History handles GET /api/assignments?date=YYYY-MM-DD
func (h *AssignmentsHandler) History(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date query parameter is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	records, err := h.assignments.ByDate(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to get assignment history")
		http.Error(w, "failed to retrieve history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []types.Assignment{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Workload handles GET /api/workload/{userId}
func (h *AssignmentsHandler) Workload(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.Snapshot(userID))
}

func (h *AssignmentsHandler) writeDispatchError(w http.ResponseWriter, req types.CreateAssignmentRequest, result types.AssignmentResult, err error) {
	h.logger.Warn().Err(err).
		Str("resource_type", string(req.ResourceType)).
		Str("resource_id", req.ResourceID).
		Msg("dispatch rejected")

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrConfigDisabled):
		status = http.StatusConflict
	case errors.Is(err, types.ErrResourceLocked):
		status = http.StatusConflict
	case errors.Is(err, types.ErrUserNotFound):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrWorkloadLimitExceeded):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrUnknownStrategy):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
