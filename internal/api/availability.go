package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/metrics"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/presence"
	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// AvailabilityHandler ingests presence reports from the platform's user
// service on /internal/availability. Reports feed the in-memory tracker and,
// when configured, are mirrored into Redis for other engine instances.
type AvailabilityHandler struct {
	tracker *presence.Tracker
	mirror  *presence.RedisSource // nil when Redis is not configured
	logger  zerolog.Logger
}

// NewAvailabilityHandler creates a new AvailabilityHandler
func NewAvailabilityHandler(tracker *presence.Tracker, mirror *presence.RedisSource, logger zerolog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		tracker: tracker,
		mirror:  mirror,
		logger:  logger.With().Str("component", "availability_handler").Logger(),
	}
}

// Ingest handles POST /internal/availability
func (h *AvailabilityHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var event types.AvailabilityEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if event.UserID == "" || event.Status == "" {
		http.Error(w, "userId and status are required", http.StatusBadRequest)
		return
	}

	switch event.Status {
	case types.AvailabilityAvailable, types.AvailabilityBusy, types.AvailabilityAway, types.AvailabilityOffline:
	default:
		http.Error(w, "unknown availability status", http.StatusBadRequest)
		return
	}

	h.tracker.Update(event)
	metrics.Get().RecordAvailabilityEvent()

	if h.mirror != nil {
		ts := event.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		ua := types.UserAvailability{
			UserID:        event.UserID,
			CurrentStatus: event.Status,
			Geographic:    event.Geographic,
			UpdatedAt:     ts,
		}
		if err := h.mirror.Publish(r.Context(), ua); err != nil {
			// The in-memory tracker already has the report; a mirror miss
			// only affects other instances until the next report.
			h.logger.Warn().Err(err).Str("user_id", event.UserID).Msg("failed to mirror presence to redis")
		}
	}

	h.logger.Debug().
		Str("user_id", event.UserID).
		Str("status", string(event.Status)).
		Msg("availability updated")

	w.WriteHeader(http.StatusNoContent)
}
