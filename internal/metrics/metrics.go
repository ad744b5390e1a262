package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Dispatch metrics
	AssignmentsTotal        int64
	AssignmentFailuresTotal int64
	FallbacksUsedTotal      int64
	assignmentsByStrategy   map[types.AssignmentStrategy]int64
	assignmentsByStatus     map[types.AssignmentStatus]int64
	lastDispatchDuration    time.Duration

	// Lottery metrics
	LotteryDrawsTotal      int64
	LotteryExclusionsTotal int64

	// Escalation metrics
	EscalationsTotal          int64
	EscalationsExhaustedTotal int64

	// Presence metrics
	AvailabilityEventsTotal int64

	// WebSocket metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	activeConnections            int64

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			assignmentsByStrategy: make(map[types.AssignmentStrategy]int64),
			assignmentsByStatus:   make(map[types.AssignmentStatus]int64),
			startTime:             time.Now(),
		}
	})
	return instance
}

// RecordAssignment records one successful dispatch
func (m *Metrics) RecordAssignment(strategy types.AssignmentStrategy, duration time.Duration) {
	m.mu.Lock()
	m.AssignmentsTotal++
	m.assignmentsByStrategy[strategy]++
	m.lastDispatchDuration = duration
	m.mu.Unlock()
}

// RecordAssignmentFailure records a dispatch that produced no assignment
func (m *Metrics) RecordAssignmentFailure() {
	m.mu.Lock()
	m.AssignmentFailuresTotal++
	m.mu.Unlock()
}

// RecordFallbackUsed records a dispatch resolved by the fallback strategy
func (m *Metrics) RecordFallbackUsed() {
	m.mu.Lock()
	m.FallbacksUsedTotal++
	m.mu.Unlock()
}

// RecordStatusTransition tracks assignment status distribution
func (m *Metrics) RecordStatusTransition(status types.AssignmentStatus) {
	m.mu.Lock()
	m.assignmentsByStatus[status]++
	m.mu.Unlock()
}

// RecordLotteryDraw records one lottery draw and its exclusion count
func (m *Metrics) RecordLotteryDraw(excluded int) {
	m.mu.Lock()
	m.LotteryDrawsTotal++
	m.LotteryExclusionsTotal += int64(excluded)
	m.mu.Unlock()
}

// RecordEscalation records one escalation trigger
func (m *Metrics) RecordEscalation(exhausted bool) {
	m.mu.Lock()
	m.EscalationsTotal++
	if exhausted {
		m.EscalationsExhaustedTotal++
	}
	m.mu.Unlock()
}

// RecordAvailabilityEvent counts ingested presence reports
func (m *Metrics) RecordAvailabilityEvent() {
	m.mu.Lock()
	m.AvailabilityEventsTotal++
	m.mu.Unlock()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConnections
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		// System metrics
		write("troia_uptime_seconds", time.Since(m.startTime).Seconds())

		// Dispatch metrics
		write("troia_assignments_total", m.AssignmentsTotal)
		write("troia_assignment_failures_total", m.AssignmentFailuresTotal)
		write("troia_fallbacks_used_total", m.FallbacksUsedTotal)
		write("troia_last_dispatch_duration_seconds", m.lastDispatchDuration.Seconds())
		for strategy, count := range m.assignmentsByStrategy {
			write("troia_assignments_by_strategy", count, "strategy", string(strategy))
		}
		for status, count := range m.assignmentsByStatus {
			write("troia_assignment_transitions", count, "status", string(status))
		}

		// Lottery metrics
		write("troia_lottery_draws_total", m.LotteryDrawsTotal)
		write("troia_lottery_exclusions_total", m.LotteryExclusionsTotal)

		// Escalation metrics
		write("troia_escalations_total", m.EscalationsTotal)
		write("troia_escalations_exhausted_total", m.EscalationsExhaustedTotal)

		// Presence metrics
		write("troia_availability_events_total", m.AvailabilityEventsTotal)

		// WebSocket metrics
		write("troia_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("troia_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("troia_websocket_active_connections", m.activeConnections)
	}
}
