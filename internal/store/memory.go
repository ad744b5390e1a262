package store

import (
	"context"
	"sync"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// MemoryBackend keeps everything in process memory. It backs tests and
// DYNAMO_MODE=none deployments.
type MemoryBackend struct {
	assignments map[string]types.Assignment
	byResource  map[string]string // resourceType/resourceID -> active assignment id
	lotteries   map[string]types.LotteryResult
	cursors     map[string]int
	mu          sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		assignments: make(map[string]types.Assignment),
		byResource:  make(map[string]string),
		lotteries:   make(map[string]types.LotteryResult),
		cursors:     make(map[string]int),
	}
}

func resourceKey(rt types.ResourceType, resourceID string) string {
	return string(rt) + "/" + resourceID
}

func (m *MemoryBackend) PutAssignment(_ context.Context, a types.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.assignments[a.ID] = a

	key := resourceKey(a.ResourceType, a.ResourceID)
	if a.Status.IsActive() {
		m.byResource[key] = a.ID
	} else if m.byResource[key] == a.ID {
		delete(m.byResource, key)
	}
	return nil
}

func (m *MemoryBackend) GetAssignment(_ context.Context, id string) (*types.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assignments[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *MemoryBackend) ActiveAssignment(_ context.Context, rt types.ResourceType, resourceID string) (*types.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byResource[resourceKey(rt, resourceID)]
	if !ok {
		return nil, nil
	}
	a := m.assignments[id]
	return &a, nil
}

func (m *MemoryBackend) AssignmentsByDate(_ context.Context, dateKey string) ([]types.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Assignment
	for _, a := range m.assignments {
		if a.DateKey == dateKey {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryBackend) PutLotteryResult(_ context.Context, r types.LotteryResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lotteries[r.ID] = r
	return nil
}

func (m *MemoryBackend) Cursor(_ context.Context, scope string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.cursors[scope]
	return pos, ok, nil
}

func (m *MemoryBackend) PutCursor(_ context.Context, scope string, pos int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[scope] = pos
	return nil
}

// LotteryResultCount reports stored draws, used by tests
func (m *MemoryBackend) LotteryResultCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lotteries)
}
