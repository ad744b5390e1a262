package dispatch

import (
	"sync"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// resourceLocks serializes dispatches per (resourceType, resourceId).
// Locking is scoped to one resource, never table-wide, so unrelated
// dispatches proceed in parallel.
type resourceLocks struct {
	held map[string]bool
	mu   sync.Mutex
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{held: make(map[string]bool)}
}

func lockKey(rt types.ResourceType, resourceID string) string {
	return string(rt) + "/" + resourceID
}

// TryAcquire takes the advisory lock for one resource; false means another
// dispatch already holds it.
func (l *resourceLocks) TryAcquire(rt types.ResourceType, resourceID string) bool {
	key := lockKey(rt, resourceID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

// Release frees the advisory lock for one resource
func (l *resourceLocks) Release(rt types.ResourceType, resourceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, lockKey(rt, resourceID))
}

// scopeLocks serializes round-robin cursor updates per strategy scope
type scopeLocks struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *scopeLocks) For(scope string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[scope]
	if !ok {
		m = &sync.Mutex{}
		l.locks[scope] = m
	}
	return m
}
