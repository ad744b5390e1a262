package skills

import (
	"sync"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// Filter narrows candidate pools by skill requirements and scores
// candidates for skill-weighted strategies.
type Filter struct {
	byUser map[string]map[string]int // userID -> skillID -> level
	mu     sync.RWMutex
}

// NewFilter creates an empty skill filter
func NewFilter() *Filter {
	return &Filter{byUser: make(map[string]map[string]int)}
}

// SetUserSkills replaces the skill set of one user
func (f *Filter) SetUserSkills(userID string, userSkills []types.UserSkill) {
	f.mu.Lock()
	defer f.mu.Unlock()

	levels := make(map[string]int, len(userSkills))
	for _, s := range userSkills {
		levels[s.SkillID] = s.Level
	}
	f.byUser[userID] = levels
}

// Apply keeps only candidates holding every required skill at or above its
// minimum level. Preferred (non-required) skills never exclude anyone.
func (f *Filter) Apply(pool []string, reqs []types.SkillRequirement) []string {
	if len(reqs) == 0 {
		return pool
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(pool))
	for _, userID := range pool {
		if f.qualifies(userID, reqs) {
			out = append(out, userID)
		}
	}
	return out
}

// Score rates a candidate in [0,1] against the full requirement list:
// the fraction of listed skills the user holds, weighted by level.
func (f *Filter) Score(userID string, reqs []types.SkillRequirement) float64 {
	if len(reqs) == 0 {
		return 0
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	levels := f.byUser[userID]
	var total float64
	for _, req := range reqs {
		level, ok := levels[req.SkillID]
		if !ok {
			continue
		}
		total += float64(level) / 5.0
	}
	score := total / float64(len(reqs))
	if score > 1 {
		score = 1
	}
	return score
}

func (f *Filter) qualifies(userID string, reqs []types.SkillRequirement) bool {
	levels := f.byUser[userID]
	for _, req := range reqs {
		if !req.Required {
			continue
		}
		level, ok := levels[req.SkillID]
		if !ok {
			return false
		}
		if req.MinLevel > 0 && level < req.MinLevel {
			return false
		}
	}
	return true
}
