package lottery

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// Exclusion reasons recorded on dropped participants
const (
	ReasonCooldown      = "recently_assigned"
	ReasonMaxConcurrent = "max_concurrent"
	ReasonUnavailable   = "unavailable_status"
	ReasonOutsideShift  = "outside_shift"
	ReasonMaxRejections = "max_rejections"
	ReasonSampledOut    = "sampled_out"
)

// Candidate carries everything the weighting terms need about one user.
// The dispatcher assembles these from the workload tracker, skill filter
// and presence source.
type Candidate struct {
	UserID             string
	PriorityScore      float64 // 0-1, caller- or skill-declared
	SkillScore         float64 // 0-1
	Performance        float64 // 0-1
	Availability       types.AvailabilityStatus
	OnShift            bool
	CurrentAssignments int
	Rejections         int
	LastAssignmentAt   *time.Time
}

// Engine performs weighted random selection among a candidate set. The
// random source is injected so identical (candidates, cfg, seed) inputs
// reproduce in tests.
type Engine struct {
	rng    *rand.Rand
	now    func() time.Time
	logger zerolog.Logger
}

// NewEngine creates a lottery engine over the given random source
func NewEngine(src rand.Source, logger zerolog.Logger) *Engine {
	return &Engine{
		rng:    rand.New(src),
		now:    time.Now,
		logger: logger.With().Str("component", "lottery").Logger(),
	}
}

// SetClock overrides the time source, used by tests
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Draw runs one lottery. The returned result is a frozen audit record:
// every input candidate appears as a participant, dropped ones with their
// exclusion reason, and exactly one survivor with Selected=true unless the
// surviving set was empty (WinnerID stays empty).
func (e *Engine) Draw(candidates []Candidate, cfg types.LotteryConfig) types.LotteryResult {
	now := e.now()
	result := types.LotteryResult{
		ID:        uuid.New().String(),
		Algorithm: cfg.Algorithm,
		DrawnAt:   now,
		DateKey:   now.Format("2006-01-02"),
	}

	var survivors []Candidate
	for _, c := range candidates {
		if reason := e.exclusionReason(c, cfg.Exclusions, now); reason != "" {
			result.Participants = append(result.Participants, types.LotteryParticipant{
				UserID:          c.UserID,
				ExclusionReason: reason,
			})
			continue
		}
		survivors = append(survivors, c)
	}

	// Bound weighting cost before scoring
	if cfg.MaxParticipants > 0 && len(survivors) > cfg.MaxParticipants {
		survivors = e.sampleDown(survivors, cfg.MaxParticipants, &result)
	}

	if len(survivors) == 0 {
		e.logger.Debug().Int("candidates", len(candidates)).Msg("lottery draw with no eligible users")
		return result
	}

	weights := e.computeWeights(survivors, cfg)
	total := 0.0
	for _, w := range weights {
		total += w
	}
	// Degenerate all-zero weighting falls back to a uniform draw
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}

	draw := e.rng.Float64() * total
	winner := len(survivors) - 1
	cum := 0.0
	for i, w := range weights {
		cum += w
		if draw < cum {
			winner = i
			break
		}
	}

	for i, c := range survivors {
		result.Participants = append(result.Participants, types.LotteryParticipant{
			UserID:   c.UserID,
			Weight:   weights[i],
			Score:    weights[i] / total,
			Selected: i == winner,
		})
	}
	result.WinnerID = survivors[winner].UserID

	e.logger.Debug().
		Str("algorithm", string(cfg.Algorithm)).
		Int("survivors", len(survivors)).
		Str("winner", result.WinnerID).
		Msg("lottery draw completed")

	return result
}

func (e *Engine) exclusionReason(c Candidate, ex types.LotteryExclusions, now time.Time) string {
	if ex.RecentlyAssignedMinutes > 0 && c.LastAssignmentAt != nil {
		cooldown := time.Duration(ex.RecentlyAssignedMinutes) * time.Minute
		if now.Sub(*c.LastAssignmentAt) < cooldown {
			return ReasonCooldown
		}
	}
	if ex.MaxConcurrent > 0 && c.CurrentAssignments >= ex.MaxConcurrent {
		return ReasonMaxConcurrent
	}
	if ex.UnavailableStatus &&
		(c.Availability == types.AvailabilityAway || c.Availability == types.AvailabilityOffline) {
		return ReasonUnavailable
	}
	if ex.OutsideShift && !c.OnShift {
		return ReasonOutsideShift
	}
	if ex.MaxRejections > 0 && c.Rejections >= ex.MaxRejections {
		return ReasonMaxRejections
	}
	return ""
}

// sampleDown uniformly pre-samples without replacement to max entries,
// recording the dropped candidates on the result.
func (e *Engine) sampleDown(survivors []Candidate, max int, result *types.LotteryResult) []Candidate {
	idx := e.rng.Perm(len(survivors))
	keep := make(map[int]bool, max)
	for _, i := range idx[:max] {
		keep[i] = true
	}

	kept := make([]Candidate, 0, max)
	for i, c := range survivors {
		if keep[i] {
			kept = append(kept, c)
			continue
		}
		result.Participants = append(result.Participants, types.LotteryParticipant{
			UserID:          c.UserID,
			ExclusionReason: ReasonSampledOut,
		})
	}
	return kept
}

// computeWeights applies the configured algorithm. The named single-term
// algorithms reuse the weighted-sum path with only their coefficient active.
func (e *Engine) computeWeights(survivors []Candidate, cfg types.LotteryConfig) []float64 {
	switch cfg.Algorithm {
	case types.LotteryPureRandom, "":
		weights := make([]float64, len(survivors))
		for i := range weights {
			weights[i] = 1
		}
		return weights
	case types.LotteryLeastRecent:
		return e.recencyWeights(survivors)
	case types.LotteryPriorityWeighted:
		return e.weightedSum(survivors, types.LotteryWeights{Priority: 1})
	case types.LotterySkillWeighted:
		return e.weightedSum(survivors, types.LotteryWeights{Skill: 1})
	case types.LotteryAvailabilityWeighted:
		return e.weightedSum(survivors, types.LotteryWeights{Availability: 1})
	default: // weighted_random
		return e.weightedSum(survivors, cfg.Weights)
	}
}

// recencyWeights gives older last-assignments higher weight; candidates
// never assigned get the maximum.
func (e *Engine) recencyWeights(survivors []Candidate) []float64 {
	now := e.now()
	ages := make([]float64, len(survivors))
	maxAge := 0.0
	for i, c := range survivors {
		if c.LastAssignmentAt == nil {
			ages[i] = -1 // marker for never assigned
			continue
		}
		ages[i] = now.Sub(*c.LastAssignmentAt).Minutes()
		if ages[i] > maxAge {
			maxAge = ages[i]
		}
	}

	weights := make([]float64, len(survivors))
	for i, age := range ages {
		switch {
		case age < 0:
			weights[i] = 1
		case maxAge == 0:
			weights[i] = 1
		default:
			weights[i] = age / maxAge
		}
	}
	return weights
}

// weightedSum scores each candidate as the sum of its normalized terms
// multiplied by the configured coefficients.
func (e *Engine) weightedSum(survivors []Candidate, w types.LotteryWeights) []float64 {
	recency := e.recencyWeights(survivors)

	weights := make([]float64, len(survivors))
	for i, c := range survivors {
		score := 0.0
		score += w.Priority * clamp01(c.PriorityScore)
		score += w.Skill * clamp01(c.SkillScore)
		score += w.Availability * availabilityTerm(c.Availability)
		score += w.LastAssignment * recency[i]
		score += w.Performance * clamp01(c.Performance)
		weights[i] = score
	}
	return weights
}

// availabilityTerm maps presence onto [0,1]; busy lowers weight without
// excluding.
func availabilityTerm(s types.AvailabilityStatus) float64 {
	switch s {
	case types.AvailabilityAvailable:
		return 1
	case types.AvailabilityBusy:
		return 0.5
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
