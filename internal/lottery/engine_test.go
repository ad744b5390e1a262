package lottery

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/trojahn-tecnologia/troia-assignment-engine/internal/types"
)

// fixedSource makes rng.Float64() return a chosen value in [0,1)
type fixedSource struct{ v float64 }

func (s *fixedSource) Int63() int64 { return int64(s.v * float64(1<<63)) }
func (s *fixedSource) Seed(int64)   {}

func available(id string) Candidate {
	return Candidate{UserID: id, Availability: types.AvailabilityAvailable, OnShift: true}
}

func TestPriorityWeightedDrawMatchesCumulativeRanges(t *testing.T) {
	// priorities [0.1, 0.3, 0.6] with draw fixed at 0.45 lands in the
	// third candidate's [0.4, 1.0) range
	e := NewEngine(&fixedSource{v: 0.45}, zerolog.Nop())

	a := available("user-a")
	a.PriorityScore = 0.1
	b := available("user-b")
	b.PriorityScore = 0.3
	c := available("user-c")
	c.PriorityScore = 0.6

	result := e.Draw([]Candidate{a, b, c}, types.LotteryConfig{
		Algorithm: types.LotteryWeightedRandom,
		Weights:   types.LotteryWeights{Priority: 1},
	})

	if result.WinnerID != "user-c" {
		t.Errorf("expected user-c to win at draw 0.45, got %s", result.WinnerID)
	}
}

func TestWeightConservation(t *testing.T) {
	e := NewEngine(rand.NewSource(1), zerolog.Nop())

	a := available("user-a")
	a.PriorityScore = 0.2
	b := available("user-b")
	b.PriorityScore = 0.8

	result := e.Draw([]Candidate{a, b}, types.LotteryConfig{
		Algorithm: types.LotteryPriorityWeighted,
	})

	sum := 0.0
	selected := 0
	for _, p := range result.Participants {
		sum += p.Score
		if p.Selected {
			selected++
		}
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("expected normalized scores to sum to 1, got %f", sum)
	}
	if selected != 1 {
		t.Errorf("expected exactly one selected participant, got %d", selected)
	}
}

func TestCooldownExclusion(t *testing.T) {
	e := NewEngine(rand.NewSource(7), zerolog.Nop())
	now := time.Now()
	e.SetClock(func() time.Time { return now })

	recent := now.Add(-5 * time.Minute)
	a := available("user-a")
	a.LastAssignmentAt = &recent
	b := available("user-b")

	cfg := types.LotteryConfig{
		Algorithm:  types.LotteryPureRandom,
		Exclusions: types.LotteryExclusions{RecentlyAssignedMinutes: 15},
	}

	for i := 0; i < 50; i++ {
		result := e.Draw([]Candidate{a, b}, cfg)
		for _, p := range result.Participants {
			if p.UserID == "user-a" {
				if p.Selected {
					t.Fatal("cooled-down candidate must never be selected")
				}
				if p.ExclusionReason != ReasonCooldown {
					t.Fatalf("expected cooldown reason, got %q", p.ExclusionReason)
				}
			}
		}
		if result.WinnerID != "user-b" {
			t.Fatalf("expected user-b to win, got %s", result.WinnerID)
		}
	}
}

func TestExclusionReasons(t *testing.T) {
	e := NewEngine(rand.NewSource(1), zerolog.Nop())

	busy := available("user-busy")
	busy.CurrentAssignments = 3
	away := available("user-away")
	away.Availability = types.AvailabilityAway
	offShift := available("user-off")
	offShift.OnShift = false
	rejector := available("user-rej")
	rejector.Rejections = 5
	survivor := available("user-ok")

	cfg := types.LotteryConfig{
		Algorithm: types.LotteryPureRandom,
		Exclusions: types.LotteryExclusions{
			MaxConcurrent:     3,
			UnavailableStatus: true,
			OutsideShift:      true,
			MaxRejections:     5,
		},
	}

	result := e.Draw([]Candidate{busy, away, offShift, rejector, survivor}, cfg)

	want := map[string]string{
		"user-busy": ReasonMaxConcurrent,
		"user-away": ReasonUnavailable,
		"user-off":  ReasonOutsideShift,
		"user-rej":  ReasonMaxRejections,
	}
	for _, p := range result.Participants {
		if reason, excluded := want[p.UserID]; excluded {
			if p.ExclusionReason != reason {
				t.Errorf("%s: expected reason %q, got %q", p.UserID, reason, p.ExclusionReason)
			}
		}
	}
	if result.WinnerID != "user-ok" {
		t.Errorf("expected the only survivor to win, got %s", result.WinnerID)
	}
}

func TestEmptySurvivorSet(t *testing.T) {
	e := NewEngine(rand.NewSource(1), zerolog.Nop())

	away := available("user-a")
	away.Availability = types.AvailabilityOffline

	result := e.Draw([]Candidate{away}, types.LotteryConfig{
		Algorithm:  types.LotteryPureRandom,
		Exclusions: types.LotteryExclusions{UnavailableStatus: true},
	})

	if result.WinnerID != "" {
		t.Errorf("expected no winner, got %s", result.WinnerID)
	}
	if len(result.Participants) != 1 || result.Participants[0].Selected {
		t.Errorf("expected one unselected audit participant, got %+v", result.Participants)
	}
}

func TestLeastRecentFavorsNeverAssigned(t *testing.T) {
	e := NewEngine(rand.NewSource(1), zerolog.Nop())
	now := time.Now()
	e.SetClock(func() time.Time { return now })

	recent := now.Add(-10 * time.Minute)
	old := now.Add(-120 * time.Minute)

	a := available("user-recent")
	a.LastAssignmentAt = &recent
	b := available("user-old")
	b.LastAssignmentAt = &old
	c := available("user-never")

	result := e.Draw([]Candidate{a, b, c}, types.LotteryConfig{Algorithm: types.LotteryLeastRecent})

	weights := make(map[string]float64)
	for _, p := range result.Participants {
		weights[p.UserID] = p.Weight
	}
	if weights["user-never"] != 1.0 {
		t.Errorf("expected max weight for never-assigned, got %f", weights["user-never"])
	}
	if weights["user-old"] != 1.0 {
		t.Errorf("expected max weight for oldest assignment, got %f", weights["user-old"])
	}
	if weights["user-recent"] >= weights["user-old"] {
		t.Errorf("expected recent assignment to weigh less: recent=%f old=%f",
			weights["user-recent"], weights["user-old"])
	}
}

func TestMaxParticipantsPreSampling(t *testing.T) {
	e := NewEngine(rand.NewSource(42), zerolog.Nop())

	var candidates []Candidate
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		candidates = append(candidates, available(id))
	}

	result := e.Draw(candidates, types.LotteryConfig{
		Algorithm:       types.LotteryPureRandom,
		MaxParticipants: 2,
	})

	sampledOut := 0
	inDraw := 0
	for _, p := range result.Participants {
		if p.ExclusionReason == ReasonSampledOut {
			sampledOut++
		} else {
			inDraw++
		}
	}
	if sampledOut != 3 || inDraw != 2 {
		t.Errorf("expected 2 in draw and 3 sampled out, got %d/%d", inDraw, sampledOut)
	}
	if result.WinnerID == "" {
		t.Error("expected a winner from the sampled set")
	}
}

func TestDeterministicWithSameSeed(t *testing.T) {
	cfg := types.LotteryConfig{Algorithm: types.LotteryPureRandom}
	candidates := []Candidate{available("u1"), available("u2"), available("u3")}

	first := NewEngine(rand.NewSource(99), zerolog.Nop()).Draw(candidates, cfg)
	second := NewEngine(rand.NewSource(99), zerolog.Nop()).Draw(candidates, cfg)

	if first.WinnerID != second.WinnerID {
		t.Errorf("expected identical winners for identical seeds: %s vs %s",
			first.WinnerID, second.WinnerID)
	}
}

func TestAllZeroWeightsFallsBackToUniform(t *testing.T) {
	e := NewEngine(rand.NewSource(3), zerolog.Nop())

	a := available("user-a")
	a.Availability = types.AvailabilityBusy
	b := available("user-b")
	b.Availability = types.AvailabilityBusy

	// priority term only, all priorities zero
	result := e.Draw([]Candidate{a, b}, types.LotteryConfig{
		Algorithm: types.LotteryPriorityWeighted,
	})
	if result.WinnerID == "" {
		t.Error("expected a uniform-fallback winner")
	}
}
