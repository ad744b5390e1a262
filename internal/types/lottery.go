package types

import "time"

// LotteryAlgorithm names the weighting scheme for a draw
type LotteryAlgorithm string

const (
	LotteryPureRandom           LotteryAlgorithm = "pure_random"
	LotteryWeightedRandom       LotteryAlgorithm = "weighted_random"
	LotteryLeastRecent          LotteryAlgorithm = "least_recent"
	LotteryPriorityWeighted     LotteryAlgorithm = "priority_weighted"
	LotterySkillWeighted        LotteryAlgorithm = "skill_weighted"
	LotteryAvailabilityWeighted LotteryAlgorithm = "availability_weighted"
)

// LotteryWeights are the coefficients of the weighted-sum scoring.
// Unset coefficients contribute nothing.
type LotteryWeights struct {
	Priority       float64 `json:"priority,omitempty"`
	Skill          float64 `json:"skill,omitempty"`
	Availability   float64 `json:"availability,omitempty"`
	LastAssignment float64 `json:"lastAssignment,omitempty"`
	Performance    float64 `json:"performance,omitempty"`
}

// LotteryExclusions drop candidates before weighting
type LotteryExclusions struct {
	RecentlyAssignedMinutes int  `json:"recentlyAssignedMinutes,omitempty"` // cooldown window
	MaxConcurrent           int  `json:"maxConcurrent,omitempty"`
	UnavailableStatus       bool `json:"unavailableStatus,omitempty"`
	OutsideShift            bool `json:"outsideShift,omitempty"`
	MaxRejections           int  `json:"maxRejections,omitempty"`
}

// LotteryConfig is pure configuration for the lottery engine
type LotteryConfig struct {
	Algorithm       LotteryAlgorithm  `json:"algorithm"`
	Weights         LotteryWeights    `json:"weights"`
	Exclusions      LotteryExclusions `json:"exclusions"`
	MaxParticipants int               `json:"maxParticipants,omitempty"`
}

// LotteryParticipant is one candidate's entry in a draw's audit record
type LotteryParticipant struct {
	UserID          string  `json:"userId"`
	Weight          float64 `json:"weight"`
	Score           float64 `json:"score"` // normalized weight
	Selected        bool    `json:"selected"`
	ExclusionReason string  `json:"exclusionReason,omitempty"`
}

// LotteryResult is the immutable audit record of one draw
type LotteryResult struct {
	ID           string               `json:"id"`
	AppID        string               `json:"appId,omitempty"`
	CompanyID    string               `json:"companyId,omitempty"`
	Algorithm    LotteryAlgorithm     `json:"algorithm"`
	Participants []LotteryParticipant `json:"participants"`
	WinnerID     string               `json:"winnerId,omitempty"`
	DrawnAt      time.Time            `json:"drawnAt"`
	DateKey      string               `json:"dateKey"`
}
