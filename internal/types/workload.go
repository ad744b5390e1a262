package types

import "time"

// UserWorkload is the live aggregate for one user. It is a cache
// reconstructible from the assignment store, not a source of truth.
type UserWorkload struct {
	UserID                string     `json:"userId"`
	CurrentAssignments    int        `json:"currentAssignments"`
	DailyAssignments      int        `json:"dailyAssignments"`
	WeeklyAssignments     int        `json:"weeklyAssignments"`
	Rejections            int        `json:"rejections"`
	AverageCompletionTime float64    `json:"averageCompletionTime"` // seconds
	LastAssignmentAt      *time.Time `json:"lastAssignmentAt,omitempty"`
}
