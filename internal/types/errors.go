package types

import "errors"

// Sentinel errors, checked with errors.Is. Expected "no one available"
// conditions surface to callers as AssignmentResult values, not as these.
var (
	// ErrConfigDisabled is returned when the assignment config has enabled=false.
	ErrConfigDisabled = errors.New("assignment config disabled")

	// ErrUnknownStrategy is returned for a strategy name with no implementation.
	ErrUnknownStrategy = errors.New("unknown assignment strategy")

	// ErrNoEligibleCandidates is returned when the pool is empty after filters.
	ErrNoEligibleCandidates = errors.New("no eligible candidates")

	// ErrWorkloadLimitExceeded marks a candidate excluded by a workload limit.
	ErrWorkloadLimitExceeded = errors.New("workload limit exceeded")

	// ErrResourceLocked is returned when a resource is already being dispatched.
	ErrResourceLocked = errors.New("resource dispatch already in progress")

	// ErrEscalationExhausted is returned once maxEscalations is reached.
	ErrEscalationExhausted = errors.New("escalation limit reached")

	// ErrAssignmentNotFound is returned for lookups of unknown assignments.
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrInvalidTransition is returned for disallowed status transitions.
	ErrInvalidTransition = errors.New("invalid assignment status transition")

	// ErrUserNotFound is returned when a manual target user does not exist.
	ErrUserNotFound = errors.New("user not found")
)
