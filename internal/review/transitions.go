// Package review defines the review-status state machine of a match.
//
// Valid status graph:
//
//	new ──► viewed ──► suggested_to_claimant ──► applied
//	 │        │                  │                  │
//	 └────────┴──────────────────┴──────────────────┴──► closed
//
// Forward moves may skip states. Leaving closed, or moving backwards, is
// only possible through an explicit reopen.
package review

import "fmt"

// Status values mirror the strings stored in matched_jobs.status.
type Status string

const (
	StatusNew       Status = "new"
	StatusViewed    Status = "viewed"
	StatusSuggested Status = "suggested_to_claimant"
	StatusApplied   Status = "applied"
	StatusClosed    Status = "closed"
)

// Action distinguishes normal progress from an explicit reopen.
type Action string

const (
	ActionTransition Action = "transition"
	ActionReopen     Action = "reopen"
)

// rank orders the active states. closed has no rank.
var rank = map[Status]int{
	StatusNew:       0,
	StatusViewed:    1,
	StatusSuggested: 2,
	StatusApplied:   3,
}

// InitialStatus is the only status the matching engine ever writes.
const InitialStatus = StatusNew

// ParseStatus converts a stored or requested string to a Status, returning an
// error for unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusNew, StatusViewed, StatusSuggested, StatusApplied, StatusClosed:
		return st, nil
	}
	return "", fmt.Errorf("unknown match status %q", s)
}

// IsActive reports whether s is one of the non-terminal states.
func IsActive(s Status) bool {
	_, ok := rank[s]
	return ok
}

// CheckTransition returns nil when moving from → to is permitted for action,
// and a descriptive error otherwise.
func CheckTransition(from, to Status, action Action) error {
	if _, err := ParseStatus(string(from)); err != nil {
		return err
	}
	if _, err := ParseStatus(string(to)); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("match is already %s", to)
	}

	switch action {
	case ActionTransition:
		if from == StatusClosed {
			return fmt.Errorf("transition %s → %s requires reopen", from, to)
		}
		if to == StatusClosed || rank[to] > rank[from] {
			return nil
		}
		return fmt.Errorf("transition %s → %s is not allowed, use reopen to move back", from, to)

	case ActionReopen:
		if !IsActive(to) {
			return fmt.Errorf("reopen target must be an active status, got %s", to)
		}
		if from == StatusClosed || rank[to] < rank[from] {
			return nil
		}
		return fmt.Errorf("reopen %s → %s does not move back, use a normal transition", from, to)
	}
	return fmt.Errorf("unknown action %q", action)
}

// IsTransitionAllowed returns true when from → to is normal progress.
func IsTransitionAllowed(from, to Status) bool {
	return CheckTransition(from, to, ActionTransition) == nil
}
