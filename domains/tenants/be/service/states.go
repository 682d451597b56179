package service

import "fmt"

// State is one step of the tenant onboarding lifecycle.
type State string

// Lifecycle states, in order. Transitions are monotonic on the happy path;
// re-entrant advances to a state at or behind the current one are no-ops so
// retries and duplicate triggers stay harmless.
const (
	StatePending    State = "pending"
	StateConnecting State = "connecting"
	StateSyncing    State = "syncing"
	StateReady      State = "ready"
)

var stateRank = map[State]int{
	StatePending:    0,
	StateConnecting: 1,
	StateSyncing:    2,
	StateReady:      3,
}

// ParseState validates a raw state string against the closed set.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if _, ok := stateRank[s]; !ok {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidState, raw)
	}
	return s, nil
}

// Before reports whether s precedes other in the lifecycle.
func (s State) Before(other State) bool {
	return stateRank[s] < stateRank[other]
}
