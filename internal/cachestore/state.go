// SPDX-License-Identifier: MIT

package cachestore

// UnitState tracks how far one day unit has progressed through the
// pipeline. Fetching is transient; a crash mid-fetch is rolled back to
// Stale when the store reopens.
type UnitState string

const (
	StateStale      UnitState = "stale"
	StateFetching   UnitState = "fetching"
	StateFetched    UnitState = "fetched"
	StateNormalized UnitState = "normalized"
	StateMerged     UnitState = "merged"
	StateCommitted  UnitState = "committed"
)

var stateRank = map[UnitState]int{
	StateStale:      0,
	StateFetching:   1,
	StateFetched:    2,
	StateNormalized: 3,
	StateMerged:     4,
	StateCommitted:  5,
}

// AtLeast reports whether s has progressed to other or beyond.
func (s UnitState) AtLeast(other UnitState) bool {
	return stateRank[s] >= stateRank[other]
}

// transitions lists the forward edges. Any durable state may re-enter
// Fetching when a refetch is due; Fetching may fall back to Stale on a
// failed fetch. Same-state transitions are idempotent no-ops.
var transitions = map[UnitState][]UnitState{
	StateStale:      {StateFetching},
	StateFetching:   {StateFetched, StateStale},
	StateFetched:    {StateNormalized, StateFetching},
	StateNormalized: {StateMerged, StateFetching},
	StateMerged:     {StateCommitted, StateFetching},
	StateCommitted:  {StateFetching},
}

func canTransition(from, to UnitState) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
