package watcher

import "fmt"

// State is the macro-state of a trade lifecycle controller.
type State int

const (
	StateDead State = iota // before the controller goroutine has started
	StateDormant
	StateSeekingEntry
	StatePendingEntry
	StateHot
	StatePendingFlat
	StatePendingHalfFlat
	StatePendingReversal
	StateReversal
	StatePendingPanic
	StatePanic
	StateFlat
	StateFailed // a broker or market operation refused cooperation
	StateBug    // the policy itself is broken
)

var stateNames = map[State]string{
	StateDead:            "dead",
	StateDormant:         "dormant",
	StateSeekingEntry:    "seeking_entry",
	StatePendingEntry:    "pending_entry",
	StateHot:             "hot",
	StatePendingFlat:     "pending_flat",
	StatePendingHalfFlat: "pending_half_flat",
	StatePendingReversal: "pending_reversal",
	StateReversal:        "reversal",
	StatePendingPanic:    "pending_panic",
	StatePanic:           "panic",
	StateFlat:            "flat",
	StateFailed:          "failed",
	StateBug:             "bug",
}

var stateLabels = map[State]string{
	StateDead:            "Dead",
	StateDormant:         "Waiting for activation",
	StateSeekingEntry:    "Seeking entry",
	StatePendingEntry:    "Pending entry",
	StateHot:             "In a trade!",
	StatePendingFlat:     "Exiting trade...",
	StatePendingHalfFlat: "Exiting half of trade...",
	StatePendingReversal: "Waiting to reverse trade...",
	StateReversal:        "Reversing trade!",
	StatePendingPanic:    "Attempting to kill all outstanding orders...",
	StatePanic:           "All orders successfully killed",
	StateFlat:            "Flat!",
	StateFailed:          "DANGER: FAILURE",
	StateBug:             "Software bug detected",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Label is the human-readable description of the state.
func (s State) Label() string {
	return stateLabels[s]
}

// Terminal reports whether the state requires operator intervention to leave.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateBug
}

// transitions is the static table of legal successors. failed and bug have
// none; the only way into bug is the scheduling loop's unconditional capture.
//
// seeking_entry lists pending_panic as a successor even though no policy
// currently drives that edge.
var transitions = map[State][]State{
	StateDead:            {StateDormant},
	StateDormant:         {StateSeekingEntry},
	StateSeekingEntry:    {StateSeekingEntry, StatePendingEntry, StatePendingPanic, StateFailed},
	StatePendingEntry:    {StateHot, StatePendingPanic, StateFailed},
	StateHot:             {StatePendingFlat, StatePendingHalfFlat, StatePendingReversal, StateFailed},
	StatePendingFlat:     {StateFlat, StateFailed},
	StatePendingHalfFlat: {StateHot, StateFailed},
	StatePendingReversal: {StateReversal, StateFailed},
	StateReversal:        {StateHot, StateFailed},
	StatePendingPanic:    {StatePanic, StatePendingEntry, StateFailed},
	StatePanic:           {StateDormant, StateFailed},
	StateFlat:            {StateDormant, StateFailed},
	StateFailed:          nil,
	StateBug:             nil,
}

func legalTransition(from, to State) bool {
	if to == StateBug {
		return false
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
