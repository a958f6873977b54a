package watcher

import "time"

// DefaultSleepQuantum is restored on the active microstate before every
// state-handler invocation. A handler that wants a different pace must set
// it again on each and every invocation.
const DefaultSleepQuantum = 100 * time.Millisecond

// Cycle is the scheduling scratch every microstate embeds. SleepQuantum
// governs only the sleep that follows the current invocation.
type Cycle struct {
	SleepQuantum time.Duration
}

func (c *Cycle) CycleControl() *Cycle { return c }

// Microstate is transient per-state scratch storage surviving across
// scheduler cycles within one macro-state. Policies define one concrete
// variant per state that needs scratch fields (embedding Cycle) and hand
// them out from NewMicrostate; each state handler type-asserts its own
// variant, so a mismatched pairing is a protocol violation that the loop
// converts to StateBug.
//
// The map of microstates is discarded whenever the controller reaches
// dormant; within one trade a revisited state keeps its scratch unless the
// transition asked for a fresh one.
type Microstate interface {
	CycleControl() *Cycle
}
