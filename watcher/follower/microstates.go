package follower

import (
	"follower/broker"
	"follower/market"
	"follower/pkg/poll"
	"follower/watcher"
)

// Per-state scratch. Each state that runs a multi-step protocol gets its own
// variant; the handler type-asserts it, so handing the wrong one out of
// NewMicrostate is a bug the controller will catch.

const (
	// maxPosChecks bounds how long to wait for the broker's position report
	// to catch up with a fill.
	maxPosChecks = 50
	// maxSweepChecks bounds the wait for cancellations to clear during a
	// panic sweep.
	maxSweepChecks = 200
)

type baseScratch struct {
	watcher.Cycle
}

type seekScratch struct {
	watcher.Cycle
	gotInfo bool
	feedOn  bool
}

const (
	entrySetup = iota
	entryCheckOrder
	entryCheckStop
)

type entryScratch struct {
	watcher.Cycle
	phase   int
	snap    market.Quote // quote frozen at setup
	point   float64
	strike  float64 // fill price reported by the broker
	posPoll *poll.Tracker
}

const (
	hotInit = iota
	hotChecking
	hotUpgrade
)

type hotScratch struct {
	watcher.Cycle
	phase      int
	upEven     bool // ratchet armed
	dpoint     float64
	dpointPeak float64
	dstop      float64
	dstopPeak  float64
	sig        float64
	newStop    float64
}

const (
	flatSetup = iota
	flatCheckExit
	flatExited
)

type flatScratch struct {
	watcher.Cycle
	phase int
}

const (
	halfSetup = iota
	halfCheckExit
)

type halfScratch struct {
	watcher.Cycle
	phase  int
	closed int // signed contracts leaving the position
	keep   int // signed contracts staying on
}

const (
	revSetup = iota
	revCheckFill
	revCheckStop
)

type reversalScratch struct {
	watcher.Cycle
	phase   int
	strike  float64
	posPoll *poll.Tracker
}

const (
	panicSetup = iota
	panicCheckCancelled
)

type panicScratch struct {
	watcher.Cycle
	phase int
	sweep *poll.Tracker
}

func (f *Follower) NewMicrostate(s watcher.State) watcher.Microstate {
	switch s {
	case watcher.StateSeekingEntry:
		return &seekScratch{}
	case watcher.StatePendingEntry:
		return &entryScratch{posPoll: poll.Fixed(maxPosChecks, watcher.DefaultSleepQuantum)}
	case watcher.StateHot:
		return &hotScratch{}
	case watcher.StatePendingFlat:
		return &flatScratch{}
	case watcher.StatePendingHalfFlat:
		return &halfScratch{}
	case watcher.StateReversal:
		return &reversalScratch{posPoll: poll.Fixed(maxPosChecks, watcher.DefaultSleepQuantum)}
	case watcher.StatePendingPanic:
		return &panicScratch{sweep: poll.Fixed(maxSweepChecks, watcher.DefaultSleepQuantum)}
	default:
		return &baseScratch{}
	}
}

// setStopOrder stashes the filled stop's status for pending_flat.
func (f *Follower) setStopOrder(os *broker.OrderStatus) {
	f.mu.Lock()
	f.stopOrder = os
	f.mu.Unlock()
}
