package follower

import (
	"fmt"
	"math"
	"time"

	"follower/broker"
	"follower/journal"
	"follower/market"
	"follower/pkg/poll"
	"follower/watcher"
)

// Stop ratchet ramp. The moved stop captures between 0% and 75% of the peak
// favorable move, scaled by time in the trade.
const (
	sigmoidBot = 0.00
	sigmoidTop = 0.75
)

func (f *Follower) RunDormant(m watcher.Microstate) error {
	_ = m.(*baseScratch)
	f.setStopOrder(nil)
	return nil
}

// Seeking entry: pull contract metadata, bring up the quote feed, and make
// sure nothing is already working at the broker before committing capital.
func (f *Follower) RunSeekingEntry(m watcher.Microstate) error {
	s := m.(*seekScratch)

	if !s.gotInfo {
		if err := f.fetchFuturesInfo(); err != nil {
			return f.fail("%v", err)
		}
		s.gotInfo = true
	}
	if !s.feedOn {
		if err := f.startQuoteFeed(); err != nil {
			return f.fail("%v", err)
		}
		s.feedOn = true
	}

	if f.Armed() {
		oss, err := f.openOrders()
		if err != nil {
			return f.fail("order check: %v", err)
		}
		pos, err := f.openPositions()
		if err != nil {
			return f.fail("position check: %v", err)
		}
		if len(oss) > 0 || len(pos) > 0 {
			return f.fail("refusing to enter a new position: %d working order(s), %d open position(s) on %s",
				len(oss), len(pos), f.futureBroker)
		}
	}
	return f.w.TransitionTo(watcher.StatePendingEntry, f.contracts,
		fmt.Sprintf("%s Acquiring %d of %s, fee %v", f.armt(), f.contracts, f.futureBroker, f.brokerFee))
}

// Pending entry: place the entry order, wait for the fill, cover it with the
// initial stop, and confirm the position before going hot.
func (f *Follower) RunPendingEntry(m watcher.Microstate) error {
	s := m.(*entryScratch)

	q, ok := f.lastQuote()
	if !ok {
		return nil // nothing to do until the feed speaks
	}

	switch s.phase {
	case entrySetup:
		f.mu.Lock()
		f.orderIDEntry = ""
		f.orderIDStop = ""
		f.mu.Unlock()

		s.snap = q
		s.point = q.Last
		if !s.snap.Valid() {
			return f.fail("bad quotes from datafeed; market probably not trading now")
		}
		if f.contracts == 0 {
			return f.fail("contract size must not be zero")
		}

		limitEntry := s.snap.Bid - f.limitOff
		if f.contracts < 0 {
			limitEntry = s.snap.Ask + f.limitOff
		}
		stopOut := s.point - f.stopOff*f.lsfactor()
		f.mu.Lock()
		f.limitEntry = limitEntry
		f.stopOut = stopOut
		f.mu.Unlock()

		if f.Armed() {
			limit := limitEntry
			if f.marketOrd {
				limit = 0
			}
			id, err := f.placeOrder(journal.LegEntry, f.contracts, limit, 0)
			if err != nil {
				return f.fail("%v", err)
			}
			f.mu.Lock()
			f.orderIDEntry = id
			f.mu.Unlock()
		}
		f.w.Statusf("%s Waiting for %s %s entry of %v [#%s]",
			f.armt(), f.lors(), f.lorm(), f.limitEntry, f.orderIDEntry)
		s.phase = entryCheckOrder

	case entryCheckOrder:
		if !f.Armed() {
			s.posPoll.Reset()
			s.phase = entryCheckStop
			return nil
		}
		os, err := f.orderByID(f.orderIDEntry)
		if err != nil {
			return f.fail("entry order check: %v", err)
		}
		if os == nil {
			return f.fail("cannot find entry order %s", f.orderIDEntry)
		}
		switch os.Status {
		case broker.StatusOpen:
			// not filled yet
		case broker.StatusFilled:
			s.strike = os.FillPrice
			id, err := f.placeOrder(journal.LegStop, f.contracts, 0, f.stopOut)
			if err != nil {
				return f.fail("%v", err)
			}
			f.mu.Lock()
			f.orderIDStop = id
			f.mu.Unlock()
			f.w.Statusf("%s Order is now filled. Placing stop at %v", f.armt(), f.stopOut)
			s.posPoll.Reset()
			s.phase = entryCheckStop
		case broker.StatusCancelled:
			return f.fail("unexpected cancellation of order %s", f.orderIDEntry)
		default:
			return f.fail("entry order %s in unexpected status %s", f.orderIDEntry, os.Status)
		}

	case entryCheckStop:
		if f.Armed() {
			return f.confirmPosition(s.posPoll, s.strike, s.CycleControl(), false)
		}
		// Paper fills at the limit once price trades through it, or right
		// away for a market order.
		if f.marketOrd || (f.limitEntry-q.Last)*f.lsfactor() >= 0 {
			strike := f.limitEntry
			if f.marketOrd {
				strike = q.Last
			}
			f.setStrike(strike)
			return f.goHot(false)
		}

	default:
		return fmt.Errorf("unknown microstate phase %d", s.phase)
	}
	return nil
}

// confirmPosition checks that the resting stop is intact and waits for the
// broker's position report to confirm the fill, then goes hot.
func (f *Follower) confirmPosition(tracker *poll.Tracker, strike float64, cc *watcher.Cycle, fresh bool) error {
	os, err := f.orderByID(f.orderIDStop)
	if err != nil {
		return f.fail("stop order check: %v", err)
	}
	if os == nil {
		return f.fail("cannot find stop order %s", f.orderIDStop)
	}
	if os.Status != broker.StatusOpen {
		return f.fail("stop order status is unexpectedly %s", os.Status)
	}

	pos, err := f.openPositions()
	if err != nil {
		return f.fail("position check: %v", err)
	}
	if len(pos) > 0 {
		f.w.Statusf("%s We were filled on %s at %v", f.armt(), pos[0].Symbol, pos[0].StrikePrice)
		f.setStrike(strike)
		return f.goHot(fresh)
	}

	wait, err := tracker.Next()
	if err != nil {
		return f.fail("cannot get position information for %s", f.futureBroker)
	}
	cc.SleepQuantum = wait
	return nil
}

func (f *Follower) goHot(fresh bool) error {
	note := fmt.Sprintf("%s Going hot on a %s strike at %v with a stopout of %v",
		f.armt(), f.lors(), f.strike, f.stopOut)
	if fresh {
		return f.w.FreshTransitionTo(watcher.StateHot, f.contracts, note)
	}
	return f.w.TransitionTo(watcher.StateHot, f.contracts, note)
}

// Hot: revalue the trade, watch the stop, and ratchet it toward the price
// once the trade has proven itself.
func (f *Follower) RunHot(m watcher.Microstate) error {
	s := m.(*hotScratch)

	f.markPL()

	switch s.phase {
	case hotInit:
		s.upEven = false
		s.dpoint, s.dpointPeak, s.dstop, s.dstopPeak = 0, 0, 0, 0
		s.sig = sigmoidBot
		s.phase = hotChecking

	case hotChecking:
		q, ok := f.lastQuote()
		if !ok {
			return nil
		}
		dir := f.lsfactor()
		s.dpoint = (q.Last - f.strike) * dir
		s.dpointPeak = math.Max(s.dpoint, s.dpointPeak)
		s.dstop = (q.Last - f.stopOut) * dir
		s.dstopPeak = math.Max(s.dstop, s.dstopPeak)
		s.SleepQuantum = f.hotInterval

		if f.Armed() {
			os, err := f.orderByID(f.orderIDStop)
			if err != nil {
				return f.fail("stop order check: %v", err)
			}
			if os == nil {
				return fmt.Errorf("stop order %s vanished", f.orderIDStop)
			}
			switch os.Status {
			case broker.StatusOpen:
				// still resting
			case broker.StatusFilled:
				f.setStopOrder(os)
				return f.w.TransitionTo(watcher.StatePendingFlat, f.contracts,
					fmt.Sprintf("%s Stop order was hit at %v", f.armt(), os.FillPrice))
			default:
				return f.fail("stop order in unexpected state %s", os.Status)
			}
		} else if s.dstop <= 0 {
			return f.w.TransitionTo(watcher.StatePendingFlat, f.contracts,
				fmt.Sprintf("%s hit stopout %v; going flat!", f.armt(), f.stopOut))
		}

		if !s.upEven {
			if s.dpoint >= f.stopOffEven {
				f.w.Statusf("%s Ready to upgrade stopout. Upgrade to even hit (%v).", f.armt(), s.dpoint)
				s.upEven = true
			}
		} else {
			elapsed := time.Since(f.strikeTime).Seconds()
			s.sig = sigmoidBot + (sigmoidTop-sigmoidBot)*math.Min(elapsed/(f.hourSigmoid*3600), 1.0)
			dsoa := s.dpointPeak * s.sig
			cand := market.RoundTick(f.strike+dsoa*dir, f.meta.TickSize)
			if (cand-f.stopOut)*dir > 0 {
				s.newStop = cand
				f.w.Statusf("%s Upgrading stopout of our %s trade to %v. Sigmoid is %.3f.",
					f.armt(), f.lors(), cand, s.sig)
				s.phase = hotUpgrade
			}
		}

	case hotUpgrade:
		if f.Armed() {
			id, err := f.modifyOrder(journal.LegStop, f.orderIDStop, f.contracts, 0, s.newStop)
			if err != nil {
				return f.fail("%v", err)
			}
			f.mu.Lock()
			f.orderIDStop = id
			f.mu.Unlock()
		}
		f.mu.Lock()
		f.stopOut = s.newStop
		f.mu.Unlock()
		s.phase = hotChecking

	default:
		return fmt.Errorf("unknown microstate phase %d", s.phase)
	}
	return nil
}

// Pending flat: either book a stop-out that already happened, or exit at
// market and wait for the fill.
func (f *Follower) RunPendingFlat(m watcher.Microstate) error {
	s := m.(*flatScratch)

	switch s.phase {
	case flatSetup:
		if f.Armed() {
			if f.stopOrder != nil {
				f.finalizePL(f.stopOrder.FillPrice)
				s.phase = flatExited
				return nil
			}
			if err := f.cancelOrder(f.orderIDStop); err != nil {
				return f.fail("%v", err)
			}
			id, err := f.placeOrder(journal.LegExit, f.contracts, 0, 0)
			if err != nil {
				return f.fail("%v", err)
			}
			f.mu.Lock()
			f.orderIDExit = id
			f.mu.Unlock()
			f.w.Statusf("%s Issued a market order to exit position. Checking...", f.armt())
			s.phase = flatCheckExit
			return nil
		}
		q, ok := f.lastQuote()
		if !ok {
			return nil
		}
		f.finalizePL(q.Last)
		s.phase = flatExited

	case flatCheckExit:
		os, err := f.orderByID(f.orderIDExit)
		if err != nil {
			return f.fail("exit order check: %v", err)
		}
		if os == nil {
			return f.fail("cannot find exit order %s", f.orderIDExit)
		}
		switch os.Status {
		case broker.StatusOpen:
			// not filled yet
		case broker.StatusFilled:
			f.finalizePL(os.FillPrice)
			f.w.Statusf("%s Market order executed at %v", f.armt(), os.FillPrice)
			s.phase = flatExited
		case broker.StatusCancelled:
			return f.fail("exit order %s has been unexpectedly cancelled", f.orderIDExit)
		}

	case flatExited:
		return f.w.TransitionTo(watcher.StateFlat, f.contracts,
			fmt.Sprintf("%s We're flat now!", f.armt()))

	default:
		return fmt.Errorf("unknown microstate phase %d", s.phase)
	}
	return nil
}

// Flat: one last sanity check that nothing is left at the broker, then back
// to dormant for the next trade.
func (f *Follower) RunFlat(m watcher.Microstate) error {
	_ = m.(*baseScratch)
	defer f.setStopOrder(nil)

	if f.Armed() {
		pos, err := f.openPositions()
		if err != nil {
			return f.fail("position check: %v", err)
		}
		if len(pos) > 0 {
			return f.fail("%s DANGER: still holding an outstanding position on %s", f.armt(), f.futureBroker)
		}
	}
	return f.w.TransitionTo(watcher.StateDormant, 0,
		"Completed all sanity checks. Ready to trade again!")
}

// Pending half flat: exit the larger half of the position at market, book
// its P/L, and resume the trade with the remainder under a resized stop.
func (f *Follower) RunPendingHalfFlat(m watcher.Microstate) error {
	s := m.(*halfScratch)

	switch s.phase {
	case halfSetup:
		c := f.contracts
		if abs(c) < 2 {
			return f.fail("%s cannot halve a %d-contract position", f.armt(), c)
		}
		s.keep = c / 2
		s.closed = c - s.keep

		if f.Armed() {
			id, err := f.placeOrder(journal.LegExit, s.closed, 0, 0)
			if err != nil {
				return f.fail("%v", err)
			}
			f.mu.Lock()
			f.orderIDExit = id
			f.mu.Unlock()
			f.w.Statusf("%s Exiting %d of %d contract(s) at market [#%s]",
				f.armt(), abs(s.closed), abs(c), id)
			s.phase = halfCheckExit
			return nil
		}
		q, ok := f.lastQuote()
		if !ok {
			return nil
		}
		f.finalizeHalfPL(q.Last, s.closed)
		f.mu.Lock()
		f.contracts = s.keep
		f.mu.Unlock()
		return f.w.FreshTransitionTo(watcher.StateHot, s.keep,
			fmt.Sprintf("%s Halved the position; %d contract(s) remain.", f.armt(), abs(s.keep)))

	case halfCheckExit:
		os, err := f.orderByID(f.orderIDExit)
		if err != nil {
			return f.fail("exit order check: %v", err)
		}
		if os == nil {
			return f.fail("cannot find exit order %s", f.orderIDExit)
		}
		switch os.Status {
		case broker.StatusOpen:
			// not filled yet
		case broker.StatusFilled:
			f.finalizeHalfPL(os.FillPrice, s.closed)
			f.mu.Lock()
			f.contracts = s.keep
			f.mu.Unlock()
			id, err := f.modifyOrder(journal.LegStop, f.orderIDStop, s.keep, 0, f.stopOut)
			if err != nil {
				return f.fail("%v", err)
			}
			f.mu.Lock()
			f.orderIDStop = id
			f.mu.Unlock()
			return f.w.FreshTransitionTo(watcher.StateHot, s.keep,
				fmt.Sprintf("%s Exited %d at %v; %d contract(s) remain.",
					f.armt(), abs(s.closed), os.FillPrice, abs(s.keep)))
		case broker.StatusCancelled:
			return f.fail("exit order %s has been unexpectedly cancelled", f.orderIDExit)
		}

	default:
		return fmt.Errorf("unknown microstate phase %d", s.phase)
	}
	return nil
}

// Pending reversal: lift the stop so the reversal order cannot collide with
// it.
func (f *Follower) RunPendingReversal(m watcher.Microstate) error {
	_ = m.(*baseScratch)

	if f.Armed() {
		if err := f.cancelOrder(f.orderIDStop); err != nil {
			return f.fail("%v", err)
		}
		f.w.Statusf("%s broker order %s cancelled", f.armt(), f.orderIDStop)
		f.mu.Lock()
		f.orderIDStop = ""
		f.mu.Unlock()
	}
	return f.w.TransitionTo(watcher.StateReversal, f.contracts,
		fmt.Sprintf("%s Reversing...", f.armt()))
}

// Reversal: one double-sized market order closes the old trade and opens the
// opposite one. The old trade's books close at the reversal fill, which
// becomes the new strike.
func (f *Follower) RunReversal(m watcher.Microstate) error {
	s := m.(*reversalScratch)

	switch s.phase {
	case revSetup:
		if f.Armed() {
			id, err := f.placeOrder(journal.LegReversal, f.contracts, 0, 0)
			if err != nil {
				return f.fail("%v", err)
			}
			f.mu.Lock()
			f.orderIDEntry = id
			f.mu.Unlock()
			f.w.Statusf("%s Reversal market order %s placed.", f.armt(), id)
			s.phase = revCheckFill
			return nil
		}
		q, ok := f.lastQuote()
		if !ok {
			return nil
		}
		f.finalizePL(q.Last)
		f.mu.Lock()
		f.contracts = -f.contracts
		f.mu.Unlock()
		f.setStrike(q.Last)
		f.mu.Lock()
		f.stopOut = q.Last - f.stopOff*f.lsfactor()
		f.mu.Unlock()
		return f.goHot(true)

	case revCheckFill:
		os, err := f.orderByID(f.orderIDEntry)
		if err != nil {
			return f.fail("reversal order check: %v", err)
		}
		if os == nil {
			return f.fail("cannot find reversal order %s", f.orderIDEntry)
		}
		switch os.Status {
		case broker.StatusOpen:
			// not filled yet
		case broker.StatusFilled:
			s.strike = os.FillPrice
			f.finalizePL(os.FillPrice)
			f.mu.Lock()
			f.contracts = -f.contracts
			f.mu.Unlock()
			f.setStrike(s.strike)
			f.mu.Lock()
			f.stopOut = s.strike - f.stopOff*f.lsfactor()
			f.mu.Unlock()
			id, err := f.placeOrder(journal.LegStop, f.contracts, 0, f.stopOut)
			if err != nil {
				return f.fail("%v", err)
			}
			f.mu.Lock()
			f.orderIDStop = id
			f.mu.Unlock()
			f.w.Statusf("%s Order is now filled. Placing stop at %v", f.armt(), f.stopOut)
			s.posPoll.Reset()
			s.phase = revCheckStop
		default:
			return f.fail("unknown order status %s for order %s", os.Status, f.orderIDEntry)
		}

	case revCheckStop:
		if !f.Armed() {
			return f.fail("reversal confirmation reached without broker routing")
		}
		return f.confirmPosition(s.posPoll, s.strike, s.CycleControl(), true)

	default:
		return fmt.Errorf("unknown microstate phase %d", s.phase)
	}
	return nil
}

// Pending panic: cancel everything outstanding. A fill that slips in before
// or during the sweep reverts the machine to pending_entry, which resumes
// managing the now-live position.
func (f *Follower) RunPendingPanic(m watcher.Microstate) error {
	s := m.(*panicScratch)

	if !f.Armed() {
		return f.w.TransitionTo(watcher.StatePanic, f.contracts,
			fmt.Sprintf("%s All orders have been exited.", f.armt()))
	}

	switch s.phase {
	case panicSetup:
		pos, err := f.openPositions()
		if err != nil {
			return f.fail("position check: %v", err)
		}
		if len(pos) > 0 {
			return f.revertToPendingEntry()
		}
		oss, err := f.openOrders()
		if err != nil {
			return f.fail("order check: %v", err)
		}
		for _, os := range oss {
			f.w.Statusf("%s Killing order %s", f.armt(), os.OrderID)
			if err := f.cancelOrder(os.OrderID); err != nil {
				return f.fail("%v", err)
			}
		}
		s.sweep.Reset()
		s.phase = panicCheckCancelled

	case panicCheckCancelled:
		oss, err := f.openOrders()
		if err != nil {
			return f.fail("order check: %v", err)
		}
		if len(oss) == 0 {
			// An order may have filled between the sweep and now.
			pos, err := f.openPositions()
			if err != nil {
				return f.fail("position check: %v", err)
			}
			if len(pos) > 0 {
				return f.revertToPendingEntry()
			}
			return f.w.TransitionTo(watcher.StatePanic, f.contracts,
				fmt.Sprintf("%s All orders have been exited.", f.armt()))
		}
		if _, err := s.sweep.Next(); err != nil {
			return f.fail("timeout warning: taking too long to exit orders")
		}

	default:
		return fmt.Errorf("unknown microstate phase %d", s.phase)
	}
	return nil
}

// revertToPendingEntry resumes the entry protocol after a panic found a live
// fill. The pending_entry scratch survives, so the protocol picks up where
// it left off.
func (f *Follower) revertToPendingEntry() error {
	return f.w.TransitionTo(watcher.StatePendingEntry, f.contracts,
		fmt.Sprintf("%s Order for %s has been filled. Reverting.", f.armt(), f.futureBroker))
}

func (f *Follower) RunPanic(m watcher.Microstate) error {
	_ = m.(*baseScratch)
	return f.w.TransitionTo(watcher.StateDormant, 0,
		fmt.Sprintf("%s Cleanup completed.", f.armt()))
}
