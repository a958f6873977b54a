package follower

import (
	"fmt"
	"time"

	"follower/bus"
)

// Profit and loss engine. All entry points run on the controller goroutine;
// the ledger mutex only shields Snapshot readers.

// plEmitInterval caps the silence between profit updates while the value is
// unchanged.
const plEmitInterval = time.Second

// lsfactor is 1 for a long trade, -1 for a short one.
func (f *Follower) lsfactor() float64 {
	switch {
	case f.contracts > 0:
		return 1
	case f.contracts < 0:
		return -1
	}
	return 0
}

// setStrike records the trade's reference price and starts the clock.
func (f *Follower) setStrike(point float64) {
	f.mu.Lock()
	f.strike = point
	f.strikeTime = time.Now()
	f.mu.Unlock()
}

// computePL returns the raw point move and the net trade P/L for closing
// contracts many contracts at exit. Round-trip commissions and fees come off
// the top.
func (f *Follower) computePL(exit float64, contracts int) (pointPL, tradePL float64) {
	pointPL = exit - f.strike
	pointPrice := f.meta.PointValue()
	cost := 2 * (f.commissions + f.brokerFee) * float64(abs(contracts))
	tradePL = pointPrice*float64(contracts)*pointPL - cost
	return pointPL, tradePL
}

// markPL revalues the open trade against the latest quote. The update is
// published when the value changed, on the first call of a trade, and at
// least once per plEmitInterval regardless.
func (f *Follower) markPL() {
	q, ok := f.lastQuote()
	if !ok {
		return
	}
	now := time.Now()
	pointPL, tradePL := f.computePL(q.Last, f.contracts)

	f.mu.Lock()
	f.tradePL = tradePL
	emit := !f.havePrev || tradePL != f.lastTradePL || now.Sub(f.lastCalc) >= plEmitInterval
	if emit {
		f.lastTradePL = tradePL
		f.havePrev = true
		f.lastCalc = now
	}
	f.mu.Unlock()

	if emit {
		f.emitPL(pointPL, tradePL)
	}
}

// finalizePL closes the trade's books at the exit price, folding the result
// into the session totals. The update is always published.
func (f *Follower) finalizePL(exit float64) {
	pointPL, tradePL := f.computePL(exit, f.contracts)

	f.mu.Lock()
	f.tradePL = tradePL
	f.totalPL += tradePL
	f.balance += tradePL
	f.havePrev = false
	f.mu.Unlock()

	f.emitPL(pointPL, tradePL)
}

// finalizeHalfPL realizes the closed portion of a partial exit. closed is
// the signed contract count leaving the position; the remainder keeps the
// original strike and stays open.
func (f *Follower) finalizeHalfPL(exit float64, closed int) {
	pointPL, partPL := f.computePL(exit, closed)

	f.mu.Lock()
	f.totalPL += partPL
	f.balance += partPL
	f.havePrev = false
	f.mu.Unlock()

	f.emitPL(pointPL, partPL)
}

// emitPL publishes a profit update: direction-adjusted point move, trade
// P/L, session total, running balance, and time in trade.
func (f *Follower) emitPL(pointPL, tradePL float64) {
	f.mu.Lock()
	totalPL, balance := f.totalPL, f.balance
	elapsed := time.Since(f.strikeTime)
	f.mu.Unlock()

	f.bus.Publish(bus.TopicProfit, bus.SubUpdate,
		pointPL*f.lsfactor(), tradePL, totalPL, balance, clockFormat(elapsed))
}

// clockFormat renders a duration as HH:MM:SS.
func clockFormat(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}
