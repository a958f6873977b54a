package market

import "math"

// FuturesMeta carries the static contract data a controller needs to price a
// futures trade: the minimum price increment (tick), what one tick is worth
// per contract, and the per-contract exchange/regulatory fee (commission is
// a broker matter and not included here).
type FuturesMeta struct {
	Symbol      string
	Description string
	TickSize    float64
	TickValue   float64
	Fee         float64
}

// PointValue is the dollar value of a one-point move for one contract.
func (f FuturesMeta) PointValue() float64 {
	return f.TickValue / f.TickSize
}

// RoundTick rounds price to the nearest multiple of tick, half away from
// zero. Brokers reject prices that are off the tick grid.
func RoundTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
