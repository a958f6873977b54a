package follower

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"follower/broker"
	"follower/bus"
	"follower/market"
	"follower/sim"
	"follower/watcher"
)

// End-to-end lifecycle tests against the fill simulator. Quotes are pushed by
// hand, so every fill is deterministic; the only timing dependence is the
// controller's cycle interval, kept short here.

func tick(last float64) market.Quote {
	return market.Quote{
		Symbol: "@ES#",
		Bid:    last - 0.25,
		Ask:    last + 0.25,
		Last:   last,
		Time:   time.Now(),
	}
}

func newRig(t *testing.T, armed bool) (*Follower, *sim.Engine, *bus.Bus) {
	t.Helper()

	e := sim.NewEngine()
	e.SetFutures(market.FuturesMeta{
		Symbol:      "@ES#",
		Description: "E-mini S&P 500",
		TickSize:    0.25,
		TickValue:   12.50,
		Fee:         1.14,
	})
	b := bus.New()
	f := New(Options{
		Gateway:     e,
		Feed:        e,
		Bus:         b,
		Logger:      zerolog.Nop(),
		HotInterval: 15 * time.Millisecond,
	})
	f.Arm(armed)
	f.Start()

	t.Cleanup(func() {
		f.Watcher().Shutdown()
		select {
		case <-f.Watcher().Done():
		case <-time.After(2 * time.Second):
			t.Error("controller did not shut down")
		}
		f.Close()
	})
	return f, e, b
}

func waitState(t *testing.T, f *Follower, want watcher.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, _ := f.Watcher().CurrentState()
		return st == want
	}, 3*time.Second, 5*time.Millisecond, "want state %s", want)
}

func restingOrders(t *testing.T, e *sim.Engine) []broker.OrderStatus {
	t.Helper()
	oss, err := e.Orders(context.Background(), broker.Filter{
		Symbol: "@ES#", Status: broker.StatusOpen,
	})
	require.NoError(t, err)
	return oss
}

func waitResting(t *testing.T, e *sim.Engine, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(restingOrders(t, e)) == n
	}, 3*time.Second, 5*time.Millisecond, "want %d resting order(s)", n)
}

func TestArmedLongStopOut(t *testing.T) {
	t.Parallel()

	f, e, _ := newRig(t, true)

	f.Watcher().Enqueue(watcher.BuyCommand{
		Future: "@ES#", FutureBroker: "@ES#", Contracts: 2,
	})
	waitState(t, f, watcher.StatePendingEntry)

	e.UpdateQuote(tick(4500))
	waitResting(t, e, 1) // entry limit at bid - 0.25

	e.UpdateQuote(tick(4499.5))
	waitState(t, f, watcher.StateHot)

	snap := f.Snapshot()
	assert.Equal(t, 2, snap.Contracts)
	assert.Equal(t, 4499.5, snap.Strike)
	assert.Equal(t, 4498.0, snap.StopOut)

	// The protective stop is resting at the broker.
	oss := restingOrders(t, e)
	require.Len(t, oss, 1)
	assert.Equal(t, broker.Sell, oss[0].Action)
	assert.Equal(t, 4498.0, oss[0].Stop)

	// Trade through the stop and let the machine unwind to dormant.
	e.UpdateQuote(tick(4497.5))
	waitState(t, f, watcher.StateDormant)

	// 2 contracts, -2 points, less 2 * (6.99 + 1.14) * 2 in costs.
	assert.InDelta(t, -232.52, f.Snapshot().TotalPL, 1e-9)

	pos, err := e.Positions(context.Background(), "@ES#")
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestPaperMarketOrderStopOut(t *testing.T) {
	t.Parallel()

	f, e, _ := newRig(t, false)

	f.Watcher().Enqueue(watcher.BuyCommand{
		Future: "@ES#", FutureBroker: "@ES#", Contracts: 1,
		Params: watcher.Params{"market_ord": true},
	})
	waitState(t, f, watcher.StatePendingEntry)

	e.UpdateQuote(tick(4500))
	waitState(t, f, watcher.StateHot)

	snap := f.Snapshot()
	assert.Equal(t, 4500.0, snap.Strike)
	assert.Equal(t, 4498.0, snap.StopOut)

	e.UpdateQuote(tick(4497.5))
	waitState(t, f, watcher.StateDormant)

	assert.InDelta(t, -141.26, f.Snapshot().TotalPL, 1e-9)

	// Paper trading never touches the broker.
	oss, err := e.Orders(context.Background(), broker.Filter{Symbol: "@ES#"})
	require.NoError(t, err)
	assert.Empty(t, oss)
}

func TestPaperShortRoundTrip(t *testing.T) {
	t.Parallel()

	f, e, _ := newRig(t, false)

	f.Watcher().Enqueue(watcher.SellShortCommand{
		Future: "@ES#", FutureBroker: "@ES#", Contracts: 1,
		Params: watcher.Params{"market_ord": true},
	})
	waitState(t, f, watcher.StatePendingEntry)

	e.UpdateQuote(tick(4500))
	waitState(t, f, watcher.StateHot)

	snap := f.Snapshot()
	assert.Equal(t, -1, snap.Contracts)
	assert.Equal(t, 4502.0, snap.StopOut, "short stop sits above the strike")

	// A winning short: flatten well below the strike.
	e.UpdateQuote(tick(4495))
	f.Watcher().Enqueue(watcher.GoFlatCommand{})
	waitState(t, f, watcher.StateDormant)

	// 5 points on one short contract, less 16.26 in costs.
	assert.InDelta(t, 233.74, f.Snapshot().TotalPL, 1e-9)
}

func TestArmedPanicCancelsEntry(t *testing.T) {
	t.Parallel()

	f, e, _ := newRig(t, true)

	f.Watcher().Enqueue(watcher.BuyCommand{
		Future: "@ES#", FutureBroker: "@ES#", Contracts: 1,
	})
	waitState(t, f, watcher.StatePendingEntry)

	e.UpdateQuote(tick(4500))
	waitResting(t, e, 1)

	f.Watcher().Enqueue(watcher.PanicCommand{})
	waitState(t, f, watcher.StateDormant)

	assert.Empty(t, restingOrders(t, e))
	oss, err := e.Orders(context.Background(), broker.Filter{
		Symbol: "@ES#", Status: broker.StatusCancelled,
	})
	require.NoError(t, err)
	assert.Len(t, oss, 1)
}

func TestArmedPanicRevertsOnFill(t *testing.T) {
	t.Parallel()

	f, e, b := newRig(t, true)

	var mu sync.Mutex
	var trail []watcher.State
	b.Subscribe(bus.TopicState, bus.SubTransition, func(args ...any) {
		mu.Lock()
		trail = append(trail, args[0].(watcher.State))
		mu.Unlock()
	})

	f.Watcher().Enqueue(watcher.BuyCommand{
		Future: "@ES#", FutureBroker: "@ES#", Contracts: 1,
	})
	waitState(t, f, watcher.StatePendingEntry)

	e.UpdateQuote(tick(4500))
	waitResting(t, e, 1)

	// A fill sneaks in before the panic: the book is suddenly live.
	_, err := e.PlaceOrder(context.Background(), broker.Order{
		Symbol: "@ES#", Action: broker.Buy, Quantity: 1, Type: broker.Market,
	})
	require.NoError(t, err)

	f.Watcher().Enqueue(watcher.PanicCommand{})

	// The panic finds the position and resumes the entry protocol, which
	// carries the trade to hot once the resting limit fills too.
	e.UpdateQuote(tick(4499.5))
	waitState(t, f, watcher.StateHot)

	assert.Equal(t, 4499.5, f.Snapshot().Strike)

	mu.Lock()
	defer mu.Unlock()
	iPanic, iRevert := -1, -1
	for i, st := range trail {
		if st == watcher.StatePendingPanic && iPanic < 0 {
			iPanic = i
		}
		if st == watcher.StatePendingEntry && i > iPanic && iPanic >= 0 && iRevert < 0 {
			iRevert = i
		}
	}
	assert.GreaterOrEqual(t, iPanic, 0, "panic state was visited")
	assert.Greater(t, iRevert, iPanic, "entry protocol resumed after the panic")
}

func TestPaperReversalRoundTrip(t *testing.T) {
	t.Parallel()

	f, e, _ := newRig(t, false)

	f.Watcher().Enqueue(watcher.BuyCommand{
		Future: "@ES#", FutureBroker: "@ES#", Contracts: 2,
		Params: watcher.Params{"market_ord": true},
	})
	waitState(t, f, watcher.StatePendingEntry)

	e.UpdateQuote(tick(4500))
	waitState(t, f, watcher.StateHot)

	f.Watcher().Enqueue(watcher.ReverseCommand{})
	require.Eventually(t, func() bool {
		st, _ := f.Watcher().CurrentState()
		return st == watcher.StateHot && f.Snapshot().Contracts == -2
	}, 3*time.Second, 5*time.Millisecond, "reversal back to hot, short")

	snap := f.Snapshot()
	assert.Equal(t, 4500.0, snap.Strike)
	assert.Equal(t, 4502.0, snap.StopOut)

	// Price rallies through the short's stop.
	e.UpdateQuote(tick(4502.25))
	waitState(t, f, watcher.StateDormant)

	// Flat reversal costs a round trip, the losing short costs 225 more.
	assert.InDelta(t, -290.04, f.Snapshot().TotalPL, 1e-9)
}

func TestPaperHalfFlat(t *testing.T) {
	t.Parallel()

	f, e, _ := newRig(t, false)

	f.Watcher().Enqueue(watcher.BuyCommand{
		Future: "@ES#", FutureBroker: "@ES#", Contracts: 4,
		Params: watcher.Params{"market_ord": true},
	})
	waitState(t, f, watcher.StatePendingEntry)

	e.UpdateQuote(tick(4500))
	waitState(t, f, watcher.StateHot)

	f.Watcher().Enqueue(watcher.GoHalfFlatCommand{})
	require.Eventually(t, func() bool {
		st, _ := f.Watcher().CurrentState()
		return st == watcher.StateHot && f.Snapshot().Contracts == 2
	}, 3*time.Second, 5*time.Millisecond, "half the position survives")

	// The closed half realized only its costs.
	assert.InDelta(t, -32.52, f.Snapshot().TotalPL, 1e-9)

	f.Watcher().Enqueue(watcher.GoFlatCommand{})
	waitState(t, f, watcher.StateDormant)
	assert.InDelta(t, -65.04, f.Snapshot().TotalPL, 1e-9)
}

func TestArmedStopRatchet(t *testing.T) {
	t.Parallel()

	f, e, _ := newRig(t, true)

	// A near-instant ramp so the ratchet reaches full capture within the
	// test's patience.
	f.Watcher().Enqueue(watcher.BuyCommand{
		Future: "@ES#", FutureBroker: "@ES#", Contracts: 1,
		Params: watcher.Params{"stop_off_even": 1.0, "hour_sigmoid": 0.0001},
	})
	waitState(t, f, watcher.StatePendingEntry)

	e.UpdateQuote(tick(4500))
	waitResting(t, e, 1)
	e.UpdateQuote(tick(4499.5))
	waitState(t, f, watcher.StateHot)
	assert.Equal(t, 4498.0, f.Snapshot().StopOut)

	// 1.5 points of profit arms the ratchet; full capture lands the stop at
	// strike + 0.75 * peak, rounded to the tick.
	e.UpdateQuote(tick(4501))
	require.Eventually(t, func() bool {
		return f.Snapshot().StopOut >= 4500.75-1e-9
	}, 3*time.Second, 5*time.Millisecond, "stop ratchets to 4500.75")

	oss := restingOrders(t, e)
	require.Len(t, oss, 1)
	assert.InDelta(t, 4500.75, oss[0].Stop, 1e-9)

	// Pull back through the raised stop: the trade books a win.
	e.UpdateQuote(tick(4500.5))
	waitState(t, f, watcher.StateDormant)

	// 1 point captured, less 16.26 in costs.
	assert.InDelta(t, 33.74, f.Snapshot().TotalPL, 1e-9)
}

func TestGoFlatWhileDormantIsBug(t *testing.T) {
	t.Parallel()

	f, _, _ := newRig(t, false)
	waitState(t, f, watcher.StateDormant)

	f.Watcher().Enqueue(watcher.GoFlatCommand{})
	waitState(t, f, watcher.StateBug)
}

func TestHalfFlatSingleContractFails(t *testing.T) {
	t.Parallel()

	f, e, _ := newRig(t, false)

	f.Watcher().Enqueue(watcher.BuyCommand{
		Future: "@ES#", FutureBroker: "@ES#", Contracts: 1,
		Params: watcher.Params{"market_ord": true},
	})
	waitState(t, f, watcher.StatePendingEntry)

	e.UpdateQuote(tick(4500))
	waitState(t, f, watcher.StateHot)

	f.Watcher().Enqueue(watcher.GoHalfFlatCommand{})
	waitState(t, f, watcher.StateFailed)
}

func TestArmedRefusesDirtyBook(t *testing.T) {
	t.Parallel()

	f, e, _ := newRig(t, true)

	// A position already exists at the broker before the trade starts.
	e.UpdateQuote(tick(4500))
	_, err := e.PlaceOrder(context.Background(), broker.Order{
		Symbol: "@ES#", Action: broker.Buy, Quantity: 1, Type: broker.Market,
	})
	require.NoError(t, err)

	f.Watcher().Enqueue(watcher.BuyCommand{
		Future: "@ES#", FutureBroker: "@ES#", Contracts: 1,
	})
	waitState(t, f, watcher.StateFailed)
}
