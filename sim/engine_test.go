package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"follower/broker"
	"follower/market"
)

var es = market.FuturesMeta{
	Symbol:      "@ES#",
	Description: "E-mini S&P 500",
	TickSize:    0.25,
	TickValue:   12.50,
	Fee:         1.14,
}

func quote(last float64) market.Quote {
	return market.Quote{
		Symbol: "@ES#",
		Bid:    last - 0.25,
		Ask:    last + 0.25,
		Last:   last,
		Time:   time.Now(),
	}
}

func newEngine() *Engine {
	e := NewEngine()
	e.SetFutures(es)
	return e
}

func TestFuturesData(t *testing.T) {
	t.Parallel()

	e := newEngine()
	ctx := context.Background()

	meta, err := e.FuturesData(ctx, "@ES#")
	require.NoError(t, err)
	assert.Equal(t, es, meta)

	_, err = e.FuturesData(ctx, "@NQ#")
	var berr *broker.Error
	require.ErrorAs(t, err, &berr)
}

func TestMarketOrderFillsAtTouch(t *testing.T) {
	t.Parallel()

	e := newEngine()
	ctx := context.Background()
	e.UpdateQuote(quote(4500))

	id, err := e.PlaceOrder(ctx, broker.Order{
		Symbol: "@ES#", Action: broker.Buy, Quantity: 2, Type: broker.Market,
	})
	require.NoError(t, err)

	oss, err := e.Orders(ctx, broker.Filter{OrderID: id})
	require.NoError(t, err)
	require.Len(t, oss, 1)
	assert.Equal(t, broker.StatusFilled, oss[0].Status)
	assert.Equal(t, 4500.25, oss[0].FillPrice) // buys lift the ask

	pos, err := e.Positions(ctx, "@ES#")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, 2, pos[0].Quantity)
	assert.Equal(t, 4500.25, pos[0].StrikePrice)
}

func TestLimitOrderRestsUntilTouched(t *testing.T) {
	t.Parallel()

	e := newEngine()
	ctx := context.Background()
	e.UpdateQuote(quote(4500))

	id, err := e.PlaceOrder(ctx, broker.Order{
		Symbol: "@ES#", Action: broker.Buy, Quantity: 1, Type: broker.Limit, Limit: 4499.75,
	})
	require.NoError(t, err)

	oss, _ := e.Orders(ctx, broker.Filter{OrderID: id})
	assert.Equal(t, broker.StatusOpen, oss[0].Status)

	e.UpdateQuote(quote(4499.75))
	oss, _ = e.Orders(ctx, broker.Filter{OrderID: id})
	assert.Equal(t, broker.StatusFilled, oss[0].Status)
	assert.Equal(t, 4499.75, oss[0].FillPrice)
}

func TestStopOrderTriggersOnLast(t *testing.T) {
	t.Parallel()

	e := newEngine()
	ctx := context.Background()
	e.UpdateQuote(quote(4500))

	// Protective sell stop below the market.
	id, err := e.PlaceOrder(ctx, broker.Order{
		Symbol: "@ES#", Action: broker.Sell, Quantity: 1, Type: broker.Stop, Stop: 4498,
	})
	require.NoError(t, err)

	e.UpdateQuote(quote(4499))
	oss, _ := e.Orders(ctx, broker.Filter{OrderID: id})
	assert.Equal(t, broker.StatusOpen, oss[0].Status)

	e.UpdateQuote(quote(4497.5))
	oss, _ = e.Orders(ctx, broker.Filter{OrderID: id})
	assert.Equal(t, broker.StatusFilled, oss[0].Status)
	assert.Equal(t, 4497.5, oss[0].FillPrice)
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	e := newEngine()
	ctx := context.Background()
	e.UpdateQuote(quote(4500))

	id, err := e.PlaceOrder(ctx, broker.Order{
		Symbol: "@ES#", Action: broker.Buy, Quantity: 1, Type: broker.Limit, Limit: 4490,
	})
	require.NoError(t, err)
	require.NoError(t, e.CancelOrder(ctx, id))

	oss, _ := e.Orders(ctx, broker.Filter{OrderID: id})
	assert.Equal(t, broker.StatusCancelled, oss[0].Status)

	// Cancelling again, or cancelling a filled order, is refused.
	assert.Error(t, e.CancelOrder(ctx, id))
	assert.Error(t, e.CancelOrder(ctx, "no-such-order"))
}

func TestModifyOrderIsCancelReplace(t *testing.T) {
	t.Parallel()

	e := newEngine()
	ctx := context.Background()
	e.UpdateQuote(quote(4500))

	old, err := e.PlaceOrder(ctx, broker.Order{
		Symbol: "@ES#", Action: broker.Sell, Quantity: 1, Type: broker.Stop, Stop: 4498,
	})
	require.NoError(t, err)

	repl, err := e.ModifyOrder(ctx, old, broker.Order{
		Symbol: "@ES#", Action: broker.Sell, Quantity: 1, Type: broker.Stop, Stop: 4499,
	})
	require.NoError(t, err)
	assert.NotEqual(t, old, repl)

	oss, _ := e.Orders(ctx, broker.Filter{OrderID: old})
	assert.Equal(t, broker.StatusCancelled, oss[0].Status)
	oss, _ = e.Orders(ctx, broker.Filter{OrderID: repl})
	assert.Equal(t, broker.StatusOpen, oss[0].Status)

	// Only open orders can be replaced.
	_, err = e.ModifyOrder(ctx, old, broker.Order{Symbol: "@ES#", Action: broker.Sell, Quantity: 1, Type: broker.Stop, Stop: 4499})
	assert.Error(t, err)
}

func TestPositionNetting(t *testing.T) {
	t.Parallel()

	e := newEngine()
	ctx := context.Background()
	e.UpdateQuote(quote(4500))

	_, err := e.PlaceOrder(ctx, broker.Order{Symbol: "@ES#", Action: broker.Buy, Quantity: 2, Type: broker.Market})
	require.NoError(t, err)

	// Reversal: sell four, flipping +2 into -2 at the new fill price.
	_, err = e.PlaceOrder(ctx, broker.Order{Symbol: "@ES#", Action: broker.Sell, Quantity: 4, Type: broker.Market})
	require.NoError(t, err)

	pos, err := e.Positions(ctx, "@ES#")
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, -2, pos[0].Quantity)
	assert.Equal(t, 4499.75, pos[0].StrikePrice) // sells hit the bid

	// Covering the short leaves the book flat.
	_, err = e.PlaceOrder(ctx, broker.Order{Symbol: "@ES#", Action: broker.BuyToCover, Quantity: 2, Type: broker.Market})
	require.NoError(t, err)

	pos, err = e.Positions(ctx, "@ES#")
	require.NoError(t, err)
	assert.Empty(t, pos)
}

func TestSubscribersHearFillsFirst(t *testing.T) {
	t.Parallel()

	e := newEngine()
	ctx := context.Background()
	e.UpdateQuote(quote(4500))

	id, err := e.PlaceOrder(ctx, broker.Order{
		Symbol: "@ES#", Action: broker.Sell, Quantity: 1, Type: broker.Stop, Stop: 4498,
	})
	require.NoError(t, err)

	var statusAtQuote broker.Status
	sub, err := e.Subscribe("@ES#", func(q market.Quote) {
		oss, _ := e.Orders(ctx, broker.Filter{OrderID: id})
		statusAtQuote = oss[0].Status
	})
	require.NoError(t, err)
	defer e.Unsubscribe(sub)

	e.UpdateQuote(quote(4497))
	assert.Equal(t, broker.StatusFilled, statusAtQuote)
}

func TestPlaceOrderValidation(t *testing.T) {
	t.Parallel()

	e := newEngine()
	ctx := context.Background()

	_, err := e.PlaceOrder(ctx, broker.Order{Symbol: "@ES#", Action: broker.Buy, Quantity: 0, Type: broker.Market})
	assert.Error(t, err)

	_, err = e.PlaceOrder(ctx, broker.Order{
		Symbol: "@ES#", Action: broker.Buy, Quantity: 1, Type: broker.Limit, Limit: 4500, Stop: 4490,
	})
	assert.Error(t, err)
}
