// Package sim is an in-process futures broker and quote feed. It fills
// market orders against the current quote, rests limit and stop orders until
// price trades through them, and tracks one net position per symbol. The
// trade controller drives it through the same interfaces it uses for a real
// broker, which makes it the workhorse of the test suite and of paper
// sessions.
package sim

import (
	"context"
	"sync"
	"time"

	"follower/broker"
	"follower/market"
	"follower/pkg/id"
)

type Engine struct {
	mu        sync.Mutex
	futures   map[string]market.FuturesMeta
	quotes    *market.QuoteStore
	orders    map[string]*broker.OrderStatus
	positions map[string]*broker.Position
	subs      map[string]map[int]func(market.Quote)
	nextSub   int
}

func NewEngine() *Engine {
	return &Engine{
		futures:   make(map[string]market.FuturesMeta),
		quotes:    market.NewQuoteStore(),
		orders:    make(map[string]*broker.OrderStatus),
		positions: make(map[string]*broker.Position),
		subs:      make(map[string]map[int]func(market.Quote)),
	}
}

// SetFutures registers contract metadata for a symbol. FuturesData refuses
// symbols that were never registered, like a broker refusing an unknown
// instrument.
func (e *Engine) SetFutures(meta market.FuturesMeta) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.futures[meta.Symbol] = meta
}

func (e *Engine) FuturesData(ctx context.Context, symbol string) (market.FuturesMeta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	meta, ok := e.futures[symbol]
	if !ok {
		return market.FuturesMeta{}, broker.Errorf("futures data", "unknown symbol %s", symbol)
	}
	return meta, nil
}

// UpdateQuote publishes a new market snapshot: resting orders for the symbol
// are matched first, then subscribers hear about the quote. By the time a
// callback fires, any fill the quote caused is already visible through
// Orders and Positions.
func (e *Engine) UpdateQuote(q market.Quote) {
	e.mu.Lock()
	e.quotes.Set(q)
	for _, os := range e.orders {
		if os.Symbol != q.Symbol || os.Status != broker.StatusOpen {
			continue
		}
		e.matchLocked(os, q)
	}
	fns := make([]func(market.Quote), 0, len(e.subs[q.Symbol]))
	for _, fn := range e.subs[q.Symbol] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(q)
	}
}

func (e *Engine) Subscribe(symbol string, fn func(market.Quote)) (market.Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs[symbol] == nil {
		e.subs[symbol] = make(map[int]func(market.Quote))
	}
	e.nextSub++
	e.subs[symbol][e.nextSub] = fn
	return market.Subscription{Symbol: symbol, ID: e.nextSub}, nil
}

func (e *Engine) Unsubscribe(sub market.Subscription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs[sub.Symbol], sub.ID)
	if len(e.subs[sub.Symbol]) == 0 {
		delete(e.subs, sub.Symbol)
	}
	return nil
}

func (e *Engine) PlaceOrder(ctx context.Context, o broker.Order) (string, error) {
	if o.Quantity <= 0 {
		return "", broker.Errorf("place order", "quantity must be positive, got %d", o.Quantity)
	}
	if o.Limit != 0 && o.Stop != 0 {
		return "", broker.Errorf("place order", "limit and stop are mutually exclusive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	os := &broker.OrderStatus{
		OrderID:  id.New(),
		Symbol:   o.Symbol,
		Action:   o.Action,
		Quantity: o.Quantity,
		Type:     o.Type,
		Limit:    o.Limit,
		Stop:     o.Stop,
		Status:   broker.StatusOpen,
		Placed:   time.Now(),
	}
	e.orders[os.OrderID] = os

	// A marketable order fills against the latest quote right away.
	if q, err := e.quotes.Get(o.Symbol); err == nil {
		e.matchLocked(os, q)
	}
	return os.OrderID, nil
}

// ModifyOrder is cancel-and-replace: the old order dies, the replacement
// gets a fresh id and competes against the current quote immediately.
func (e *Engine) ModifyOrder(ctx context.Context, orderID string, o broker.Order) (string, error) {
	e.mu.Lock()
	old, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return "", broker.Errorf("modify order", "unknown order %s", orderID)
	}
	if old.Status != broker.StatusOpen {
		e.mu.Unlock()
		return "", broker.Errorf("modify order", "order %s is %s, not open", orderID, old.Status)
	}
	old.Status = broker.StatusCancelled
	e.mu.Unlock()

	return e.PlaceOrder(ctx, o)
}

func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	os, ok := e.orders[orderID]
	if !ok {
		return broker.Errorf("cancel order", "unknown order %s", orderID)
	}
	if os.Status != broker.StatusOpen {
		return broker.Errorf("cancel order", "order %s is %s, not open", orderID, os.Status)
	}
	os.Status = broker.StatusCancelled
	return nil
}

func (e *Engine) Orders(ctx context.Context, f broker.Filter) ([]broker.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []broker.OrderStatus
	for _, os := range e.orders {
		if f.Symbol != "" && os.Symbol != f.Symbol {
			continue
		}
		if f.Status != "" && os.Status != f.Status {
			continue
		}
		if f.OrderID != "" && os.OrderID != f.OrderID {
			continue
		}
		out = append(out, *os)
	}
	return out, nil
}

func (e *Engine) Positions(ctx context.Context, symbol string) ([]broker.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []broker.Position
	for _, pos := range e.positions {
		if symbol != "" && pos.Symbol != symbol {
			continue
		}
		out = append(out, *pos)
	}
	return out, nil
}

func buySide(a broker.Action) bool {
	return a == broker.Buy || a == broker.BuyToCover
}

// matchLocked fills os against q if it is marketable. Market orders trade at
// the touch, limits at their price, stops at the last that triggered them.
func (e *Engine) matchLocked(os *broker.OrderStatus, q market.Quote) {
	if !q.Valid() {
		return
	}

	var price float64
	switch os.Type {
	case broker.Market:
		price = q.Ask
		if !buySide(os.Action) {
			price = q.Bid
		}
	case broker.Limit:
		if buySide(os.Action) {
			if q.Last > os.Limit {
				return
			}
		} else if q.Last < os.Limit {
			return
		}
		price = os.Limit
	case broker.Stop:
		if buySide(os.Action) {
			if q.Last < os.Stop {
				return
			}
		} else if q.Last > os.Stop {
			return
		}
		price = q.Last
	default:
		return
	}

	os.Status = broker.StatusFilled
	os.FillPrice = price
	os.FillTime = q.Time
	if os.FillTime.IsZero() {
		os.FillTime = time.Now()
	}
	e.applyFillLocked(os)
}

// applyFillLocked folds a fill into the symbol's net position. Crossing
// through zero (a reversal) starts a new position at the fill price.
func (e *Engine) applyFillLocked(os *broker.OrderStatus) {
	delta := os.Quantity
	if !buySide(os.Action) {
		delta = -delta
	}

	pos, ok := e.positions[os.Symbol]
	if !ok {
		e.positions[os.Symbol] = &broker.Position{
			PositionID:  id.New(),
			Symbol:      os.Symbol,
			Quantity:    delta,
			StrikePrice: os.FillPrice,
			Opened:      os.FillTime,
		}
		return
	}

	next := pos.Quantity + delta
	switch {
	case next == 0:
		delete(e.positions, os.Symbol)
	case (next > 0) != (pos.Quantity > 0):
		// Flipped through flat.
		e.positions[os.Symbol] = &broker.Position{
			PositionID:  id.New(),
			Symbol:      os.Symbol,
			Quantity:    next,
			StrikePrice: os.FillPrice,
			Opened:      os.FillTime,
		}
	default:
		// Adds blend the strike; partial exits keep it.
		if (delta > 0) == (pos.Quantity > 0) {
			oldW := float64(abs(pos.Quantity))
			addW := float64(abs(delta))
			pos.StrikePrice = (pos.StrikePrice*oldW + os.FillPrice*addW) / (oldW + addW)
		}
		pos.Quantity = next
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
