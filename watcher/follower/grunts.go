package follower

import (
	"fmt"
	"time"

	"follower/broker"
	"follower/journal"
	"follower/market"
	"follower/watcher"
)

// Grunt work: the plumbing between the state handlers and the broker, quote
// feed and audit journal.

// fail transitions to StateFailed with a formatted note. Handlers return its
// result so a broken transition (which should be impossible, failed is
// reachable from every active state) still surfaces as a bug.
func (f *Follower) fail(format string, args ...any) error {
	note := fmt.Sprintf(format, args...)
	f.log.Error().Msg(note)
	return f.w.TransitionTo(watcher.StateFailed, f.contractsHeld(), note)
}

// armt is the short armed/paper marker used in status lines.
func (f *Follower) armt() string {
	if f.Armed() {
		return "<ARMED>"
	}
	return "(paper)"
}

func (f *Follower) lors() string {
	switch {
	case f.contracts > 0:
		return "LONG"
	case f.contracts < 0:
		return "SHORT"
	}
	return "<<ERR>>"
}

func (f *Follower) lorm() string {
	if f.marketOrd {
		return "MARKET"
	}
	return "LIMIT"
}

// fetchFuturesInfo pulls contract metadata and the per-side broker fee.
func (f *Follower) fetchFuturesInfo() error {
	meta, err := f.gw.FuturesData(f.ctx, f.futureBroker)
	if err != nil {
		return fmt.Errorf("futures data %s: %w", f.futureBroker, err)
	}
	if meta.TickSize <= 0 || meta.TickValue <= 0 {
		return fmt.Errorf("futures data %s: bad tick geometry %v/%v",
			f.futureBroker, meta.TickSize, meta.TickValue)
	}
	f.mu.Lock()
	f.meta = meta
	f.brokerFee = meta.Fee
	f.mu.Unlock()
	return nil
}

// startQuoteFeed subscribes to the data-feed symbol, replacing any earlier
// subscription. The callback runs on the feed's goroutine.
func (f *Follower) startQuoteFeed() error {
	f.quoteMu.Lock()
	if f.haveSub && f.subSym == f.future {
		f.quoteMu.Unlock()
		return nil
	}
	if f.haveSub {
		_ = f.feed.Unsubscribe(f.sub)
		f.haveSub = false
	}
	f.quoteMu.Unlock()

	sub, err := f.feed.Subscribe(f.future, func(q market.Quote) {
		f.quoteMu.Lock()
		f.quote = q
		f.haveQ = true
		f.quoteMu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", f.future, err)
	}

	f.quoteMu.Lock()
	f.sub = sub
	f.subSym = f.future
	f.haveSub = true
	f.quoteMu.Unlock()
	return nil
}

// lastQuote returns the freshest quote, if one has arrived yet.
func (f *Follower) lastQuote() (market.Quote, bool) {
	f.quoteMu.Lock()
	defer f.quoteMu.Unlock()
	return f.quote, f.haveQ
}

func (f *Follower) openOrders() ([]broker.OrderStatus, error) {
	return f.gw.Orders(f.ctx, broker.Filter{Symbol: f.futureBroker, Status: broker.StatusOpen})
}

// orderByID looks up one order regardless of symbol or status.
func (f *Follower) orderByID(id string) (*broker.OrderStatus, error) {
	oss, err := f.gw.Orders(f.ctx, broker.Filter{OrderID: id})
	if err != nil {
		return nil, err
	}
	if len(oss) == 0 {
		return nil, nil
	}
	return &oss[0], nil
}

func (f *Follower) openPositions() ([]broker.Position, error) {
	return f.gw.Positions(f.ctx, f.futureBroker)
}

// actionOrderType derives the broker action from the trade leg and the
// signed contract count, and the order type from the price parameters.
func actionOrderType(leg journal.Leg, contracts int, limit, stop float64) (broker.Action, broker.OrderType, error) {
	var action broker.Action
	switch {
	case contracts > 0:
		if leg == journal.LegEntry {
			action = broker.Buy
		} else {
			action = broker.BuyToCover
		}
	case contracts < 0:
		if leg == journal.LegEntry {
			action = broker.SellShort
		} else {
			action = broker.Sell
		}
	default:
		return "", "", fmt.Errorf("contract size must not be zero")
	}

	var otype broker.OrderType
	switch {
	case limit > 0 && stop == 0:
		otype = broker.Limit
	case stop > 0 && limit == 0:
		otype = broker.Stop
	case limit == 0 && stop == 0:
		otype = broker.Market
	default:
		return "", "", fmt.Errorf("invalid limit/stop parameters %v/%v", limit, stop)
	}
	return action, otype, nil
}

// legContracts flips the signed count for the closing legs: an exit trades
// against the position, a reversal trades through it at double size.
func legContracts(leg journal.Leg, contracts int) int {
	switch leg {
	case journal.LegExit, journal.LegStop:
		return -contracts
	case journal.LegReversal:
		return -2 * contracts
	}
	return contracts
}

// placeOrder routes one order for the given leg and records it in the audit
// journal. contracts is the position's signed count; the leg determines the
// traded direction. Zero limit and stop means a market order.
func (f *Follower) placeOrder(leg journal.Leg, contracts int, limit, stop float64) (string, error) {
	c := legContracts(leg, contracts)
	action, otype, err := actionOrderType(leg, c, limit, stop)
	if err != nil {
		return "", err
	}
	id, err := f.gw.PlaceOrder(f.ctx, broker.Order{
		Symbol:   f.futureBroker,
		Action:   action,
		Quantity: abs(c),
		Type:     otype,
		Limit:    limit,
		Stop:     stop,
	})
	if err != nil {
		return "", fmt.Errorf("place %s order: %w", leg, err)
	}
	f.recordOrder(journal.OrderEvent{
		Time:      time.Now(),
		Event:     journal.EventPlace,
		Leg:       leg,
		Symbol:    f.futureBroker,
		Contracts: c,
		Limit:     limit,
		Stop:      stop,
		OrderID:   id,
	})
	return id, nil
}

// modifyOrder replaces a resting order, returning the id that supersedes the
// old one.
func (f *Follower) modifyOrder(leg journal.Leg, orderID string, contracts int, limit, stop float64) (string, error) {
	c := legContracts(leg, contracts)
	action, otype, err := actionOrderType(leg, c, limit, stop)
	if err != nil {
		return "", err
	}
	id, err := f.gw.ModifyOrder(f.ctx, orderID, broker.Order{
		Symbol:   f.futureBroker,
		Action:   action,
		Quantity: abs(c),
		Type:     otype,
		Limit:    limit,
		Stop:     stop,
	})
	if err != nil {
		return "", fmt.Errorf("modify order %s: %w", orderID, err)
	}
	f.recordOrder(journal.OrderEvent{
		Time:        time.Now(),
		Event:       journal.EventModify,
		Leg:         leg,
		Symbol:      f.futureBroker,
		Contracts:   c,
		Limit:       limit,
		Stop:        stop,
		OrderID:     id,
		PrevOrderID: orderID,
	})
	return id, nil
}

func (f *Follower) cancelOrder(orderID string) error {
	if err := f.gw.CancelOrder(f.ctx, orderID); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	f.recordOrder(journal.OrderEvent{
		Time:    time.Now(),
		Event:   journal.EventCancel,
		Symbol:  f.futureBroker,
		OrderID: orderID,
	})
	return nil
}

// recordOrder writes to the audit journal. A journal failure never aborts a
// trade in flight; it is logged and the trade proceeds.
func (f *Follower) recordOrder(ev journal.OrderEvent) {
	if err := f.jnl.RecordOrder(ev); err != nil {
		f.log.Error().Err(err).Str("order", ev.OrderID).Msg("journal write failed")
	}
}
