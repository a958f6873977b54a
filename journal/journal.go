// Package journal is the append-only audit trail of broker traffic. The
// controller writes a record for every order it places, modifies or cancels;
// nothing in the trading path ever reads the records back.
package journal

import "time"

// Event is what happened to an order at the broker.
type Event string

const (
	EventPlace  Event = "place"
	EventModify Event = "modify"
	EventCancel Event = "cancel"
)

// Leg is the role an order plays within a trade's lifecycle.
type Leg string

const (
	LegEntry    Leg = "entry"
	LegExit     Leg = "exit"
	LegStop     Leg = "stop"
	LegReversal Leg = "reversal"
)

// OrderEvent is one audit record. Contracts is signed (negative for short
// exposure); PrevOrderID is set only for modifications.
type OrderEvent struct {
	Time        time.Time
	Event       Event
	Leg         Leg
	Symbol      string
	Contracts   int
	Limit       float64
	Stop        float64
	OrderID     string
	PrevOrderID string
}

type Journal interface {
	RecordOrder(OrderEvent) error
	Close() error
}

// Nop discards every record. Useful for paper trading and tests that do not
// care about the audit trail.
type Nop struct{}

func (Nop) RecordOrder(OrderEvent) error { return nil }
func (Nop) Close() error                 { return nil }
