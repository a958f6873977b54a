package broker

import (
	"context"
	"fmt"
	"time"

	"follower/market"
)

// Action is the broker-side order action.
type Action string

const (
	Buy        Action = "BUY"
	Sell       Action = "SELL"
	SellShort  Action = "SHORT"
	BuyToCover Action = "COVER"
)

// OrderType selects how the order prices itself.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
	Stop   OrderType = "STOP"
)

// Status is the broker-reported lifecycle of an order.
type Status string

const (
	StatusOpen      Status = "Open"
	StatusFilled    Status = "Filled"
	StatusCancelled Status = "Cancelled"
)

// Order is a request to the gateway. Quantity is always positive; direction
// is carried by Action. Exactly one of Limit/Stop may be set; both zero
// means a market order.
type Order struct {
	Symbol   string
	Action   Action
	Quantity int
	Type     OrderType
	Limit    float64
	Stop     float64
}

// OrderStatus is the broker's view of a placed order.
type OrderStatus struct {
	OrderID   string
	Symbol    string
	Action    Action
	Quantity  int
	Type      OrderType
	Limit     float64
	Stop      float64
	Status    Status
	FillPrice float64
	FillTime  time.Time
	Placed    time.Time
}

// Position is an open position as the broker reports it. Quantity is signed:
// negative means short.
type Position struct {
	PositionID  string
	Symbol      string
	Quantity    int
	StrikePrice float64
	Opened      time.Time
}

// Filter narrows an Orders query. Zero values match everything.
type Filter struct {
	Symbol  string
	Status  Status
	OrderID string
}

// Gateway is the capability set the trade controller consumes from a broker.
// Calls block until the broker answers; failures surface as *Error carrying
// the broker's message.
type Gateway interface {
	PlaceOrder(ctx context.Context, o Order) (orderID string, err error)
	ModifyOrder(ctx context.Context, orderID string, o Order) (newOrderID string, err error)
	CancelOrder(ctx context.Context, orderID string) error
	Orders(ctx context.Context, f Filter) ([]OrderStatus, error)
	Positions(ctx context.Context, symbol string) ([]Position, error)
	FuturesData(ctx context.Context, symbol string) (market.FuturesMeta, error)
}

// Error is a broker-reported failure: the market or the broker refused the
// operation. It is the "expected but adverse" class of failure, distinct
// from programming errors.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker: %s: %s", e.Op, e.Message)
}

// Errorf builds a broker Error for the given operation.
func Errorf(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...)}
}
