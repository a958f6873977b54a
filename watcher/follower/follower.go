// Package follower implements the trailing-stop trade policy: enter roughly
// at the market, protect the position with a stop order, and ratchet that
// stop toward the price as profit accumulates. One Follower manages one
// instrument and at most one open position at a time.
package follower

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"follower/broker"
	"follower/bus"
	"follower/journal"
	"follower/market"
	"follower/watcher"
)

// Tunable parameters accepted on Buy and SellShort, with their defaults.
var fields = []watcher.Field{
	{Name: "limit_off", Kind: watcher.FieldFloat, Default: 0.25,
		Label: "Limit Offset", Description: "Limit offset from current"},
	{Name: "market_ord", Kind: watcher.FieldBool, Default: false,
		Label: "Market", Description: "Market order (immediate entry)"},
	{Name: "stop_off", Kind: watcher.FieldFloat, Default: 2.00,
		Label: "Stop Offset", Description: "Initial stopout offset from current"},
	{Name: "stop_off_even", Kind: watcher.FieldFloat, Default: 2.00,
		Label: "Upg to Even", Description: "Arm the stop ratchet when point profit goes above this"},
	{Name: "hour_sigmoid", Kind: watcher.FieldFloat, Default: 2.0,
		Label: "Hour Sigmoid", Description: "Ratchet ramp interval in hours"},
	{Name: "commissions", Kind: watcher.FieldFloat, Default: 6.99,
		Label: "Commissions", Description: "Price per contract (not including fees)"},
}

// Fields returns the static parameter metadata for input surfaces.
func Fields() []watcher.Field { return fields }

// Options wires a Follower to its market and reporting surfaces. Gateway,
// Feed and Bus are required; Journal defaults to the no-op recorder.
type Options struct {
	Gateway broker.Gateway
	Feed    market.QuoteFeed
	Journal journal.Journal
	Bus     *bus.Bus
	Logger  zerolog.Logger

	// Name tags log lines and the bus status stream.
	Name string
	// HotInterval throttles the in-trade check cycle. Defaults to 5s.
	HotInterval time.Duration
	// Context bounds broker calls. Defaults to context.Background().
	Context context.Context
}

// Follower is the policy plus its trade ledger. All trading fields are
// written only on the controller goroutine; the mutex exists so Snapshot can
// read them from outside.
type Follower struct {
	gw   broker.Gateway
	feed market.QuoteFeed
	jnl  journal.Journal
	bus  *bus.Bus
	log  zerolog.Logger
	ctx  context.Context
	w    *watcher.Watcher

	hotInterval time.Duration

	armed atomic.Bool

	quoteMu sync.Mutex
	quote   market.Quote
	haveQ   bool
	sub     market.Subscription
	haveSub bool
	subSym  string

	mu sync.Mutex

	// trade setup
	future       string
	futureBroker string
	contracts    int
	limitOff     float64
	marketOrd    bool
	stopOff      float64
	stopOffEven  float64
	hourSigmoid  float64
	commissions  float64

	// instrument
	meta      market.FuturesMeta
	brokerFee float64

	// working orders
	orderIDEntry string
	orderIDStop  string
	orderIDExit  string
	stopOrder    *broker.OrderStatus

	limitEntry float64
	stopOut    float64

	// ledger
	strike      float64
	strikeTime  time.Time
	tradePL     float64
	lastTradePL float64
	havePrev    bool
	totalPL     float64
	balance     float64
	lastCalc    time.Time
}

// New builds a Follower and its controller. Call Start on the result to
// bring the state machine to dormant.
func New(o Options) *Follower {
	if o.Journal == nil {
		o.Journal = journal.Nop{}
	}
	if o.HotInterval <= 0 {
		o.HotInterval = 5 * time.Second
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	name := o.Name
	if name == "" {
		name = "follower"
	}
	f := &Follower{
		gw:          o.Gateway,
		feed:        o.Feed,
		jnl:         o.Journal,
		bus:         o.Bus,
		log:         o.Logger.With().Str("policy", name).Logger(),
		ctx:         o.Context,
		hotInterval: o.HotInterval,
	}
	f.w = watcher.New(f, o.Bus, watcher.Options{Name: name, Logger: o.Logger})
	return f
}

// Watcher exposes the controller for commands and state queries.
func (f *Follower) Watcher() *watcher.Watcher { return f.w }

// Start launches the controller goroutine.
func (f *Follower) Start() { f.w.Start() }

// Close releases the quote subscription. Call after the controller is done.
func (f *Follower) Close() error {
	f.quoteMu.Lock()
	defer f.quoteMu.Unlock()
	if !f.haveSub {
		return nil
	}
	f.haveSub = false
	return f.feed.Unsubscribe(f.sub)
}

// Arm switches between live order routing and paper simulation of fills.
// Flipping it mid-trade is the operator's own risk.
func (f *Follower) Arm(on bool) { f.armed.Store(on) }

// Armed reports whether orders are routed to the broker.
func (f *Follower) Armed() bool { return f.armed.Load() }

// Snapshot is a point-in-time copy of the trade ledger for displays and
// tests.
type Snapshot struct {
	Contracts  int
	Strike     float64
	StopOut    float64
	LimitEntry float64
	TradePL    float64
	TotalPL    float64
	Balance    float64
}

// Snapshot reads the ledger without disturbing the controller.
func (f *Follower) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		Contracts:  f.contracts,
		Strike:     f.strike,
		StopOut:    f.stopOut,
		LimitEntry: f.limitEntry,
		TradePL:    f.tradePL,
		TotalPL:    f.totalPL,
		Balance:    f.balance,
	}
}

// applyParams resets every tunable to its default, then overlays p. Unknown
// keys are logged and dropped; a wrongly typed value is an error.
func (f *Follower) applyParams(p watcher.Params) error {
	f.limitOff = 0.25
	f.marketOrd = false
	f.stopOff = 2.00
	f.stopOffEven = 2.00
	f.hourSigmoid = 2.0
	f.commissions = 6.99

	for k, v := range p {
		switch k {
		case "limit_off", "stop_off", "stop_off_even", "hour_sigmoid", "commissions":
			fv, err := floatParam(k, v)
			if err != nil {
				return err
			}
			switch k {
			case "limit_off":
				f.limitOff = fv
			case "stop_off":
				f.stopOff = fv
			case "stop_off_even":
				f.stopOffEven = fv
			case "hour_sigmoid":
				f.hourSigmoid = fv
			case "commissions":
				f.commissions = fv
			}
		case "market_ord":
			bv, ok := v.(bool)
			if !ok {
				return fmt.Errorf("param market_ord: want bool, got %T", v)
			}
			f.marketOrd = bv
		default:
			f.log.Warn().Str("param", k).Msg("unknown parameter ignored")
		}
	}
	return nil
}

func floatParam(name string, v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("param %s: want float, got %T", name, v)
	}
}

// Command handlers. Each validates by attempting the transition; a command
// issued from the wrong state is a caller protocol violation and surfaces as
// StateBug through the returned error.

func (f *Follower) CmdBuy(c watcher.BuyCommand) error {
	return f.enterTrade(c.Future, c.FutureBroker, c.Contracts, c.Params, "BUY")
}

func (f *Follower) CmdSellShort(c watcher.SellShortCommand) error {
	return f.enterTrade(c.Future, c.FutureBroker, -c.Contracts, c.Params, "SHORT")
}

func (f *Follower) enterTrade(future, futureBroker string, contracts int, p watcher.Params, verb string) error {
	f.mu.Lock()
	f.future = future
	f.futureBroker = futureBroker
	f.contracts = contracts
	err := f.applyParams(p)
	note := fmt.Sprintf("%s %d %s (%s) contract(s), limit offset %v, market order? %v, stop offset %v, commissions $%v",
		verb, abs(contracts), future, futureBroker, f.limitOff, f.marketOrd, f.stopOff, f.commissions)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.w.TransitionTo(watcher.StateSeekingEntry, contracts, note)
}

func (f *Follower) CmdGoFlat() error {
	return f.w.TransitionTo(watcher.StatePendingFlat,
		f.contractsHeld(), f.armt()+" Flatten your position.")
}

func (f *Follower) CmdGoHalfFlat() error {
	return f.w.TransitionTo(watcher.StatePendingHalfFlat,
		f.contractsHeld(), f.armt()+" Dumping half your position.")
}

func (f *Follower) CmdReverse() error {
	return f.w.TransitionTo(watcher.StatePendingReversal,
		f.contractsHeld(), f.armt()+" Reverse your position.")
}

func (f *Follower) CmdPanic() error {
	return f.w.TransitionTo(watcher.StatePendingPanic,
		f.contractsHeld(), f.armt()+" Attempting to cancel all outstanding orders!")
}

func (f *Follower) CmdPing() error {
	f.w.AnnounceState(f.contractsHeld(), "")
	return nil
}

func (f *Follower) contractsHeld() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contracts
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
