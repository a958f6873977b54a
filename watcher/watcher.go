// Package watcher runs a single-trade lifecycle controller: one goroutine
// that owns a macro-state machine and alternates between draining external
// commands and invoking the active state's protocol handler. All trading
// judgement lives behind the Policy interface; the core only schedules,
// validates transitions, and reports.
package watcher

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"follower/bus"
)

// ErrTransition reports a move the transition table does not allow.
var ErrTransition = errors.New("illegal transition")

// Policy supplies the domain behavior for one controller. Every method runs
// on the controller goroutine, so implementations need no locking of their
// own for state reached only through these calls.
//
// Command handlers validate and act immediately (the caller has already been
// decoupled by the queue). State handlers receive the active microstate,
// perform at most one step of their protocol, and return; pacing is set
// through the microstate's CycleControl.
//
// A returned error or a panic from any method is a protocol violation: the
// core forces the controller into StateBug, bypassing the transition table.
// Expected failures (broker refusals, market trouble) are not errors in this
// sense; handlers absorb those by transitioning to StateFailed themselves.
type Policy interface {
	// NewMicrostate returns the scratch variant for s. Called whenever s is
	// entered without existing scratch, or when a fresh transition asks for
	// a clean slate.
	NewMicrostate(s State) Microstate

	CmdBuy(BuyCommand) error
	CmdSellShort(SellShortCommand) error
	CmdGoFlat() error
	CmdGoHalfFlat() error
	CmdReverse() error
	CmdPanic() error
	CmdPing() error

	RunDormant(Microstate) error
	RunSeekingEntry(Microstate) error
	RunPendingEntry(Microstate) error
	RunHot(Microstate) error
	RunPendingFlat(Microstate) error
	RunPendingHalfFlat(Microstate) error
	RunPendingReversal(Microstate) error
	RunReversal(Microstate) error
	RunPendingPanic(Microstate) error
	RunPanic(Microstate) error
	RunFlat(Microstate) error
}

// Options configures a Watcher.
type Options struct {
	// Name tags log lines when a process runs several controllers.
	Name string
	// FreshMicrostates recreates a state's scratch on every entry instead
	// of only after dormant. Useful in tests.
	FreshMicrostates bool
	Logger           zerolog.Logger
}

// Watcher is the controller core. Construct with New, attach a Policy, then
// Start. All exported methods are safe for concurrent use.
type Watcher struct {
	policy Policy
	bus    *bus.Bus
	log    zerolog.Logger
	fresh  bool

	mu         sync.Mutex
	queue      []Command
	state      State
	micro      map[State]Microstate
	freshEntry bool // next microstate lookup must build anew

	wake chan struct{}
	done chan struct{}

	startOnce sync.Once
}

// New builds a stopped controller in StateDead. The bus is required; pass a
// fresh one if no listeners are wanted.
func New(policy Policy, b *bus.Bus, opts Options) *Watcher {
	name := opts.Name
	if name == "" {
		name = "watcher"
	}
	return &Watcher{
		policy: policy,
		bus:    b,
		log:    opts.Logger.With().Str("watcher", name).Logger(),
		fresh:  opts.FreshMicrostates,
		state:  StateDead,
		micro:  make(map[State]Microstate),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the controller goroutine. Subsequent calls are no-ops.
func (w *Watcher) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Done is closed once the controller goroutine has exited.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// CurrentState returns the current macro-state and its human label.
func (w *Watcher) CurrentState() (State, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.state.Label()
}

// Enqueue appends cmd and wakes the controller if it is sleeping or parked.
// It never blocks and never fails; commands sent to a finished controller
// are silently dropped when the goroutine is gone.
func (w *Watcher) Enqueue(cmd Command) {
	w.mu.Lock()
	w.queue = append(w.queue, cmd)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Shutdown asks the controller to exit after the current handler returns.
func (w *Watcher) Shutdown() {
	w.Enqueue(ShutdownCommand{})
}

// Statusf publishes a timestamped free-text status line.
func (w *Watcher) Statusf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	w.log.Info().Msg(msg)
	w.bus.Publish(bus.TopicStatus, bus.SubUpdate,
		fmt.Sprintf("%s >>%s", time.Now().Format("2006-01-02 15:04:05"), msg))
}

// AnnounceState republishes the current state without changing it. Ping
// handlers use it to refresh listeners that joined late.
func (w *Watcher) AnnounceState(contracts int, note string) {
	st, _ := w.CurrentState()
	w.bus.Publish(bus.TopicState, bus.SubTransition, st, contracts, note)
}

// TransitionTo moves the machine to a successor state, reporting the move on
// the bus. contracts and note flesh out the announcement; contracts is zero
// when no position is in play. Illegal moves are rejected with an error and
// leave the state untouched.
func (w *Watcher) TransitionTo(to State, contracts int, note string) error {
	return w.transition(to, contracts, note, false)
}

// FreshTransitionTo is TransitionTo, discarding any scratch the destination
// state accumulated earlier in this trade.
func (w *Watcher) FreshTransitionTo(to State, contracts int, note string) error {
	return w.transition(to, contracts, note, true)
}

func (w *Watcher) transition(to State, contracts int, note string, freshEntry bool) error {
	w.mu.Lock()
	from := w.state
	if !legalTransition(from, to) {
		w.mu.Unlock()
		return fmt.Errorf("%w %s -> %s", ErrTransition, from, to)
	}
	w.state = to
	if to == StateDormant {
		// A finished trade leaves nothing behind for the next one.
		w.micro = make(map[State]Microstate)
	}
	w.freshEntry = freshEntry
	w.mu.Unlock()

	w.announce(from, to, contracts, note)
	return nil
}

func (w *Watcher) announce(from, to State, contracts int, note string) {
	w.log.Info().
		Stringer("from", from).
		Stringer("to", to).
		Int("contracts", contracts).
		Str("note", note).
		Msg("state transition")
	w.bus.Publish(bus.TopicState, bus.SubTransition, to, contracts, note)
	if to.Terminal() {
		w.log.Error().Stringer("state", to).Msg("controller needs attention")
		w.bus.Publish(bus.TopicStatus, bus.SubUpdate,
			fmt.Sprintf("ALARM: %s", to.Label()))
	}
}

// forceBug is the loop's unconditional capture. It ignores the transition
// table: whatever the machine was doing, it is now provably broken.
func (w *Watcher) forceBug(contracts int, note string) {
	w.mu.Lock()
	from := w.state
	w.state = StateBug
	w.mu.Unlock()

	w.announce(from, StateBug, contracts, note)
}

func (w *Watcher) run() {
	defer close(w.done)

	if err := w.transition(StateDormant, 0, "controller started", false); err != nil {
		w.forceBug(0, fmt.Sprintf("boot: %v", err))
	}

	for {
		if cmd := w.dequeue(); cmd != nil {
			if _, ok := cmd.(ShutdownCommand); ok {
				w.Statusf("shutting down")
				return
			}
			w.Statusf("%s command received", cmd.Name())
			w.dispatch(cmd)
			continue
		}

		st, _ := w.CurrentState()
		if st.Terminal() {
			// Parked. Only a command can be serviced from here.
			<-w.wake
			continue
		}

		m := w.microstateFor(st)
		m.CycleControl().SleepQuantum = DefaultSleepQuantum
		w.runState(st, m)
		w.sleep(m.CycleControl().SleepQuantum)
	}
}

func (w *Watcher) dequeue() Command {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	cmd := w.queue[0]
	w.queue = w.queue[1:]
	return cmd
}

// sleep waits out the quantum but returns early when Enqueue signals.
func (w *Watcher) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-w.wake:
	}
}

func (w *Watcher) microstateFor(st State) Microstate {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.micro[st]
	if m == nil || w.fresh || w.freshEntry {
		m = w.policy.NewMicrostate(st)
		w.micro[st] = m
		w.freshEntry = false
	}
	return m
}

func (w *Watcher) dispatch(cmd Command) {
	err := w.guard(func() error {
		switch c := cmd.(type) {
		case BuyCommand:
			return w.policy.CmdBuy(c)
		case SellShortCommand:
			return w.policy.CmdSellShort(c)
		case GoFlatCommand:
			return w.policy.CmdGoFlat()
		case GoHalfFlatCommand:
			return w.policy.CmdGoHalfFlat()
		case ReverseCommand:
			return w.policy.CmdReverse()
		case PanicCommand:
			return w.policy.CmdPanic()
		case PingCommand:
			return w.policy.CmdPing()
		default:
			return fmt.Errorf("unknown command %T", cmd)
		}
	})
	if err != nil {
		w.log.Error().Err(err).Str("command", cmd.Name()).Msg("command handler failed")
		w.forceBug(0, fmt.Sprintf("%s command: %v", cmd.Name(), err))
	}
}

func (w *Watcher) runState(st State, m Microstate) {
	err := w.guard(func() error {
		switch st {
		case StateDormant:
			return w.policy.RunDormant(m)
		case StateSeekingEntry:
			return w.policy.RunSeekingEntry(m)
		case StatePendingEntry:
			return w.policy.RunPendingEntry(m)
		case StateHot:
			return w.policy.RunHot(m)
		case StatePendingFlat:
			return w.policy.RunPendingFlat(m)
		case StatePendingHalfFlat:
			return w.policy.RunPendingHalfFlat(m)
		case StatePendingReversal:
			return w.policy.RunPendingReversal(m)
		case StateReversal:
			return w.policy.RunReversal(m)
		case StatePendingPanic:
			return w.policy.RunPendingPanic(m)
		case StatePanic:
			return w.policy.RunPanic(m)
		case StateFlat:
			return w.policy.RunFlat(m)
		default:
			return fmt.Errorf("no handler for state %s", st)
		}
	})
	if err != nil {
		w.log.Error().Err(err).Stringer("state", st).Msg("state handler failed")
		w.forceBug(0, fmt.Sprintf("%s handler: %v", st, err))
	}
}

// guard converts a panic in policy code into an ordinary error so the loop
// can record it and keep the process alive.
func (w *Watcher) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
