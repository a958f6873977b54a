// Package poll bounds the repeated status checks a controller makes against
// a slow, asynchronous counterparty. A Tracker spends one attempt per
// scheduler cycle and reports exhaustion as a distinct, recognizable error
// so callers can tell "the broker never confirmed" apart from "the broker
// refused".
package poll

import (
	"errors"
	"time"

	"github.com/jpillora/backoff"
)

// ErrExhausted is returned once a Tracker runs out of attempts. It means the
// expected condition was never observed in time, not that any single call
// failed.
var ErrExhausted = errors.New("poll: attempts exhausted")

// Tracker is a bounded attempt budget with a backoff curve. It is not safe
// for concurrent use; each protocol keeps its own.
type Tracker struct {
	max   int
	spent int
	b     *backoff.Backoff
}

// New builds a Tracker allowing max attempts. The wait hint grows from min
// toward cap with each attempt.
func New(max int, min, cap time.Duration) *Tracker {
	return &Tracker{
		max: max,
		b: &backoff.Backoff{
			Min:    min,
			Max:    cap,
			Factor: 1.5,
		},
	}
}

// Fixed builds a Tracker whose wait hint never grows.
func Fixed(max int, interval time.Duration) *Tracker {
	return &Tracker{
		max: max,
		b: &backoff.Backoff{
			Min:    interval,
			Max:    interval,
			Factor: 1,
		},
	}
}

// Next spends one attempt. It returns how long the caller should wait before
// the next check, or ErrExhausted once the budget is gone.
func (t *Tracker) Next() (time.Duration, error) {
	if t.spent >= t.max {
		return 0, ErrExhausted
	}
	t.spent++
	return t.b.Duration(), nil
}

// Remaining reports how many attempts are left.
func (t *Tracker) Remaining() int {
	return t.max - t.spent
}

// Reset restores the full budget and the initial wait hint.
func (t *Tracker) Reset() {
	t.spent = 0
	t.b.Reset()
}
