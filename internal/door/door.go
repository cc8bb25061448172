// Package door implements the open/close state machine of a single
// physical door.
//
// A door opens on an open signal and closes once HoldOpen has passed
// without another signal. Each signal while open re-arms the deadline; at
// most one close timer is ever live. A timer that fires after it has been
// superseded is ignored, so a refresh that races the old deadline never
// lets the door close early.
package door

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultHoldOpen is how long a door stays open after the last signal.
const DefaultHoldOpen = 10 * time.Second

// State is the position of the door.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Transition is reported to the observer on every state change and on every
// deadline refresh while open (From == To == Open).
type Transition struct {
	DoorID   int
	From     State
	To       State
	At       time.Time
	Deadline time.Time // zero when To is Closed
}

// Refresh reports whether the transition only moved the deadline.
func (t Transition) Refresh() bool {
	return t.From == Open && t.To == Open
}

// Door is safe for concurrent use.
type Door struct {
	mu       sync.Mutex
	id       int
	clock    clockwork.Clock
	holdOpen time.Duration
	observer func(Transition)

	state    State
	timer    clockwork.Timer
	gen      uint64
	deadline time.Time
}

// Option configures a Door.
type Option func(*Door)

// WithObserver registers fn to receive every transition. fn runs after the
// door's lock is released and must not block for long.
func WithObserver(fn func(Transition)) Option {
	return func(d *Door) { d.observer = fn }
}

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(d *Door) { d.clock = c }
}

// New returns a closed door. A non-positive holdOpen falls back to
// DefaultHoldOpen.
func New(id int, holdOpen time.Duration, opts ...Option) *Door {
	if holdOpen <= 0 {
		holdOpen = DefaultHoldOpen
	}
	d := &Door{
		id:       id,
		clock:    clockwork.NewRealClock(),
		holdOpen: holdOpen,
		state:    Closed,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open handles an open signal. It returns true when the door was closed and
// is now open, false when an already open door had its deadline re-armed.
func (d *Door) Open() bool {
	d.mu.Lock()
	from := d.state
	now := d.clock.Now()

	// Replace and cancel under the same lock so there is never a second
	// live timer, and bump the generation so a timer already past Stop
	// recognises itself as stale.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.state = Open
	d.deadline = now.Add(d.holdOpen)
	d.timer = d.clock.AfterFunc(d.holdOpen, func() { d.expire(gen) })

	tr := Transition{DoorID: d.id, From: from, To: Open, At: now, Deadline: d.deadline}
	d.mu.Unlock()

	d.notify(tr)
	return from == Closed
}

// expire closes the door if gen is still the current arming.
func (d *Door) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.state != Open {
		d.mu.Unlock()
		return
	}
	tr := d.closeLocked()
	d.mu.Unlock()

	d.notify(tr)
}

// Close forces the door shut and cancels any pending deadline. Closing a
// closed door is a no-op.
func (d *Door) Close() {
	d.mu.Lock()
	if d.state == Closed {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	tr := d.closeLocked()
	d.mu.Unlock()

	d.notify(tr)
}

func (d *Door) closeLocked() Transition {
	d.state = Closed
	d.timer = nil
	d.deadline = time.Time{}
	return Transition{DoorID: d.id, From: Open, To: Closed, At: d.clock.Now()}
}

func (d *Door) notify(tr Transition) {
	if d.observer != nil {
		d.observer(tr)
	}
}

// IsOpen reports the current state.
func (d *Door) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == Open
}

// State returns the current state.
func (d *Door) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Deadline returns when an open door will close.
func (d *Door) Deadline() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deadline, d.state == Open
}

// ID returns the hub-assigned identity.
func (d *Door) ID() int {
	return d.id
}
