// Package events implements the build controller's event emitter:
// synchronous, snapshot-before-dispatch delivery of state-change,
// progress, and tool-status events to registered listeners.
package events

import (
	"sync"
	"time"

	"buildctl/pkg/driver"
	"buildctl/pkg/machine"
)

// Kind tags which of the three event shapes an Event carries.
type Kind int

const (
	KindStateChange Kind = iota
	KindProgress
	KindToolStatus
)

// StateChange is delivered synchronously inside the worker and replayed
// to a listener immediately upon registration.
type StateChange struct {
	Prev, Current machine.MachineState
}

// Progress is emitted after each processed line during a build, and again
// on each retry pass of a line.
type Progress struct {
	ElapsedMs      int64
	EstimatedMs    int64
	LinesProcessed int
	LinesTotal     int
}

// ToolStatus is emitted from status polling when temperature monitoring
// is enabled. PollLatency is how long the underlying temperature read
// took.
type ToolStatus struct {
	Tool        driver.ToolStatus
	PollLatency time.Duration
}

// Event is the envelope delivered to every Listener.
type Event struct {
	Kind        Kind
	StateChange StateChange
	Progress    Progress
	ToolStatus  ToolStatus
}

// Listener receives events. Implementations must not block for long: they
// run synchronously on the worker goroutine.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Emitter guards a listener list and the last state-change event, so a
// newly-registered listener can be replayed the current state without
// the worker having to re-derive it. Emission takes a snapshot of the
// listener list before iterating, so adding/removing a listener during
// dispatch never affects the emission in progress (invariant 7).
type Emitter struct {
	mu        sync.RWMutex
	listeners []Listener
	lastState StateChange
}

// NewEmitter creates an emitter seeded with initial as the state it
// replays to every listener registered before the first real transition.
// A listener must see a current-state event immediately on registration
// regardless of whether a transition has happened yet.
func NewEmitter(initial machine.MachineState) *Emitter {
	return &Emitter{lastState: StateChange{Prev: initial, Current: initial}}
}

// AddListener registers l and immediately delivers the current state to
// it, whether or not a transition has occurred since the emitter was
// created.
func (e *Emitter) AddListener(l Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	last := e.lastState
	e.mu.Unlock()

	l.OnEvent(Event{Kind: KindStateChange, StateChange: last})
}

// RemoveListener drops the first registration of l, if present.
func (e *Emitter) RemoveListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.listeners {
		if existing == l {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// snapshot returns the current listener list without holding the lock
// during dispatch.
func (e *Emitter) snapshot() []Listener {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Listener, len(e.listeners))
	copy(out, e.listeners)
	return out
}

// EmitStateChange publishes a state transition and remembers it for
// replay to future AddListener calls.
func (e *Emitter) EmitStateChange(sc StateChange) {
	e.mu.Lock()
	e.lastState = sc
	e.mu.Unlock()

	e.dispatch(Event{Kind: KindStateChange, StateChange: sc})
}

// EmitProgress publishes a progress event.
func (e *Emitter) EmitProgress(p Progress) {
	e.dispatch(Event{Kind: KindProgress, Progress: p})
}

// EmitToolStatus publishes a tool-status event.
func (e *Emitter) EmitToolStatus(ts ToolStatus) {
	e.dispatch(Event{Kind: KindToolStatus, ToolStatus: ts})
}

func (e *Emitter) dispatch(ev Event) {
	for _, l := range e.snapshot() {
		l.OnEvent(ev)
	}
}
