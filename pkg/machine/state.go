// Package machine implements the build controller's finite state machine:
// the (phase, paused) tuple, its transition table, and a mutex-guarded
// state machine that records transition history and wakes a waiting worker.
package machine

import (
	"fmt"
	"sync"
	"time"
)

// State is the machine's top-level phase.
type State string

const (
	NotAttached    State = "NOT_ATTACHED"
	Connecting     State = "CONNECTING"
	Ready          State = "READY"
	Building       State = "BUILDING"
	BuildingRemote State = "BUILDING_REMOTE"
	Stopping       State = "STOPPING"
	Reset          State = "RESET"
)

// TransitionTable enumerates the states reachable from each state. It is
// consulted by StateMachine.TransitionTo before any mutation.
var TransitionTable = map[State][]State{
	NotAttached:    {Connecting},
	Connecting:     {Ready, NotAttached},
	Ready:          {Building, BuildingRemote, Reset, Connecting, NotAttached},
	Building:       {Stopping, Ready, Connecting, Reset, NotAttached},
	BuildingRemote: {Stopping, Ready, Reset, NotAttached},
	Stopping:       {Ready, Connecting, NotAttached},
	Reset:          {Ready, NotAttached},
}

// IsValidTransition reports whether to is reachable from from per TransitionTable.
func IsValidTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range TransitionTable[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MachineState is the externally-visible (phase, paused) tuple. Values
// handed to callers are always copies; see StateMachine.Snapshot.
type MachineState struct {
	Phase  State
	Paused bool
}

// IsBuilding reports whether the machine is actively driving a build.
func (s MachineState) IsBuilding() bool {
	return s.Phase == Building || s.Phase == BuildingRemote
}

// IsConnected reports whether a driver session is established.
func (s MachineState) IsConnected() bool {
	return s.Phase != NotAttached && s.Phase != Connecting
}

// IsReady reports whether the machine is idle and ready to accept work.
func (s MachineState) IsReady() bool {
	return s.Phase == Ready
}

func (s MachineState) String() string {
	if s.Paused {
		return fmt.Sprintf("%s(paused)", s.Phase)
	}
	return string(s.Phase)
}

// Transition records one state change for history/debugging.
type Transition struct {
	From, To  MachineState
	Timestamp time.Time
}

// StateMachine guards a MachineState behind a mutex, validates every
// mutation against TransitionTable, keeps a bounded transition history,
// and wakes anyone waiting on its condition variable (see Cond).
//
// Pause/Unpause are represented as mutation of the Paused field without a
// Phase change; TransitionTo enforces `paused ⇒ isBuilding`.
type StateMachine struct {
	mu       sync.Mutex
	cond     *sync.Cond
	current  MachineState
	history  []Transition
	maxHist  int
	notifyCh chan struct{}
}

// NewStateMachine creates a machine starting in NOT_ATTACHED.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		current:  MachineState{Phase: NotAttached},
		maxHist:  64,
		notifyCh: make(chan struct{}, 1),
	}
	sm.cond = sync.NewCond(&sm.mu)
	return sm
}

// Snapshot returns an immutable copy of the current state.
func (sm *StateMachine) Snapshot() MachineState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// TransitionTo moves to a new phase, validating against TransitionTable.
// It preserves the current Paused flag unless the destination leaves
// isBuilding, in which case Paused is cleared. Every successful mutation
// records history and notifies waiters.
func (sm *StateMachine) TransitionTo(to State) error {
	sm.mu.Lock()
	from := sm.current
	if !IsValidTransition(from.Phase, to) {
		sm.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", from.Phase, to)
	}

	next := MachineState{Phase: to, Paused: from.Paused}
	if !next.IsBuilding() {
		next.Paused = false
	}
	sm.current = next
	sm.record(from, next)
	sm.mu.Unlock()

	sm.wake()
	return nil
}

// SetPaused toggles Paused without changing Phase. Pause requires
// isBuilding ∧ ¬paused; Unpause requires isBuilding ∧ paused — callers
// should check preconditions via Snapshot before calling, matching the
// dispatch table's per-request preconditions.
func (sm *StateMachine) SetPaused(paused bool) error {
	sm.mu.Lock()
	from := sm.current
	if !from.IsBuilding() {
		sm.mu.Unlock()
		return fmt.Errorf("cannot set paused=%v while not building (phase=%s)", paused, from.Phase)
	}
	next := MachineState{Phase: from.Phase, Paused: paused}
	sm.current = next
	sm.record(from, next)
	sm.mu.Unlock()

	sm.wake()
	return nil
}

func (sm *StateMachine) record(from, to MachineState) {
	sm.history = append(sm.history, Transition{From: from, To: to, Timestamp: time.Now()})
	if len(sm.history) > sm.maxHist {
		sm.history = sm.history[len(sm.history)-sm.maxHist:]
	}
}

// History returns a copy of the recorded transitions, oldest first.
func (sm *StateMachine) History() []Transition {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]Transition, len(sm.history))
	copy(out, sm.history)
	return out
}

// wake notifies both the condition variable (used by the worker's blocking
// wait) and the non-blocking notification channel (used by callers that
// prefer select-based polling). The mutex is held across the Broadcast so
// a waiter that has checked its condition but not yet parked cannot miss
// the signal.
func (sm *StateMachine) wake() {
	sm.mu.Lock()
	sm.cond.Broadcast()
	sm.mu.Unlock()
	select {
	case sm.notifyCh <- struct{}{}:
	default:
	}
}

// Wake notifies waiters without mutating state. Callers outside the
// package use this to fold their own signals (e.g. a freshly scheduled
// request) into the single condition variable the worker blocks on.
func (sm *StateMachine) Wake() {
	sm.wake()
}

// Notify returns the notification channel written on every wake; at most
// one signal is buffered. It lets the worker fold state changes into a
// select alongside timers and context cancellation.
func (sm *StateMachine) Notify() <-chan struct{} {
	return sm.notifyCh
}

// Cond exposes the underlying condition variable so the worker can block
// on it alongside queue and pause wake-ups without a second lock.
func (sm *StateMachine) Cond() *sync.Cond {
	return sm.cond
}

// Lock/Unlock let the worker hold the same mutex across a compound
// check-then-wait sequence (e.g. "wait while phase == READY").
func (sm *StateMachine) Lock()   { sm.mu.Lock() }
func (sm *StateMachine) Unlock() { sm.mu.Unlock() }

// CurrentLocked returns the current state; caller must hold the lock via
// Lock/Unlock.
func (sm *StateMachine) CurrentLocked() MachineState {
	return sm.current
}
