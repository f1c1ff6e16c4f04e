// Package queue implements the unbounded multi-producer/single-consumer
// request queue the worker drains: schedule(request) always succeeds and
// never blocks, and wakes the worker.
package queue

import (
	"sync"

	"github.com/google/uuid"

	"buildctl/pkg/command"
	"buildctl/pkg/gcode"
)

// Kind tags a JobRequest's variant.
type Kind int

const (
	Connect Kind = iota
	Disconnect
	Reset
	Pause
	Unpause
	Stop
	DisconnectRemoteBuild
	Simulate
	BuildDirect
	BuildToFile
	BuildToRemoteFile
	BuildRemote
	RunCommand
)

func (k Kind) String() string {
	switch k {
	case Connect:
		return "Connect"
	case Disconnect:
		return "Disconnect"
	case Reset:
		return "Reset"
	case Pause:
		return "Pause"
	case Unpause:
		return "Unpause"
	case Stop:
		return "Stop"
	case DisconnectRemoteBuild:
		return "DisconnectRemoteBuild"
	case Simulate:
		return "Simulate"
	case BuildDirect:
		return "BuildDirect"
	case BuildToFile:
		return "BuildToFile"
	case BuildToRemoteFile:
		return "BuildToRemoteFile"
	case BuildRemote:
		return "BuildRemote"
	case RunCommand:
		return "RunCommand"
	default:
		return "Unknown"
	}
}

// Request is the tagged union of worker-bound intents. Only the fields
// relevant to Kind are populated; this is the Go-native replacement for a
// payload union with per-variant nullable fields.
type Request struct {
	ID     string
	Kind   Kind
	Source gcode.Source // BuildDirect, BuildToFile, BuildToRemoteFile
	Name   string       // BuildToFile, BuildToRemoteFile, BuildRemote (remote name / path)
	Cmd    command.Command

	// Done, if non-nil, is closed by the consumer after applying the
	// request, letting a caller block for completion (e.g. disconnect()'s
	// synchronous contract) without the request bypassing the queue.
	Done chan error
}

// NewRequest builds a Request of kind with a fresh ID.
func NewRequest(kind Kind) Request {
	return Request{ID: uuid.NewString(), Kind: kind}
}

// Queue is an unbounded MPSC FIFO. Schedule is non-blocking and always
// succeeds; Drain returns every request enqueued so far, preserving
// submission order, and is how the worker polls at the top of its loop
// and at line boundaries mid-build.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Request
	closed  bool
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Schedule enqueues req and wakes any consumer blocked in Wait.
func (q *Queue) Schedule(req Request) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, req)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Drain removes and returns all currently pending requests in enqueue
// order. It never blocks.
func (q *Queue) Drain() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// Cond exposes the condition variable guarding the queue so a worker can
// fold queue wake-ups into a single select/wait alongside state and pause
// notifications.
func (q *Queue) Cond() *sync.Cond {
	return q.cond
}

// Len reports the number of pending requests; mainly for tests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close marks the queue closed; further Schedule calls are silently
// dropped. Used during dispose to stop accepting new work.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
