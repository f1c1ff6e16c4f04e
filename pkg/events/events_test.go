package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"buildctl/pkg/machine"
)

type recordingListener struct {
	events []Event
}

func (r *recordingListener) OnEvent(e Event) { r.events = append(r.events, e) }

func TestAddListenerReplaysInitialStateBeforeFirstTransition(t *testing.T) {
	e := NewEmitter(machine.MachineState{Phase: machine.NotAttached})
	l := &recordingListener{}
	e.AddListener(l)

	require.Len(t, l.events, 1)
	require.Equal(t, KindStateChange, l.events[0].Kind)
	require.Equal(t, machine.NotAttached, l.events[0].StateChange.Current.Phase)
}

func TestAddListenerReplaysLastStateChange(t *testing.T) {
	e := NewEmitter(machine.MachineState{Phase: machine.NotAttached})
	e.EmitStateChange(StateChange{
		Prev:    machine.MachineState{Phase: machine.NotAttached},
		Current: machine.MachineState{Phase: machine.Connecting},
	})

	l := &recordingListener{}
	e.AddListener(l)
	require.Len(t, l.events, 1)
	require.Equal(t, KindStateChange, l.events[0].Kind)
	require.Equal(t, machine.Connecting, l.events[0].StateChange.Current.Phase)
}

func TestEmitDispatchesToAllListeners(t *testing.T) {
	e := NewEmitter(machine.MachineState{Phase: machine.NotAttached})
	a, b := &recordingListener{}, &recordingListener{}
	e.AddListener(a)
	e.AddListener(b)

	e.EmitProgress(Progress{LinesProcessed: 1, LinesTotal: 10})

	// Each listener has its registration replay plus the progress event.
	require.Len(t, a.events, 2)
	require.Len(t, b.events, 2)
	require.Equal(t, KindProgress, a.events[1].Kind)
}

func TestRemoveListenerStopsFutureDelivery(t *testing.T) {
	e := NewEmitter(machine.MachineState{Phase: machine.NotAttached})
	l := &recordingListener{}
	e.AddListener(l)
	require.Len(t, l.events, 1) // registration replay

	e.RemoveListener(l)

	e.EmitProgress(Progress{LinesProcessed: 1})
	require.Len(t, l.events, 1) // unchanged: removed before the progress emission
}

// TestListenerSafetyDuringEmission covers invariant 7: adding or removing
// a listener while an emission is in flight does not affect the emission
// already in progress, only subsequent ones.
func TestListenerSafetyDuringEmission(t *testing.T) {
	e := NewEmitter(machine.MachineState{Phase: machine.NotAttached})
	observedDuringFirst := &recordingListener{}
	var addedMidEmission *recordingListener

	selfModifying := ListenerFunc(func(ev Event) {
		observedDuringFirst.OnEvent(ev)
		if ev.Kind == KindProgress && addedMidEmission == nil {
			addedMidEmission = &recordingListener{}
			e.AddListener(addedMidEmission)
		}
	})
	e.AddListener(selfModifying) // fires the registration replay immediately

	e.EmitProgress(Progress{LinesProcessed: 1})
	// addedMidEmission's own registration replay fires synchronously inside
	// AddListener, but it must not also receive the Progress(1) emission
	// already in flight when it registered.
	require.Len(t, addedMidEmission.events, 1)
	require.Equal(t, KindStateChange, addedMidEmission.events[0].Kind)

	e.EmitProgress(Progress{LinesProcessed: 2})
	require.Len(t, addedMidEmission.events, 2)
	require.Equal(t, KindProgress, addedMidEmission.events[1].Kind)
	require.Equal(t, 2, addedMidEmission.events[1].Progress.LinesProcessed)
}

func TestListenerFuncAdapter(t *testing.T) {
	var got Event
	l := ListenerFunc(func(e Event) { got = e })
	l.OnEvent(Event{Kind: KindToolStatus})
	require.Equal(t, KindToolStatus, got.Kind)
}
