package machine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsValidTransition(t *testing.T) {
	require.True(t, IsValidTransition(NotAttached, Connecting))
	require.True(t, IsValidTransition(Connecting, Ready))
	require.True(t, IsValidTransition(Connecting, NotAttached))
	require.True(t, IsValidTransition(Ready, Building))
	require.True(t, IsValidTransition(Ready, BuildingRemote))
	require.True(t, IsValidTransition(Building, Stopping))
	require.True(t, IsValidTransition(Stopping, Ready))
	require.True(t, IsValidTransition(Stopping, Connecting))
	require.True(t, IsValidTransition(Ready, Reset))
	require.True(t, IsValidTransition(Reset, Ready))

	require.False(t, IsValidTransition(NotAttached, Building))
	require.False(t, IsValidTransition(NotAttached, Reset))
}

func TestIsValidTransitionRejectsUnreachable(t *testing.T) {
	require.False(t, IsValidTransition(NotAttached, Building))
	require.False(t, IsValidTransition(NotAttached, Ready))
	require.False(t, IsValidTransition(Connecting, Building))
}

func TestIsValidTransitionSameStateAlwaysAllowed(t *testing.T) {
	for s := range TransitionTable {
		require.True(t, IsValidTransition(s, s))
	}
}

func TestPredicates(t *testing.T) {
	require.True(t, MachineState{Phase: Building}.IsBuilding())
	require.True(t, MachineState{Phase: BuildingRemote}.IsBuilding())
	require.False(t, MachineState{Phase: Ready}.IsBuilding())

	require.False(t, MachineState{Phase: NotAttached}.IsConnected())
	require.False(t, MachineState{Phase: Connecting}.IsConnected())
	require.True(t, MachineState{Phase: Ready}.IsConnected())
	require.True(t, MachineState{Phase: Building}.IsConnected())

	require.True(t, MachineState{Phase: Ready}.IsReady())
	require.False(t, MachineState{Phase: Building}.IsReady())
}

func TestStateMachineTransitionToRejectsInvalid(t *testing.T) {
	sm := NewStateMachine()
	require.Equal(t, NotAttached, sm.Snapshot().Phase)

	err := sm.TransitionTo(Building)
	require.Error(t, err)
	require.Equal(t, NotAttached, sm.Snapshot().Phase)
}

func TestStateMachineTransitionToSucceeds(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.TransitionTo(Connecting))
	require.Equal(t, Connecting, sm.Snapshot().Phase)
	require.NoError(t, sm.TransitionTo(Ready))
	require.Equal(t, Ready, sm.Snapshot().Phase)
}

// TestPauseInvariant verifies "paused ⇒ isBuilding" — leaving a building
// phase always clears Paused, even if the caller forgot to Unpause first.
func TestPauseInvariant(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.TransitionTo(Connecting))
	require.NoError(t, sm.TransitionTo(Ready))
	require.NoError(t, sm.TransitionTo(Building))
	require.NoError(t, sm.SetPaused(true))
	require.True(t, sm.Snapshot().Paused)

	require.NoError(t, sm.TransitionTo(Stopping))
	require.False(t, sm.Snapshot().Paused)
}

func TestSetPausedRequiresBuilding(t *testing.T) {
	sm := NewStateMachine()
	err := sm.SetPaused(true)
	require.Error(t, err)
}

func TestSnapshotIsImmutableCopy(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.TransitionTo(Connecting))
	snap := sm.Snapshot()
	snap.Phase = Building // mutating the returned copy must not affect sm
	require.Equal(t, Connecting, sm.Snapshot().Phase)
}

func TestHistoryRecordsTransitions(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.TransitionTo(Connecting))
	require.NoError(t, sm.TransitionTo(Ready))

	hist := sm.History()
	require.Len(t, hist, 2)
	require.Equal(t, NotAttached, hist[0].From.Phase)
	require.Equal(t, Connecting, hist[0].To.Phase)
	require.Equal(t, Connecting, hist[1].From.Phase)
	require.Equal(t, Ready, hist[1].To.Phase)
}

func TestWakeBroadcastsToWaiters(t *testing.T) {
	sm := NewStateMachine()
	woke := make(chan struct{})

	go func() {
		sm.Lock()
		for sm.CurrentLocked().Phase == NotAttached {
			sm.Cond().Wait()
		}
		sm.Unlock()
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sm.TransitionTo(Connecting))

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by TransitionTo")
	}
}

func TestStringReflectsPaused(t *testing.T) {
	s := MachineState{Phase: Building, Paused: true}
	require.Equal(t, "BUILDING(paused)", s.String())

	s.Paused = false
	require.Equal(t, "BUILDING", s.String())
}
