package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"buildctl/pkg/events"
	"buildctl/pkg/machine"
)

func TestListenerRecordsProgress(t *testing.T) {
	reg := NewRegistry("printer-1")
	l := NewListener(reg)

	l.OnEvent(events.Event{
		Kind: events.KindProgress,
		Progress: events.Progress{
			ElapsedMs:      2000,
			LinesProcessed: 42,
			LinesTotal:     100,
		},
	})

	require.Equal(t, float64(42), testutil.ToFloat64(reg.LinesProcessed))
	require.Equal(t, float64(100), testutil.ToFloat64(reg.LinesTotal))
	require.Equal(t, float64(2), testutil.ToFloat64(reg.BuildDuration))
}

func TestListenerTracksStateTransitions(t *testing.T) {
	reg := NewRegistry("printer-1")
	l := NewListener(reg)

	l.OnEvent(events.Event{
		Kind: events.KindStateChange,
		StateChange: events.StateChange{
			Current: machine.MachineState{Phase: machine.Ready},
		},
	})
	require.Equal(t, float64(1), testutil.ToFloat64(reg.StateCurrent.WithLabelValues(string(machine.Ready))))

	l.OnEvent(events.Event{
		Kind: events.KindStateChange,
		StateChange: events.StateChange{
			Current: machine.MachineState{Phase: machine.Building},
		},
	})
	require.Equal(t, float64(0), testutil.ToFloat64(reg.StateCurrent.WithLabelValues(string(machine.Ready))))
	require.Equal(t, float64(1), testutil.ToFloat64(reg.StateCurrent.WithLabelValues(string(machine.Building))))
}
