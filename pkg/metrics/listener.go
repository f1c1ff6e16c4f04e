package metrics

import "buildctl/pkg/events"

// Listener adapts a Registry into an events.Listener so a controller's
// emitter can drive the gauges directly, the same way eventlog.Writer
// taps the emitter for durable logging.
type Listener struct {
	reg       *Registry
	lastPhase string
}

// NewListener wraps reg as an events.Listener.
func NewListener(reg *Registry) *Listener {
	return &Listener{reg: reg}
}

// OnEvent implements events.Listener.
func (l *Listener) OnEvent(evt events.Event) {
	switch evt.Kind {
	case events.KindStateChange:
		phase := string(evt.StateChange.Current.Phase)
		if l.lastPhase != "" && l.lastPhase != phase {
			l.reg.StateCurrent.WithLabelValues(l.lastPhase).Set(0)
		}
		l.reg.StateCurrent.WithLabelValues(phase).Set(1)
		l.lastPhase = phase
	case events.KindProgress:
		p := evt.Progress
		l.reg.LinesProcessed.Set(float64(p.LinesProcessed))
		l.reg.LinesTotal.Set(float64(p.LinesTotal))
		l.reg.BuildDuration.Set(float64(p.ElapsedMs) / 1000.0)
	case events.KindToolStatus:
		if evt.ToolStatus.PollLatency > 0 {
			l.reg.PollLatency.Observe(evt.ToolStatus.PollLatency.Seconds())
		}
	}
}
