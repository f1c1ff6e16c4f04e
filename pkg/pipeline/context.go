package pipeline

import (
	"time"

	"buildctl/pkg/gcode"
)

// BuildContext is the worker-local state for one build: which source and
// target it targets, progress counters, and the polling schedule. It is
// owned exclusively by the worker goroutine running the pipeline.
type BuildContext struct {
	CurrentSource gcode.Source
	CurrentTarget gcode.Target
	RemoteName    string

	LinesProcessed int
	LinesTotal     int

	StartTime          time.Time
	EstimatedBuildTime time.Duration

	PollingEnabled bool
	PollInterval   time.Duration
	LastPolled     time.Time
}

// Elapsed returns how long the build has been running.
func (bc *BuildContext) Elapsed() time.Duration {
	if bc.StartTime.IsZero() {
		return 0
	}
	return time.Since(bc.StartTime)
}
