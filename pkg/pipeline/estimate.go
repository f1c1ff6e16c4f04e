package pipeline

import (
	"context"
	"time"

	"buildctl/pkg/driver"
	"buildctl/pkg/gcode"
)

// EstimatePerCommand is the fixed per-command duration the measuring
// driver assumes when no better model is available.
const EstimatePerCommand = 50 * time.Millisecond

// measuringDriver satisfies driver.Core without touching hardware; it
// only accumulates an estimated duration, one EstimatePerCommand per
// command run against it.
type measuringDriver struct {
	total time.Duration
}

func (d *measuringDriver) Initialize(context.Context) error   { return nil }
func (d *measuringDriver) Uninitialize(context.Context) error { return nil }
func (d *measuringDriver) IsInitialized() bool                { return true }
func (d *measuringDriver) Dispose(context.Context) error      { return nil }
func (d *measuringDriver) Reset(context.Context) error        { return nil }
func (d *measuringDriver) Stop(context.Context, bool) error   { return nil }
func (d *measuringDriver) Pause(context.Context) error        { return nil }
func (d *measuringDriver) Unpause(context.Context) error      { return nil }
func (d *measuringDriver) IsFinished() bool                   { return true }
func (d *measuringDriver) CheckErrors() error                 { return nil }
func (d *measuringDriver) GetCurrentPosition() (driver.Position, error) {
	return driver.Position{}, nil
}
func (d *measuringDriver) InvalidatePosition() {}
func (d *measuringDriver) ReadTemperature() (driver.ToolStatus, error) {
	return driver.ToolStatus{}, nil
}
func (d *measuringDriver) GetMachineName() string { return "estimator" }

// Estimate reuses the same parse-and-execute contract as a real build,
// against a measuring driver that never touches hardware, to produce a
// duration estimate for source (plus warmup/cooldown) without mutating
// any state machine or emitting events.
func Estimate(parser gcode.Parser, warmup, cooldown, source gcode.Source, target gcode.Target) (time.Duration, error) {
	md := &measuringDriver{}
	for _, seg := range []gcode.Source{warmup, source, cooldown} {
		for {
			line, ok := seg.Next()
			if !ok {
				break
			}
			cmds, err := parser(line, target)
			if err != nil {
				return md.total, err
			}
			for _, cmd := range cmds {
				if err := cmd.Run(context.Background(), md); err == nil {
					md.total += EstimatePerCommand
				}
			}
		}
		_ = seg.Reset()
	}
	return md.total, nil
}
