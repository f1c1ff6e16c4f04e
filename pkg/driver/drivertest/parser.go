package drivertest

import (
	"context"

	"buildctl/pkg/command"
	"buildctl/pkg/driver"
	"buildctl/pkg/gcode"
)

// NewEchoParser returns a gcode.Parser that turns every line into a
// single command.Command recording the line against rec. It ignores
// target, so the same parser drives both the machine and simulator
// targets in tests.
func NewEchoParser(rec *Fake) gcode.Parser {
	return func(line string, target gcode.Target) ([]command.Command, error) {
		return []command.Command{
			command.Func(func(ctx context.Context, d driver.Core) error {
				rec.record(line)
				return nil
			}),
		}, nil
	}
}
