// Package command defines the unit of work the build pipeline dispatches
// against a driver: a Command that either succeeds, asks to be retried, or
// raises a stop condition with a user-visible reason.
package command

import (
	"context"
	"errors"
	"fmt"

	"buildctl/pkg/driver"
)

// ErrRetry signals a transient failure: the pipeline must re-run the same
// command on its next iteration without consuming a new source line.
var ErrRetry = errors.New("command: retry")

// StopKind classifies why a command is halting the current build segment.
type StopKind string

const (
	UnconditionalHalt StopKind = "UNCONDITIONAL_HALT"
	ProgramEnd        StopKind = "PROGRAM_END"
	OptionalHalt      StopKind = "OPTIONAL_HALT"
	ProgramRewind     StopKind = "PROGRAM_REWIND"
)

// StopError is raised by a Command to end the current build segment. Kind
// drives whether the pipeline shows an informational dialog (most kinds)
// or asks the user yes/no (OptionalHalt); see pkg/pipeline.
type StopError struct {
	Kind    StopKind
	Message string
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop[%s]: %s", e.Kind, e.Message)
}

// Command is a unit of work executable against a driver.
type Command interface {
	// Run executes against driver. It returns ErrRetry for a transient
	// failure the pipeline should retry, a *StopError to end the segment,
	// or any other error, which ends the build with that error.
	Run(ctx context.Context, d driver.Core) error
}

// Func adapts a plain function to Command.
type Func func(ctx context.Context, d driver.Core) error

func (f Func) Run(ctx context.Context, d driver.Core) error { return f(ctx, d) }
