package pipeline

import (
	"context"
	"fmt"
	"time"

	"buildctl/pkg/driver"
	"buildctl/pkg/gcode"
	"buildctl/pkg/machine"
)

// abortBuild moves the state machine through STOPPING (and, via the
// worker's next dispatch, on to READY) when a build is abandoned before
// BuildInternal ever starts running it. Without this, the phase is left
// stuck at BUILDING with currentSource/currentTarget untouched, so the
// worker's next loop iteration dispatches straight back into the same
// failing capture call with no backoff.
func (p *Pipeline) abortBuild(cause error) error {
	if err := p.transitionTo(machine.Stopping); err != nil {
		p.cfg.Logger.Error("abort transition to STOPPING failed: %v", err)
	}
	return cause
}

// BuildToRemoteFile captures warmup/source/cooldown to on-device storage
// under name. A non-Success response from BeginCapture is translated into
// a dialog via driver.SDErrorMessages and the build never starts.
func (p *Pipeline) BuildToRemoteFile(ctx context.Context, bc *BuildContext, warmup, cooldown, source gcode.Source, name string) error {
	sd, ok := driver.AsSDCapture(p.cfg.Driver)
	if !ok {
		return p.abortBuild(fmt.Errorf("driver does not support SD capture"))
	}

	code, err := sd.BeginCapture(ctx, name)
	if err != nil {
		return p.abortBuild(fmt.Errorf("begin capture: %w", err))
	}
	if code != driver.Success {
		msg := driver.SDErrorMessages[code]
		p.cfg.Prompt.Info(msg)
		return p.abortBuild(&SDResponseError{Message: msg})
	}

	runErr := p.BuildInternal(ctx, bc, warmup, cooldown, source, gcode.TargetRemoteFile)

	written, endErr := sd.EndCapture(ctx)
	if endErr != nil {
		p.cfg.Logger.Warn("end capture failed: %v", endErr)
	} else {
		p.cfg.Logger.Info("captured %d bytes to %s", written, name)
	}
	return runErr
}

// BuildToFile captures warmup/source/cooldown to a host file at path.
func (p *Pipeline) BuildToFile(ctx context.Context, bc *BuildContext, warmup, cooldown, source gcode.Source, path string) error {
	cap, ok := driver.AsCapture(p.cfg.Driver)
	if !ok {
		return p.abortBuild(fmt.Errorf("driver does not support file capture"))
	}

	if err := cap.BeginFileCapture(ctx, path); err != nil {
		return p.abortBuild(fmt.Errorf("begin file capture: %w", err))
	}

	runErr := p.BuildInternal(ctx, bc, warmup, cooldown, source, gcode.TargetFile)

	if err := cap.EndFileCapture(ctx); err != nil {
		p.cfg.Logger.Warn("end file capture failed: %v", err)
	}
	return runErr
}

// BuildRemote instructs the device to replay a previously captured stream
// name from its own storage. A non-Success playback response moves the
// machine to STOPPING; otherwise it polls IsFinished every second,
// honouring pause/stop, and finishes in READY.
func (p *Pipeline) BuildRemote(ctx context.Context, name string) error {
	sd, ok := driver.AsSDCapture(p.cfg.Driver)
	if !ok {
		return p.abortBuild(fmt.Errorf("driver does not support SD playback"))
	}

	code, err := sd.Playback(ctx, name)
	if err != nil {
		return p.abortBuild(fmt.Errorf("playback: %w", err))
	}
	if code != driver.Success {
		msg := driver.SDErrorMessages[code]
		p.cfg.Prompt.Info(msg)
		return p.transitionTo(machine.Stopping)
	}

	for !p.cfg.Driver.IsFinished() {
		if p.cfg.IsRunning != nil && !p.cfg.IsRunning() {
			return nil
		}

		// Wakeable 1s wait: a scheduled request or state change cuts the
		// poll short so pause/stop/detach aren't delayed a full period.
		select {
		case <-ctx.Done():
			return ErrBuildInterrupted
		case <-time.After(p.cfg.RemotePoll):
		case <-p.cfg.State.Notify():
		}

		p.applyPending(ctx)
		state := p.cfg.State.Snapshot()
		if state.Paused {
			if err := p.cfg.Driver.Pause(ctx); err != nil {
				p.cfg.Logger.Warn("driver pause failed: %v", err)
			}
			p.waitUntilUnpaused(ctx)
			if err := p.cfg.Driver.Unpause(ctx); err != nil {
				p.cfg.Logger.Warn("driver unpause failed: %v", err)
			}
			continue
		}
		if state.Phase != machine.BuildingRemote {
			// STOPPING is the worker's to finish: its dispatch stops the
			// driver hard and moves to READY.
			return nil
		}
	}

	return p.transitionTo(machine.Ready)
}
