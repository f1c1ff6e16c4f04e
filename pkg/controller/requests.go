package controller

import (
	"context"
	"errors"

	"buildctl/pkg/command"
	"buildctl/pkg/driver"
	"buildctl/pkg/events"
	"buildctl/pkg/gcode"
	"buildctl/pkg/machine"
	"buildctl/pkg/queue"
)

// transitionTo moves the state machine and, on success, publishes the
// resulting StateChange. It and setPaused are the places outside
// pkg/pipeline that emit state-change events, keeping "every successful mutation emits an
// event" true regardless of which component triggered it.
func (c *Controller) transitionTo(to machine.State) error {
	prev := c.state.Snapshot()
	if err := c.state.TransitionTo(to); err != nil {
		return err
	}
	c.emitter.EmitStateChange(events.StateChange{Prev: prev, Current: c.state.Snapshot()})
	return nil
}

func (c *Controller) setPaused(paused bool) error {
	prev := c.state.Snapshot()
	if err := c.state.SetPaused(paused); err != nil {
		return err
	}
	c.emitter.EmitStateChange(events.StateChange{Prev: prev, Current: c.state.Snapshot()})
	return nil
}

// applyRequest implements the §4.7 dispatch table. It runs either at the
// top of the worker loop or, mid-build, via Pipeline.Config.ApplyPendingRequests.
func (c *Controller) applyRequest(ctx context.Context, req queue.Request) {
	state := c.state.Snapshot()

	switch req.Kind {
	case queue.Connect:
		if state.Phase == machine.NotAttached {
			_ = c.transitionTo(machine.Connecting)
		}

	case queue.Disconnect:
		err := c.doDisconnect(ctx)
		if req.Done != nil {
			req.Done <- err
			close(req.Done)
		}

	case queue.Reset:
		if state.IsConnected() {
			_ = c.transitionTo(machine.Reset)
		}

	case queue.Simulate:
		c.setBuildTarget(gcode.TargetSimulator, c.CurrentSource(), "")
		_ = c.transitionTo(machine.Building)

	case queue.BuildDirect:
		c.setBuildTarget(gcode.TargetMachine, req.Source, "")
		_ = c.transitionTo(machine.Building)

	case queue.BuildToFile:
		c.setBuildTarget(gcode.TargetFile, req.Source, req.Name)
		_ = c.transitionTo(machine.Building)

	case queue.BuildToRemoteFile:
		c.setBuildTarget(gcode.TargetRemoteFile, req.Source, req.Name)
		_ = c.transitionTo(machine.Building)

	case queue.BuildRemote:
		c.mu.Lock()
		c.remoteName = req.Name
		c.running = true
		c.mu.Unlock()
		_ = c.transitionTo(machine.BuildingRemote)

	case queue.Pause:
		if state.IsBuilding() && !state.Paused {
			_ = c.setPaused(true)
		}

	case queue.Unpause:
		if state.IsBuilding() && state.Paused {
			_ = c.setPaused(false)
		}

	case queue.Stop:
		c.zeroTemperatureTargets(ctx)
		if state.IsBuilding() {
			_ = c.transitionTo(machine.Stopping)
		}

	case queue.DisconnectRemoteBuild:
		switch {
		case state.Phase == machine.BuildingRemote:
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
		case state.IsBuilding():
			_ = c.transitionTo(machine.Stopping)
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
		}

	case queue.RunCommand:
		c.runAdHocCommand(ctx, req.Cmd)
	}
}

func (c *Controller) setBuildTarget(target gcode.Target, src gcode.Source, name string) {
	c.mu.Lock()
	c.currentTarget = target
	c.currentSource = src
	c.remoteName = name
	c.mu.Unlock()
}

// zeroTemperatureTargets sets tool and platform target temperature to
// zero on a Stop request. A driver without onboard temperature control
// simply has nothing to zero.
func (c *Controller) zeroTemperatureTargets(ctx context.Context) {
	d := c.GetDriver()
	if d == nil {
		return
	}
	if tc, ok := driver.AsTemperatureControl(d); ok {
		if err := tc.SetTargetTemperatures(ctx, 0, 0); err != nil {
			c.logger.Warn("zero temperature targets failed: %v", err)
		}
	}
}

// runAdHocCommand executes cmd against the driver, retrying on ErrRetry
// and swallowing any Stop condition, per the RunCommand dispatch rule.
func (c *Controller) runAdHocCommand(ctx context.Context, cmd command.Command) {
	if cmd == nil {
		return
	}
	d := c.GetDriver()
	if d == nil {
		c.logger.Warn("run command with no driver attached")
		return
	}
	for {
		err := cmd.Run(ctx, d)
		if err == nil {
			return
		}
		if errors.Is(err, command.ErrRetry) {
			continue
		}
		var stopErr *command.StopError
		if errors.As(err, &stopErr) {
			return
		}
		c.logger.Warn("ad-hoc command failed: %v", err)
		return
	}
}

// doDisconnect uninitializes the driver and returns to NOT_ATTACHED. It
// runs on the worker goroutine, so it never races a build.
func (c *Controller) doDisconnect(ctx context.Context) error {
	d := c.GetDriver()
	if d != nil {
		if owner, ok := driver.AsSerialOwner(d); ok {
			_ = owner.SetSerial("")
		}
		if err := d.Uninitialize(ctx); err != nil {
			c.logger.Warn("uninitialize failed: %v", err)
		}
	}
	return c.transitionTo(machine.NotAttached)
}
