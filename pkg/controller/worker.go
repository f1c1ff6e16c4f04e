package controller

import (
	"context"
	"errors"
	"time"

	"buildctl/pkg/driver"
	"buildctl/pkg/gcode"
	"buildctl/pkg/machine"
	"buildctl/pkg/persistence"
	"buildctl/pkg/pipeline"
)

// runWorker is the top-level loop (C6): drain requests, dispatch on
// phase, repeat while running or still STOPPING. It exits when ctx is
// cancelled (dispose / hard shutdown) or when a DisconnectRemoteBuild
// clears running; any other error is logged and the loop continues.
func (c *Controller) runWorker(ctx context.Context) {
	defer close(c.workerDone)

	for {
		if ctx.Err() != nil {
			return
		}

		for _, req := range c.queue.Drain() {
			c.applyRequest(ctx, req)
		}
		if ctx.Err() != nil {
			return
		}

		state := c.state.Snapshot()
		if !c.isRunning() && state.Phase != machine.Stopping {
			// Detached: the machine may still be running on its own, but
			// this controller no longer owns it. Drop to NOT_ATTACHED so a
			// later Connect starts a fresh session.
			if state.Phase != machine.NotAttached {
				_ = c.transitionTo(machine.NotAttached)
			}
			c.releaseSerial()
			return
		}
		switch state.Phase {
		case machine.Building:
			c.runBuildPath(ctx)
		case machine.BuildingRemote:
			c.runRemotePath(ctx)
		case machine.Connecting:
			c.handleConnecting(ctx)
		case machine.Stopping:
			c.handleStopping(ctx)
		case machine.Reset:
			c.handleReset(ctx)
		case machine.NotAttached:
			c.releaseSerial()
			c.waitForWork(ctx)
		default: // READY and any other at-rest phase
			c.waitForWork(ctx)
		}
	}
}

// waitForWork blocks the worker until a request is pending or ctx is
// cancelled. It is one of the three suspension points on the worker's
// single condition variable (idle wait; the others live in pkg/pipeline).
func (c *Controller) waitForWork(ctx context.Context) {
	if ctx.Err() != nil || c.queue.Len() > 0 {
		return
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.state.Wake()
		case <-done:
		}
	}()
	defer close(done)

	cond := c.state.Cond()
	c.state.Lock()
	for c.queue.Len() == 0 && ctx.Err() == nil {
		cond.Wait()
	}
	c.state.Unlock()
}

func (c *Controller) releaseSerial() {
	d := c.GetDriver()
	if d == nil {
		return
	}
	if owner, ok := driver.AsSerialOwner(d); ok {
		_ = owner.SetSerial("")
	}
}

func (c *Controller) handleConnecting(ctx context.Context) {
	d := c.GetDriver()
	if d == nil {
		_ = c.transitionTo(machine.NotAttached)
		return
	}
	if err := d.Initialize(ctx); err != nil {
		c.logger.Warn("initialize failed: %v", err)
		_ = c.transitionTo(machine.NotAttached)
		return
	}
	c.readOnboardName(d)
	_ = c.transitionTo(machine.Ready)
}

// readOnboardName reads the device's self-reported name after a connect
// or reset.
func (c *Controller) readOnboardName(d driver.Core) {
	if name := d.GetMachineName(); name != "" {
		c.logger.Info("machine reports name %q", name)
	}
}

func (c *Controller) handleStopping(ctx context.Context) {
	d := c.GetDriver()
	if d != nil {
		if err := d.Stop(ctx, true); err != nil {
			c.logger.Warn("stop failed: %v", err)
		}
	}
	_ = c.transitionTo(machine.Ready)
}

func (c *Controller) handleReset(ctx context.Context) {
	d := c.GetDriver()
	if d != nil {
		if err := d.Reset(ctx); err != nil {
			c.logger.Warn("reset failed: %v", err)
		}
		c.readOnboardName(d)
	}
	_ = c.transitionTo(machine.Ready)
}

// newPipeline wires a Pipeline for one build. bc, when non-nil, is
// mirrored into the controller's lines-processed/total fields at every
// request-drain boundary so GetLinesProcessed stays live mid-build.
func (c *Controller) newPipeline(bc *pipeline.BuildContext) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{
		Driver:        c.GetDriver(),
		Simulator:     c.GetSimulatorDriver(),
		Parser:        c.parser,
		State:         c.state,
		Emitter:       c.emitter,
		Prompt:        c.prompt,
		Retry:         c.retry,
		ShowSimulator: c.prefs.ShowSimulator,
		MonitorTemp:   c.prefs.MonitorTemp,
		ApplyPendingRequests: func(ctx context.Context) {
			for _, req := range c.queue.Drain() {
				c.applyRequest(ctx, req)
			}
			if bc != nil {
				c.mirrorBuildContext(bc)
			}
		},
		IsRunning: c.isRunning,
		Logger:    c.logger,
	})
}

func (c *Controller) runBuildPath(ctx context.Context) {
	c.mu.RLock()
	target := c.currentTarget
	source := c.currentSource
	remoteName := c.remoteName
	c.mu.RUnlock()

	if source == nil {
		_ = c.transitionTo(machine.Ready)
		return
	}

	bc := &pipeline.BuildContext{}
	if c.prefs.PollIntervalMs > 0 {
		bc.PollInterval = msToDuration(c.prefs.PollIntervalMs)
	}
	p := c.newPipeline(bc)

	warmup := gcode.NewSliceSource(c.warmup)
	cooldown := gcode.NewSliceSource(c.cooldown)

	linesTotal := warmup.LineCount() + cooldown.LineCount() + source.LineCount()
	recordID := c.recordBuildStart(ctx, target.String(), linesTotal)

	var err error
	switch target {
	case gcode.TargetFile:
		err = p.BuildToFile(ctx, bc, warmup, cooldown, source, remoteName)
	case gcode.TargetRemoteFile:
		err = p.BuildToRemoteFile(ctx, bc, warmup, cooldown, source, remoteName)
	default: // TargetMachine, TargetSimulator
		err = p.BuildInternal(ctx, bc, warmup, cooldown, source, target)
	}

	c.mirrorBuildContext(bc)
	c.recordBuildFinish(ctx, recordID, bc.LinesProcessed, err)
	if err != nil {
		c.logger.Warn("build ended: %v", err)
	}
}

// recordBuildStart opens a build-history journal entry for a build
// against target, returning the record ID to close it out with later.
// It returns 0 (never a real autoincrement ID) when the journal isn't
// initialized, letting callers skip recordBuildFinish's DB write too.
func (c *Controller) recordBuildStart(ctx context.Context, target string, linesTotal int) int64 {
	if !persistence.IsInitialized() {
		return 0
	}
	id, err := persistence.BeginBuild(ctx, c.name, target, linesTotal)
	if err != nil {
		c.logger.Warn("recording build start failed: %v", err)
		return 0
	}
	return id
}

// recordBuildFinish closes out the build-history entry opened by
// recordBuildStart (if any) and, unconditionally, records the outcome in
// metrics (if a Registry was configured).
func (c *Controller) recordBuildFinish(ctx context.Context, id int64, linesProcessed int, buildErr error) {
	outcome := persistence.OutcomeCompleted
	failureReason := ""
	switch {
	case buildErr == nil:
	case errors.Is(buildErr, pipeline.ErrBuildAborted):
		outcome = persistence.OutcomeAborted
	default:
		outcome = persistence.OutcomeFailed
		failureReason = buildErr.Error()
	}

	if c.metrics != nil {
		c.metrics.RecordBuildOutcome(string(outcome))
	}

	if id == 0 || !persistence.IsInitialized() {
		return
	}
	if err := persistence.FinishBuild(ctx, id, linesProcessed, outcome, failureReason); err != nil {
		c.logger.Warn("recording build finish failed: %v", err)
	}
}

func (c *Controller) isRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Controller) runRemotePath(ctx context.Context) {
	c.mu.RLock()
	remoteName := c.remoteName
	c.mu.RUnlock()

	recordID := c.recordBuildStart(ctx, "remote_playback", 0)

	p := c.newPipeline(nil)
	err := p.BuildRemote(ctx, remoteName)
	c.recordBuildFinish(ctx, recordID, 0, err)
	if err != nil {
		c.logger.Warn("remote build ended: %v", err)
	}
}

func (c *Controller) mirrorBuildContext(bc *pipeline.BuildContext) {
	c.bcMu.Lock()
	c.linesProcessed = bc.LinesProcessed
	c.linesTotal = bc.LinesTotal
	c.bcMu.Unlock()
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
