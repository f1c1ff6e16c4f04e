// Package pipeline implements the build pipeline (C5): it pulls lines
// from a source, parses them into driver commands, dispatches them to the
// driver (and, when enabled, the simulator in parallel), and honours
// pause/stop/retry while publishing progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"buildctl/pkg/command"
	"buildctl/pkg/driver"
	"buildctl/pkg/events"
	"buildctl/pkg/gcode"
	"buildctl/pkg/logx"
	"buildctl/pkg/machine"
	"buildctl/pkg/prompt"
	"buildctl/pkg/retry"
)

const (
	defaultPollInterval      = time.Second
	isFinishedPollInterval   = 100 * time.Millisecond
	remoteFinishedPollPeriod = time.Second
)

// Config wires the pipeline to its collaborators. Simulator is optional;
// a nil Simulator disables the parallel simulator stream regardless of
// ShowSimulator.
type Config struct {
	Driver    driver.Core
	Simulator driver.Core
	Parser    gcode.Parser

	State   *machine.StateMachine
	Emitter *events.Emitter
	Prompt  prompt.UserPrompt
	Retry   retry.Policy

	ShowSimulator bool
	MonitorTemp   bool

	// ApplyPendingRequests lets the controller drain and apply queued
	// requests (the §4.7 dispatch table) at each line boundary, so
	// Pause/Stop/RunCommand take effect mid-build. It may be nil in
	// tests that don't exercise mid-build requests.
	ApplyPendingRequests func(ctx context.Context)

	// IsRunning reports whether the controller is still watching a
	// remote build. DisconnectRemoteBuild clears it so BuildRemote can
	// detach and leave the device running on its own, without issuing a
	// Stop. Nil means always running.
	IsRunning func() bool

	// RemotePoll overrides the 1s IsFinished poll period during remote
	// playback; zero keeps the default.
	RemotePoll time.Duration

	Logger *logx.Logger
}

// Pipeline runs build segments against a single Config.
type Pipeline struct {
	cfg Config
}

// New builds a Pipeline. A nil Logger gets a default "pipeline" logger.
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = logx.NewLogger("pipeline")
	}
	if cfg.RemotePoll <= 0 {
		cfg.RemotePoll = remoteFinishedPollPeriod
	}
	return &Pipeline{cfg: cfg}
}

// applyPending drains and applies queued requests, when the controller
// wired a drain hook in.
func (p *Pipeline) applyPending(ctx context.Context) {
	if p.cfg.ApplyPendingRequests != nil {
		p.cfg.ApplyPendingRequests(ctx)
	}
}

func (p *Pipeline) simulatorActive() bool {
	return p.cfg.Simulator != nil && p.cfg.ShowSimulator
}

// transitionTo moves the state machine to to and, on success, emits the
// resulting StateChange event — every successful mutation is observable.
func (p *Pipeline) transitionTo(to machine.State) error {
	prev := p.cfg.State.Snapshot()
	if err := p.cfg.State.TransitionTo(to); err != nil {
		return err
	}
	p.cfg.Emitter.EmitStateChange(events.StateChange{Prev: prev, Current: p.cfg.State.Snapshot()})
	return nil
}

// BuildInternal runs the warmup, user-source, and cooldown segments in
// order against target. It sets linesTotal up front, reconciles the
// driver position at start and invalidates it at end, and transitions
// the state machine to READY on clean completion or CONNECTING on a
// failed real (machine-targeted) build.
func (p *Pipeline) BuildInternal(ctx context.Context, bc *BuildContext, warmup, cooldown gcode.Source, source gcode.Source, target gcode.Target) error {
	bc.CurrentSource = source
	bc.CurrentTarget = target
	bc.LinesTotal = warmup.LineCount() + cooldown.LineCount() + source.LineCount()
	bc.LinesProcessed = 0
	bc.StartTime = time.Now()
	bc.PollingEnabled = true
	if bc.PollInterval == 0 {
		bc.PollInterval = defaultPollInterval
	}

	if target != gcode.TargetSimulator {
		if _, err := p.cfg.Driver.GetCurrentPosition(); err != nil {
			p.cfg.Logger.Warn("position reconcile failed: %v", err)
		}
		defer p.cfg.Driver.InvalidatePosition()
	}

	runErr := p.runAllSegments(ctx, bc, warmup, cooldown, source, target)

	if p.cfg.State.Snapshot().Phase == machine.Reset {
		// The worker's RESET handler owns the path back to READY.
		return runErr
	}
	final := machine.Ready
	if runErr != nil && target == gcode.TargetMachine {
		final = machine.Connecting
	}
	if err := p.transitionTo(final); err != nil {
		p.cfg.Logger.Error("post-build transition to %s failed: %v", final, err)
	}
	return runErr
}

func (p *Pipeline) runAllSegments(ctx context.Context, bc *BuildContext, warmup, cooldown, source gcode.Source, target gcode.Target) error {
	segments := []gcode.Source{warmup, source, cooldown}
	for _, seg := range segments {
		done, err := p.runSegment(ctx, seg, bc, target)
		if err != nil {
			return err
		}
		if !done {
			// Phase left BUILDING mid-segment (e.g. an external
			// transition raced ahead of us); stop processing further
			// segments but this is not itself an error.
			return nil
		}
	}
	if target == gcode.TargetSimulator {
		return nil
	}
	return p.waitFinished(ctx, bc, target)
}

// runSegment iterates seg to completion (or until stopped/aborted). It
// returns done=true when the segment finished normally (including via a
// Stop condition that ends the segment), done=false when an external
// phase change ended processing without an error.
func (p *Pipeline) runSegment(ctx context.Context, seg gcode.Source, bc *BuildContext, target gcode.Target) (bool, error) {
	var driverQueue, simQueue []command.Command
	retryCounter := &retry.Counter{}

	// A simulator-only build always feeds the simulator; a machine build
	// additionally feeds it only when the show-simulator preference is on.
	simFeed := p.simulatorActive() || (target == gcode.TargetSimulator && p.cfg.Simulator != nil)

	for {
		select {
		case <-ctx.Done():
			return false, ErrBuildInterrupted
		default:
		}

		if len(driverQueue) == 0 && len(simQueue) == 0 {
			line, ok := seg.Next()
			if !ok {
				return true, nil
			}
			bc.LinesProcessed++

			var err error
			if target != gcode.TargetSimulator {
				driverQueue, err = p.cfg.Parser(line, target)
				if err != nil {
					return false, fmt.Errorf("parsing %q: %w", line, err)
				}
			}
			if simFeed {
				simQueue, _ = p.cfg.Parser(line, gcode.TargetSimulator)
			}
		}

		if simFeed {
			p.runSimulatorQueue(ctx, simQueue)
			simQueue = nil
		}

		if target != gcode.TargetSimulator {
			retrying, stopNow, err := p.runDriverQueue(ctx, &driverQueue, retryCounter)
			if err != nil {
				return false, err
			}
			if stopNow {
				return true, nil
			}
			if !retrying {
				retryCounter.Reset()
			}

			if err := p.cfg.Driver.CheckErrors(); err != nil {
				p.cfg.Logger.Warn("%v", &DriverIOError{Err: err})
			}
		}

		state := p.cfg.State.Snapshot()
		if state.Paused {
			if target != gcode.TargetSimulator {
				if err := p.cfg.Driver.Pause(ctx); err != nil {
					p.cfg.Logger.Warn("driver pause failed: %v", err)
				}
			}
			p.waitUntilUnpaused(ctx)
			if target != gcode.TargetSimulator {
				if err := p.cfg.Driver.Unpause(ctx); err != nil {
					p.cfg.Logger.Warn("driver unpause failed: %v", err)
				}
			}
			state = p.cfg.State.Snapshot()
		}

		if (state.Phase == machine.Stopping || state.Phase == machine.Reset) && target != gcode.TargetSimulator {
			if err := p.cfg.Driver.Stop(ctx, true); err != nil {
				p.cfg.Logger.Warn("driver stop failed: %v", err)
			}
			return false, ErrBuildAborted
		}
		if state.Phase != machine.Building {
			return false, nil
		}

		p.pollToolStatus(bc)

		p.cfg.Emitter.EmitProgress(events.Progress{
			ElapsedMs:      bc.Elapsed().Milliseconds(),
			EstimatedMs:    bc.EstimatedBuildTime.Milliseconds(),
			LinesProcessed: bc.LinesProcessed,
			LinesTotal:     bc.LinesTotal,
		})

		p.applyPending(ctx)
	}
}

// runSimulatorQueue runs every queued simulator command, swallowing Retry
// and treating Stop as a no-op, exactly mirroring the live-driver error
// semantics minus any stop/retry propagation (the simulator never halts a
// build on its own).
func (p *Pipeline) runSimulatorQueue(ctx context.Context, queue []command.Command) {
	for _, cmd := range queue {
		err := cmd.Run(ctx, p.cfg.Simulator)
		if err == nil || errors.Is(err, command.ErrRetry) {
			continue
		}
		var stopErr *command.StopError
		if errors.As(err, &stopErr) {
			continue
		}
		p.cfg.Logger.Warn("simulator command error: %v", err)
	}
}

// runDriverQueue executes queue in order with peek-then-remove semantics.
// It returns retrying=true if it broke out on Retry (the head command is
// left in queue), stopNow=true if a Stop condition ended the segment.
func (p *Pipeline) runDriverQueue(ctx context.Context, queue *[]command.Command, retryCounter *retry.Counter) (retrying, stopNow bool, err error) {
	for len(*queue) > 0 {
		head := (*queue)[0]
		runErr := head.Run(ctx, p.cfg.Driver)
		if runErr == nil {
			*queue = (*queue)[1:]
			continue
		}

		if errors.Is(runErr, command.ErrRetry) {
			attempt := retryCounter.Increment()
			if p.cfg.Retry.Exceeded(attempt) {
				return false, false, fmt.Errorf("retry budget exhausted after %d attempts: %w", attempt, runErr)
			}
			if delay := p.cfg.Retry.NextDelay(attempt); delay > 0 {
				time.Sleep(delay)
			}
			return true, false, nil
		}

		var stopErr *command.StopError
		if errors.As(runErr, &stopErr) {
			switch stopErr.Kind {
			case command.UnconditionalHalt, command.ProgramEnd, command.ProgramRewind:
				p.cfg.Prompt.Info(stopErr.Message)
				return false, true, nil
			case command.OptionalHalt:
				if p.cfg.Prompt.Confirm(stopErr.Message) {
					*queue = (*queue)[1:]
					continue
				}
				return false, true, nil
			}
		}

		return false, false, fmt.Errorf("driver command failed: %w", runErr)
	}
	return false, false, nil
}

// waitUntilUnpaused blocks on the state machine's condition variable
// until Paused becomes false, or the context is cancelled. The pipeline
// runs on the worker goroutine — the only goroutine that applies queued
// requests — so every wake-up must drain the request queue, otherwise the
// Unpause (or Stop) request that should end the wait would sit in the
// queue forever.
func (p *Pipeline) waitUntilUnpaused(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.cfg.State.Wake()
		case <-done:
		}
	}()
	defer close(done)

	cond := p.cfg.State.Cond()
	for ctx.Err() == nil {
		p.cfg.State.Lock()
		if !p.cfg.State.CurrentLocked().Paused {
			p.cfg.State.Unlock()
			return
		}
		cond.Wait()
		stillPaused := p.cfg.State.CurrentLocked().Paused
		p.cfg.State.Unlock()

		if stillPaused {
			p.applyPending(ctx)
		}
	}
}

// pollToolStatus issues readTemperature and emits a tool-status event
// when monitoring is enabled and the poll interval has elapsed, per the
// build.monitor_temp preference gate.
func (p *Pipeline) pollToolStatus(bc *BuildContext) {
	if !p.cfg.MonitorTemp || !bc.PollingEnabled {
		return
	}
	if time.Since(bc.LastPolled) < bc.PollInterval {
		return
	}
	start := time.Now()
	status, err := p.cfg.Driver.ReadTemperature()
	if err != nil {
		p.cfg.Logger.Warn("read temperature failed: %v", err)
		return
	}
	bc.LastPolled = time.Now()
	p.cfg.Emitter.EmitToolStatus(events.ToolStatus{Tool: status, PollLatency: bc.LastPolled.Sub(start)})
}

// waitFinished polls driver.IsFinished every 100ms after the source is
// exhausted, honouring the same stop/abort rules as runSegment. Requests
// are drained each iteration so a Stop issued during the drain-out still
// takes effect.
func (p *Pipeline) waitFinished(ctx context.Context, bc *BuildContext, target gcode.Target) error {
	for !p.cfg.Driver.IsFinished() {
		select {
		case <-ctx.Done():
			return ErrBuildInterrupted
		case <-time.After(isFinishedPollInterval):
		}

		p.applyPending(ctx)
		state := p.cfg.State.Snapshot()
		if (state.Phase == machine.Stopping || state.Phase == machine.Reset) && target != gcode.TargetSimulator {
			if err := p.cfg.Driver.Stop(ctx, true); err != nil {
				p.cfg.Logger.Warn("driver stop failed: %v", err)
			}
			return ErrBuildAborted
		}
		if state.Phase != machine.Building {
			return nil
		}
	}
	return nil
}
