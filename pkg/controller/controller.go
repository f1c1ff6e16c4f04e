// Package controller implements the machine worker (C6) and the
// Controller public surface: the single entry point external callers use
// to drive a build-controller instance end to end.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"buildctl/pkg/command"
	"buildctl/pkg/driver"
	"buildctl/pkg/events"
	"buildctl/pkg/gcode"
	"buildctl/pkg/logx"
	"buildctl/pkg/machine"
	"buildctl/pkg/metrics"
	"buildctl/pkg/pipeline"
	"buildctl/pkg/prompt"
	"buildctl/pkg/queue"
	"buildctl/pkg/retry"
)

// DisposeGrace is how long dispose() waits for the worker to exit before
// giving up.
const DisposeGrace = 5 * time.Second

// DriverFactory builds a driver from the opaque configuration subtree
// read from the machine config. The core never interprets cfg itself.
type DriverFactory func(cfg map[string]any) (driver.Core, error)

// Preferences are the runtime preferences consulted by the worker and
// pipeline.
type Preferences struct {
	Simulator      bool
	ShowSimulator  bool
	MonitorTemp    bool
	PollIntervalMs int
}

// Config constructs a Controller.
type Config struct {
	Name string

	DriverFactory    DriverFactory
	SimulatorFactory DriverFactory // optional; nil disables the simulator
	DriverConfig     map[string]any

	Warmup, Cooldown []string

	Preferences Preferences
	Prompt      prompt.UserPrompt
	Retry       retry.Policy
	Parser      gcode.Parser
	Logger      *logx.Logger

	// Metrics, when non-nil, gets a RecordBuildOutcome call for every
	// build that reaches a terminal outcome. Nil disables it, so a
	// Controller built without a Registry (as in most tests) never
	// touches metrics.
	Metrics *metrics.Registry
}

// Controller is the single-machine build controller: it owns the driver,
// the state machine, the request queue, and the worker goroutine that
// ties them together.
type Controller struct {
	name   string
	logger *logx.Logger

	driverFactory    DriverFactory
	simulatorFactory DriverFactory
	driverConfig     map[string]any

	warmup, cooldown []string
	prefs            Preferences
	parser           gcode.Parser

	state   *machine.StateMachine
	queue   *queue.Queue
	emitter *events.Emitter
	prompt  prompt.UserPrompt
	retry   retry.Policy
	metrics *metrics.Registry

	mu            sync.RWMutex
	driver        driver.Core
	simulator     driver.Core
	currentSource gcode.Source
	currentTarget gcode.Target
	remoteName    string
	running       bool

	bcMu           sync.RWMutex
	linesProcessed int
	linesTotal     int

	workerCancel context.CancelFunc
	workerDone   chan struct{}
}

// New constructs a Controller and its driver (and optional simulator)
// from cfg, but does not start the worker or initialize the driver — per
// spec, the driver is created at construction and initialized only on
// CONNECTING.
func New(cfg Config) (*Controller, error) {
	if cfg.Logger == nil {
		cfg.Logger = logx.NewLogger("controller")
	}
	if cfg.Parser == nil {
		cfg.Parser = gcode.NullParser
	}
	if cfg.Prompt == nil {
		cfg.Prompt = prompt.NewHeadless(cfg.Logger)
	}
	if cfg.DriverFactory == nil {
		return nil, fmt.Errorf("controller: DriverFactory is required")
	}

	d, err := cfg.DriverFactory(cfg.DriverConfig)
	if err != nil {
		return nil, fmt.Errorf("building driver: %w", err)
	}

	var sim driver.Core
	if cfg.Preferences.Simulator && cfg.SimulatorFactory != nil {
		sim, err = cfg.SimulatorFactory(cfg.DriverConfig)
		if err != nil {
			return nil, fmt.Errorf("building simulator driver: %w", err)
		}
	}

	sm := machine.NewStateMachine()
	c := &Controller{
		name:             cfg.Name,
		logger:           cfg.Logger,
		driverFactory:    cfg.DriverFactory,
		simulatorFactory: cfg.SimulatorFactory,
		driverConfig:     cfg.DriverConfig,
		warmup:           cfg.Warmup,
		cooldown:         cfg.Cooldown,
		prefs:            cfg.Preferences,
		parser:           cfg.Parser,
		state:            sm,
		queue:            queue.New(),
		emitter:          events.NewEmitter(sm.Snapshot()),
		prompt:           cfg.Prompt,
		retry:            cfg.Retry,
		metrics:          cfg.Metrics,
		driver:           d,
		simulator:        sim,
	}

	c.mu.Lock()
	c.startWorkerLocked()
	c.mu.Unlock()
	return c, nil
}

func (c *Controller) startWorkerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.workerCancel = cancel
	c.workerDone = make(chan struct{})
	c.running = true
	go c.runWorker(ctx)
}

// ensureWorker restarts the worker goroutine if a previous one terminated
// (a DisconnectRemoteBuild leaves the machine running on its own and ends
// the worker). Only Connect re-creates it.
func (c *Controller) ensureWorker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.workerDone:
		c.startWorkerLocked()
	default:
	}
}

// schedule enqueues req and wakes the worker. It is the sole entry point
// for mutating worker-visible intent; external API methods are thin
// wrappers around it.
func (c *Controller) schedule(req queue.Request) {
	c.queue.Schedule(req)
	c.state.Wake()
}

// --- Public surface (§6) ---

func (c *Controller) Connect() {
	c.ensureWorker()
	c.schedule(queue.NewRequest(queue.Connect))
}

// Disconnect uninitializes the driver synchronously from the caller's
// point of view, but — per the redesign note in SPEC_FULL.md §9 — routes
// through the request queue instead of mutating the driver from outside
// the worker, so it never races an in-flight build.
func (c *Controller) Disconnect(ctx context.Context) error {
	req := queue.NewRequest(queue.Disconnect)
	req.Done = make(chan error, 1)
	c.schedule(req)

	select {
	case err := <-req.Done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) Reset()   { c.schedule(queue.NewRequest(queue.Reset)) }
func (c *Controller) Pause()   { c.schedule(queue.NewRequest(queue.Pause)) }
func (c *Controller) Unpause() { c.schedule(queue.NewRequest(queue.Unpause)) }
func (c *Controller) Stop()    { c.schedule(queue.NewRequest(queue.Stop)) }

// Execute starts a direct build of the current source against the live
// machine.
func (c *Controller) Execute() {
	req := queue.NewRequest(queue.BuildDirect)
	req.Source = c.CurrentSource()
	c.schedule(req)
}

// Simulate starts a build of the current source against the simulator
// only.
func (c *Controller) Simulate() {
	c.schedule(queue.NewRequest(queue.Simulate))
}

// Upload builds the current source to on-device storage under remoteName.
func (c *Controller) Upload(remoteName string) {
	req := queue.NewRequest(queue.BuildToRemoteFile)
	req.Source = c.CurrentSource()
	req.Name = remoteName
	c.schedule(req)
}

// BuildToFile builds the current source to a host file at path.
func (c *Controller) BuildToFile(path string) {
	req := queue.NewRequest(queue.BuildToFile)
	req.Source = c.CurrentSource()
	req.Name = path
	c.schedule(req)
}

// BuildRemote replays a previously captured stream from on-device storage.
func (c *Controller) BuildRemote(remoteName string) {
	req := queue.NewRequest(queue.BuildRemote)
	req.Name = remoteName
	c.schedule(req)
}

// DisconnectRemoteBuild detaches from an in-progress remote build without
// stopping it, or stops any other in-progress build and detaches.
func (c *Controller) DisconnectRemoteBuild() {
	c.schedule(queue.NewRequest(queue.DisconnectRemoteBuild))
}

// RunCommand executes cmd against the driver out of band, retrying on
// ErrRetry and swallowing any Stop condition.
func (c *Controller) RunCommand(cmd command.Command) {
	req := queue.NewRequest(queue.RunCommand)
	req.Cmd = cmd
	c.schedule(req)
}

// SetCodeSource sets the source future Execute/Simulate/Upload/BuildToFile
// calls operate on.
func (c *Controller) SetCodeSource(src gcode.Source) {
	c.mu.Lock()
	c.currentSource = src
	c.mu.Unlock()
}

// CurrentSource returns the currently configured source.
func (c *Controller) CurrentSource() gcode.Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentSource
}

// Estimate produces a duration estimate for the current source without
// touching hardware or mutating any state.
func (c *Controller) Estimate() (time.Duration, error) {
	src := c.CurrentSource()
	if src == nil {
		return 0, fmt.Errorf("controller: no source configured")
	}
	return pipeline.Estimate(c.parser, gcode.NewSliceSource(c.warmup), gcode.NewSliceSource(c.cooldown), src, gcode.TargetMachine)
}

// GetMachineState returns an immutable snapshot of the current state.
func (c *Controller) GetMachineState() machine.MachineState { return c.state.Snapshot() }

func (c *Controller) GetName() string { return c.name }

// GetDriver returns the current driver. It is nil after Dispose; callers
// must tolerate that.
func (c *Controller) GetDriver() driver.Core {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.driver
}

func (c *Controller) GetSimulatorDriver() driver.Core {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.simulator
}

// GetModel returns the opaque driver configuration subtree.
func (c *Controller) GetModel() map[string]any { return c.driverConfig }

func (c *Controller) GetLinesProcessed() int {
	c.bcMu.RLock()
	defer c.bcMu.RUnlock()
	return c.linesProcessed
}

func (c *Controller) GetLinesTotal() int {
	c.bcMu.RLock()
	defer c.bcMu.RUnlock()
	return c.linesTotal
}

func (c *Controller) IsSimulating() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTarget == gcode.TargetSimulator
}

// IsInteractiveTarget reports whether the current build target is one a
// human could usefully watch (machine or simulator), as opposed to a
// capture target.
func (c *Controller) IsInteractiveTarget() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTarget == gcode.TargetMachine || c.currentTarget == gcode.TargetSimulator
}

func (c *Controller) IsInitialized() bool {
	c.mu.RLock()
	d := c.driver
	c.mu.RUnlock()
	return d != nil && d.IsInitialized()
}

func (c *Controller) IsPaused() bool { return c.state.Snapshot().Paused }

func (c *Controller) AddMachineStateListener(l events.Listener)    { c.emitter.AddListener(l) }
func (c *Controller) RemoveMachineStateListener(l events.Listener) { c.emitter.RemoveListener(l) }

// Dispose stops accepting requests, terminates the worker and joins it
// (up to DisposeGrace), then disposes the driver and simulator.
func (c *Controller) Dispose(ctx context.Context) error {
	c.queue.Close()
	c.mu.Lock()
	cancel := c.workerCancel
	done := c.workerDone
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
	case <-time.After(DisposeGrace):
		return fmt.Errorf("controller: worker did not shut down within %s", DisposeGrace)
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	d, sim := c.driver, c.simulator
	c.driver, c.simulator = nil, nil
	c.mu.Unlock()
	if d != nil {
		if err := d.Dispose(ctx); err != nil {
			c.logger.Warn("driver dispose failed: %v", err)
		}
	}
	if sim != nil {
		if err := sim.Dispose(ctx); err != nil {
			c.logger.Warn("simulator dispose failed: %v", err)
		}
	}
	return nil
}
