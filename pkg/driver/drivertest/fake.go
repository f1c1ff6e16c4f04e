// Package drivertest provides an in-memory driver.Core implementation for
// tests and for running the controller without physical hardware
// attached, grounded on the corpus's dual real/mock driver pattern.
package drivertest

import (
	"context"
	"fmt"
	"sync"

	"buildctl/pkg/driver"
)

// Fake implements driver.Core plus every optional capability
// (driver.Query, driver.Capture, driver.SDCapture, driver.SerialOwner,
// driver.TemperatureControl)
// so tests can exercise capability-probing code paths without a second
// type.
type Fake struct {
	mu sync.Mutex

	name        string
	initialized bool
	paused      bool
	finished    bool
	position    driver.Position
	posErr      error
	temp        driver.ToolStatus

	machineConfig map[string]any
	serialPort    string

	capturing    bool
	captureFile  string
	captureBytes int64

	playbackFiles map[string]bool

	// FailNextOp, when non-nil, is returned once by the next Initialize,
	// CheckErrors or BeginFileCapture call and then cleared, letting tests
	// inject a single failure.
	FailNextOp error

	// FailBeginCaptureCode, when non-zero (non-Success), is returned by
	// BeginCapture instead of Success, without starting a capture.
	FailBeginCaptureCode driver.ResponseCode

	// Executed records every line or command handed to it, for
	// assertions.
	Executed []string
}

// New creates a Fake identifying itself as name.
func New(name string) *Fake {
	return &Fake{
		name:          name,
		finished:      true,
		machineConfig: map[string]any{},
		playbackFiles: map[string]bool{},
	}
}

func (f *Fake) takeFailure() error {
	err := f.FailNextOp
	f.FailNextOp = nil
	return err
}

func (f *Fake) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.initialized = true
	return nil
}

func (f *Fake) Uninitialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = false
	return nil
}

func (f *Fake) IsInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *Fake) Dispose(ctx context.Context) error {
	return f.Uninitialize(ctx)
}

func (f *Fake) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	f.finished = true
	f.position = driver.Position{}
	return nil
}

func (f *Fake) Stop(ctx context.Context, hard bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = true
	f.paused = false
	return nil
}

func (f *Fake) Pause(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *Fake) Unpause(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *Fake) IsFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

// SetFinished lets a test control IsFinished for polling-loop scenarios.
func (f *Fake) SetFinished(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = v
}

func (f *Fake) CheckErrors() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.takeFailure()
}

func (f *Fake) GetCurrentPosition() (driver.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posErr != nil {
		return driver.Position{}, f.posErr
	}
	return f.position, nil
}

func (f *Fake) InvalidatePosition() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posErr = fmt.Errorf("position invalidated")
}

// SetPosition lets a test seed the reported position and clears any
// invalidation error.
func (f *Fake) SetPosition(p driver.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = p
	f.posErr = nil
}

func (f *Fake) ReadTemperature() (driver.ToolStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.temp, nil
}

// SetTemperature lets a test control the value returned by ReadTemperature.
func (f *Fake) SetTemperature(t driver.ToolStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.temp = t
}

// Temperature returns the current ToolStatus, including targets set via
// SetTargetTemperatures, for assertions.
func (f *Fake) Temperature() driver.ToolStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.temp
}

// SetTargetTemperatures implements driver.TemperatureControl.
func (f *Fake) SetTargetTemperatures(ctx context.Context, toolC, platformC float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.temp.TargetTempC = toolC
	f.temp.PlatformTarC = platformC
	return nil
}

func (f *Fake) GetMachineName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

// MachineConfig implements driver.Query.
func (f *Fake) MachineConfig() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.machineConfig
}

// SetMachineConfig lets a test seed the config map returned to a parser.
func (f *Fake) SetMachineConfig(cfg map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.machineConfig = cfg
}

// BeginFileCapture implements driver.Capture.
func (f *Fake) BeginFileCapture(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	f.capturing = true
	f.captureFile = name
	f.captureBytes = 0
	return nil
}

// EndFileCapture implements driver.Capture.
func (f *Fake) EndFileCapture(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capturing = false
	return nil
}

// BeginCapture implements driver.SDCapture.
func (f *Fake) BeginCapture(ctx context.Context, name string) (driver.ResponseCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailBeginCaptureCode != driver.Success {
		return f.FailBeginCaptureCode, nil
	}
	f.capturing = true
	f.captureFile = name
	f.captureBytes = 0
	return driver.Success, nil
}

// EndCapture implements driver.SDCapture.
func (f *Fake) EndCapture(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capturing = false
	f.playbackFiles[f.captureFile] = true
	return f.captureBytes, nil
}

// Playback implements driver.SDCapture.
func (f *Fake) Playback(ctx context.Context, name string) (driver.ResponseCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.playbackFiles[name] {
		return driver.FailNoFile, nil
	}
	f.finished = false
	return driver.Success, nil
}

// SetSerial implements driver.SerialOwner.
func (f *Fake) SetSerial(port string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serialPort = port
	return nil
}

// SerialPort returns the port last set via SetSerial, for assertions.
func (f *Fake) SerialPort() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serialPort
}

// ExecutedSnapshot returns a race-safe copy of Executed, for tests that
// read it concurrently with a build still in flight.
func (f *Fake) ExecutedSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Executed))
	copy(out, f.Executed)
	return out
}

// ExecutedLen is a race-safe count of Executed, for poll-until-condition
// assertions in tests.
func (f *Fake) ExecutedLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Executed)
}

// record appends line to Executed and, if a capture is in progress,
// accumulates its byte count. Called by the test parser built with
// NewEchoParser.
func (f *Fake) record(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Executed = append(f.Executed, line)
	if f.capturing {
		f.captureBytes += int64(len(line)) + 1
	}
}
