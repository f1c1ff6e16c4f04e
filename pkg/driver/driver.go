// Package driver declares the capability interfaces the core depends on to
// talk to a physical (or simulated) machine. The core never requires a
// monolithic driver type: it probes for small optional capabilities at
// runtime, the same way it would downcast a concrete driver in languages
// without structural typing.
package driver

import "context"

// Position is the machine's toolhead location, as read back from the driver.
type Position struct {
	X, Y, Z, E float64
}

// Core is the capability every driver must implement: lifecycle, motion
// control, and status.
type Core interface {
	Initialize(ctx context.Context) error
	Uninitialize(ctx context.Context) error
	IsInitialized() bool
	Dispose(ctx context.Context) error
	Reset(ctx context.Context) error
	Stop(ctx context.Context, hard bool) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
	IsFinished() bool
	CheckErrors() error
	GetCurrentPosition() (Position, error)
	InvalidatePosition()
	ReadTemperature() (ToolStatus, error)
	GetMachineName() string
}

// ToolStatus is a snapshot of tool/platform temperature, emitted by
// ReadTemperature and published as a tool-status event.
type ToolStatus struct {
	ToolTempC     float64
	TargetTempC   float64
	PlatformTempC float64
	PlatformTarC  float64
}

// Query is the parser-facing read-only view of machine configuration; a
// GCodeParser implementation consults it to resolve axis limits, feed
// rates, and similar machine-specific constants. The core only threads it
// through to the parser and never reads it itself.
type Query interface {
	MachineConfig() map[string]any
}

// Capture is host-side file capture: redirect the command stream to a file
// on the controller's host instead of executing it immediately.
type Capture interface {
	BeginFileCapture(ctx context.Context, name string) error
	EndFileCapture(ctx context.Context) error
}

// ResponseCode is returned by on-device storage (SD) capture operations.
type ResponseCode int

const (
	Success ResponseCode = iota
	FailNoCard
	FailInit
	FailPartition
	FailFS
	FailRootDir
	FailLocked
	FailNoFile
	FailGeneric
)

// SDErrorMessages maps a failing ResponseCode to a fixed user-facing
// dialog message. Success produces no dialog.
var SDErrorMessages = map[ResponseCode]string{
	FailNoCard:    "No SD card present.",
	FailInit:      "Failed to initialize SD card.",
	FailPartition: "Failed to read SD card partition table.",
	FailFS:        "Failed to mount SD card filesystem.",
	FailRootDir:   "Failed to open SD card root directory.",
	FailLocked:    "SD card is write-locked.",
	FailNoFile:    "File not found on SD card.",
	FailGeneric:   "SD card operation failed.",
}

// SDCapture is on-device storage capture and playback.
type SDCapture interface {
	BeginCapture(ctx context.Context, name string) (ResponseCode, error)
	EndCapture(ctx context.Context) (bytesWritten int64, err error)
	Playback(ctx context.Context, name string) (ResponseCode, error)
}

// TemperatureControl sets tool and platform target temperatures. The
// worker zeroes both targets on a Stop request.
type TemperatureControl interface {
	SetTargetTemperatures(ctx context.Context, toolC, platformC float64) error
}

// SerialOwner lets the worker release a held serial port on detach.
type SerialOwner interface {
	SetSerial(port string) error
}

// OnboardParameters exposes the device's self-reported name.
type OnboardParameters interface {
	GetMachineName() string
}

// AsQuery probes d for the Query capability.
func AsQuery(d Core) (Query, bool) { q, ok := d.(Query); return q, ok }

// AsCapture probes d for the Capture capability.
func AsCapture(d Core) (Capture, bool) { c, ok := d.(Capture); return c, ok }

// AsSDCapture probes d for the SDCapture capability.
func AsSDCapture(d Core) (SDCapture, bool) { c, ok := d.(SDCapture); return c, ok }

// AsTemperatureControl probes d for the TemperatureControl capability.
func AsTemperatureControl(d Core) (TemperatureControl, bool) {
	t, ok := d.(TemperatureControl)
	return t, ok
}

// AsSerialOwner probes d for the SerialOwner capability.
func AsSerialOwner(d Core) (SerialOwner, bool) { s, ok := d.(SerialOwner); return s, ok }
