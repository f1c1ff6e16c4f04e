package drivertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"buildctl/pkg/driver"
)

func TestFakeImplementsAllCapabilities(t *testing.T) {
	f := New("test-machine")

	var core driver.Core = f
	require.NotNil(t, core)

	_, ok := driver.AsQuery(f)
	require.True(t, ok)
	_, ok = driver.AsCapture(f)
	require.True(t, ok)
	_, ok = driver.AsSDCapture(f)
	require.True(t, ok)
	_, ok = driver.AsSerialOwner(f)
	require.True(t, ok)
	_, ok = driver.AsTemperatureControl(f)
	require.True(t, ok)
}

func TestFakeSetTargetTemperatures(t *testing.T) {
	ctx := context.Background()
	f := New("test-machine")
	f.SetTemperature(driver.ToolStatus{TargetTempC: 220, PlatformTarC: 80})

	require.NoError(t, f.SetTargetTemperatures(ctx, 0, 0))
	temp := f.Temperature()
	require.Zero(t, temp.TargetTempC)
	require.Zero(t, temp.PlatformTarC)
}

func TestFakeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := New("test-machine")

	require.False(t, f.IsInitialized())
	require.NoError(t, f.Initialize(ctx))
	require.True(t, f.IsInitialized())

	require.NoError(t, f.Pause(ctx))
	require.NoError(t, f.Unpause(ctx))
	require.NoError(t, f.Stop(ctx, true))
	require.NoError(t, f.Uninitialize(ctx))
	require.False(t, f.IsInitialized())
}

func TestFakeFailNextOp(t *testing.T) {
	ctx := context.Background()
	f := New("test-machine")
	f.FailNextOp = context.DeadlineExceeded

	require.Error(t, f.Initialize(ctx))
	require.NoError(t, f.Initialize(ctx))
}

func TestFakeSDCaptureRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := New("test-machine")

	code, err := f.BeginCapture(ctx, "part.gcode")
	require.NoError(t, err)
	require.Equal(t, driver.Success, code)

	_, err = f.EndCapture(ctx)
	require.NoError(t, err)

	code, err = f.Playback(ctx, "part.gcode")
	require.NoError(t, err)
	require.Equal(t, driver.Success, code)
	require.False(t, f.IsFinished())
}

func TestFakePlaybackMissingFile(t *testing.T) {
	ctx := context.Background()
	f := New("test-machine")

	code, err := f.Playback(ctx, "missing.gcode")
	require.NoError(t, err)
	require.Equal(t, driver.FailNoFile, code)
}

func TestFakeInvalidatePosition(t *testing.T) {
	f := New("test-machine")
	f.SetPosition(driver.Position{X: 1, Y: 2, Z: 3})

	pos, err := f.GetCurrentPosition()
	require.NoError(t, err)
	require.Equal(t, 1.0, pos.X)

	f.InvalidatePosition()
	_, err = f.GetCurrentPosition()
	require.Error(t, err)
}

func TestEchoParserRecordsLines(t *testing.T) {
	ctx := context.Background()
	f := New("test-machine")
	parser := NewEchoParser(f)

	cmds, err := parser("G1 X10", 0)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.NoError(t, cmds[0].Run(ctx, f))
	require.Equal(t, []string{"G1 X10"}, f.Executed)
}
