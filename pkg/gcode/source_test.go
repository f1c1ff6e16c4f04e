package gcode

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"buildctl/pkg/command"
	"buildctl/pkg/driver"
)

func TestSliceSourceIteratesAndResets(t *testing.T) {
	s := NewSliceSource([]string{"a", "b"})
	require.Equal(t, 2, s.LineCount())

	line, ok := s.Next()
	require.True(t, ok)
	require.Equal(t, "a", line)

	line, ok = s.Next()
	require.True(t, ok)
	require.Equal(t, "b", line)

	_, ok = s.Next()
	require.False(t, ok)

	require.NoError(t, s.Reset())
	line, ok = s.Next()
	require.True(t, ok)
	require.Equal(t, "a", line)
}

func TestSliceSourceEmpty(t *testing.T) {
	s := NewSliceSource(nil)
	require.Equal(t, 0, s.LineCount())
	_, ok := s.Next()
	require.False(t, ok)
}

type stringReadCloser struct {
	io.Reader
}

func (stringReadCloser) Close() error { return nil }

func TestReaderSourceSkipsBlankLinesAndResets(t *testing.T) {
	content := "G1 X1\n\nG1 X2\n  \nG1 X3\n"
	opens := 0
	open := func() (io.ReadCloser, error) {
		opens++
		return stringReadCloser{strings.NewReader(content)}, nil
	}

	rs, err := NewReaderSource(open, 3)
	require.NoError(t, err)
	require.Equal(t, 1, opens)
	require.Equal(t, 3, rs.LineCount())

	var lines []string
	for {
		line, ok := rs.Next()
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	require.Equal(t, []string{"G1 X1", "G1 X2", "G1 X3"}, lines)

	require.NoError(t, rs.Reset())
	require.Equal(t, 2, opens)
	line, ok := rs.Next()
	require.True(t, ok)
	require.Equal(t, "G1 X1", line)
}

func TestReaderSourceTrimsTrailingCR(t *testing.T) {
	content := "G1 X1\r\nG1 X2\r\n"
	open := func() (io.ReadCloser, error) {
		return stringReadCloser{strings.NewReader(content)}, nil
	}
	rs, err := NewReaderSource(open, 2)
	require.NoError(t, err)

	line, _ := rs.Next()
	require.Equal(t, "G1 X1", line)
}

func TestNullParserEmitsNoCommands(t *testing.T) {
	cmds, err := NullParser("G1 X1", TargetMachine)
	require.NoError(t, err)
	require.Nil(t, cmds)
}

func TestParserContractRunsAgainstDriver(t *testing.T) {
	var ran bool
	parser := Parser(func(line string, target Target) ([]command.Command, error) {
		return []command.Command{command.Func(func(ctx context.Context, d driver.Core) error {
			ran = true
			return nil
		})}, nil
	})

	cmds, err := parser("G1 X1", TargetMachine)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.NoError(t, cmds[0].Run(context.Background(), nil))
	require.True(t, ran)
}
