// Package gcode defines the restartable line source the build pipeline
// iterates, and the parser contract the core consumes as an opaque
// function from (line, target) to a command sequence.
package gcode

import (
	"bufio"
	"io"
	"strings"

	"buildctl/pkg/command"
)

// Source is a restartable, lazy, finite sequence of text lines. LineCount
// is approximate and used only for progress estimation.
type Source interface {
	// Next returns the next line and true, or ("", false) at end of
	// sequence.
	Next() (string, bool)
	// Reset rewinds the source so it can be iterated again.
	Reset() error
	// LineCount is the approximate total number of lines, for progress.
	LineCount() int
}

// SliceSource is an in-memory Source, the common case for warmup/cooldown
// blocks and for tests.
type SliceSource struct {
	lines []string
	pos   int
}

// NewSliceSource builds a Source over an in-memory list of lines.
func NewSliceSource(lines []string) *SliceSource {
	return &SliceSource{lines: lines}
}

func (s *SliceSource) Next() (string, bool) {
	if s.pos >= len(s.lines) {
		return "", false
	}
	line := s.lines[s.pos]
	s.pos++
	return line, true
}

func (s *SliceSource) Reset() error {
	s.pos = 0
	return nil
}

func (s *SliceSource) LineCount() int { return len(s.lines) }

// ReaderSource wraps an io.Reader that can be reopened by a factory, so
// Reset re-scans from the start without holding the whole file in memory.
type ReaderSource struct {
	open    func() (io.ReadCloser, error)
	cur     io.ReadCloser
	scanner *bufio.Scanner
	count   int
}

// NewReaderSource builds a Source that reopens via open on every Reset.
// count is an approximate line total supplied by the caller (e.g. from a
// pre-scan), since counting requires a full read.
func NewReaderSource(open func() (io.ReadCloser, error), count int) (*ReaderSource, error) {
	rs := &ReaderSource{open: open, count: count}
	if err := rs.Reset(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (rs *ReaderSource) Next() (string, bool) {
	if rs.scanner == nil {
		return "", false
	}
	for rs.scanner.Scan() {
		line := strings.TrimRight(rs.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		return line, true
	}
	return "", false
}

func (rs *ReaderSource) Reset() error {
	if rs.cur != nil {
		_ = rs.cur.Close()
	}
	r, err := rs.open()
	if err != nil {
		return err
	}
	rs.cur = r
	rs.scanner = bufio.NewScanner(r)
	return nil
}

func (rs *ReaderSource) LineCount() int { return rs.count }

// Target selects which driver(s) a parsed command stream is aimed at.
type Target int

const (
	TargetNone Target = iota
	TargetMachine
	TargetSimulator
	TargetRemoteFile
	TargetFile
)

func (t Target) String() string {
	switch t {
	case TargetMachine:
		return "machine"
	case TargetSimulator:
		return "simulator"
	case TargetRemoteFile:
		return "remote_file"
	case TargetFile:
		return "file"
	default:
		return "none"
	}
}

// Parser turns one source line into an ordered command sequence for the
// given target. The core treats it as an opaque external collaborator; a
// real G-code lexer/parser is out of scope here, only the contract is
// defined.
type Parser func(line string, target Target) ([]command.Command, error)

// NullParser is a parser that emits no commands; the controller uses it
// when no parser is configured.
func NullParser(string, Target) ([]command.Command, error) {
	return nil, nil
}
