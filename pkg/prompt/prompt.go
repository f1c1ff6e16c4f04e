// Package prompt decouples the build pipeline from any UI: a UserPrompt
// is injected into the worker so stop-condition dialogs (informational or
// yes/no) don't hard-wire the core to a windowing toolkit.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"buildctl/pkg/logx"
)

// UserPrompt surfaces stop-condition dialogs raised mid-build.
type UserPrompt interface {
	// Info shows an informational message; used for UNCONDITIONAL_HALT,
	// PROGRAM_END, PROGRAM_REWIND, and SD capture failures.
	Info(msg string)
	// Confirm asks a yes/no question; used for OPTIONAL_HALT. Returning
	// true pops the command and continues the segment.
	Confirm(msg string) bool
}

// Headless is the default UserPrompt for tests and unattended runs: it
// logs every Info message and always answers Confirm with false, i.e. it
// treats every optional halt as "stop", the safer default absent a human.
type Headless struct {
	logger *logx.Logger
}

// NewHeadless creates a Headless prompt that logs through logger. A nil
// logger is replaced with a default "prompt" logger.
func NewHeadless(logger *logx.Logger) *Headless {
	if logger == nil {
		logger = logx.NewLogger("prompt")
	}
	return &Headless{logger: logger}
}

func (h *Headless) Info(msg string) {
	h.logger.Info("%s", msg)
}

func (h *Headless) Confirm(msg string) bool {
	h.logger.Info("%s (headless: answering no)", msg)
	return false
}

// Interactive reads yes/no answers from an attached terminal, falling
// back to Headless behavior whenever in or out is not a real TTY (piped
// stdin, a daemonized process, a test harness). NewAuto is the usual
// constructor; the fields are unexported, and newInteractive takes an
// explicit in/out pair and TTY flag for tests.
type Interactive struct {
	in       io.Reader
	out      io.Writer
	headless *Headless
	isTTY    bool
}

// NewAuto probes whether stdin/stdout are attached to a terminal via
// golang.org/x/term and returns an Interactive prompt that reads
// confirmations from the keyboard when one is present, or silently
// degrades to Headless (log-and-decline) otherwise.
func NewAuto(logger *logx.Logger) *Interactive {
	return newInteractive(os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())), logger)
}

func newInteractive(in io.Reader, out io.Writer, isTTY bool, logger *logx.Logger) *Interactive {
	return &Interactive{in: in, out: out, headless: NewHeadless(logger), isTTY: isTTY}
}

func (p *Interactive) Info(msg string) {
	if !p.isTTY {
		p.headless.Info(msg)
		return
	}
	fmt.Fprintf(p.out, "%s\n", msg)
}

func (p *Interactive) Confirm(msg string) bool {
	if !p.isTTY {
		return p.headless.Confirm(msg)
	}

	fmt.Fprintf(p.out, "%s [y/N]: ", msg)
	scanner := bufio.NewScanner(p.in)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
