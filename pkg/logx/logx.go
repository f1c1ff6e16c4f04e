// Package logx provides structured logging functionality with env-controlled debug levels.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is a leveled logger scoped to a named component (e.g. "controller", "pipeline").
type Logger struct {
	component string
	logger    *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// debugConfig controls debug logging behavior, set from environment variables at init.
type debugConfig struct {
	enabled bool
	domains map[string]bool // nil means all domains
}

var (
	cfg      = &debugConfig{}
	cfgMutex sync.RWMutex
)

func init() { //nolint:gochecknoinits // env var initialization
	initDebugFromEnv()
}

// initDebugFromEnv reads DEBUG and DEBUG_DOMAINS.
func initDebugFromEnv() {
	cfgMutex.Lock()
	defer cfgMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		cfg.enabled = true
	}

	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		cfg.domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			cfg.domains[strings.TrimSpace(domain)] = true
		}
	}
}

// NewLogger returns a Logger that prefixes every line with component.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0),
	}
}

// SetDebugDomains restricts debug output to the given component names; empty enables all.
func SetDebugDomains(domains []string) {
	cfgMutex.Lock()
	defer cfgMutex.Unlock()

	if len(domains) == 0 {
		cfg.domains = nil
		return
	}
	cfg.domains = make(map[string]bool)
	for _, domain := range domains {
		cfg.domains[strings.TrimSpace(domain)] = true
	}
}

// IsDebugEnabled reports whether debug logging is on globally.
func IsDebugEnabled() bool {
	cfgMutex.RLock()
	defer cfgMutex.RUnlock()
	return cfg.enabled
}

// IsDebugEnabledForDomain reports whether debug logging is on for a specific component.
func IsDebugEnabledForDomain(domain string) bool {
	cfgMutex.RLock()
	defer cfgMutex.RUnlock()

	if !cfg.enabled {
		return false
	}
	if cfg.domains == nil {
		return true
	}
	return cfg.domains[domain]
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, message)
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabledForDomain(l.component) {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// DebugState logs a state transition in a consistent shape.
func (l *Logger) DebugState(action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = fmt.Sprintf(" - %s", extra[0])
	}
	l.Debug("State %s: %s%s", action, state, extraInfo)
}

func (l *Logger) Component() string {
	return l.component
}

var defaultLogger = NewLogger("system")

func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
