// Package config loads a machine's configuration from a YAML file: its
// name, the opaque driver subtree passed untouched to a driver factory,
// warmup/cooldown G-code blocks, and runtime preferences.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"buildctl/pkg/controller"
	"buildctl/pkg/retry"
)

// Preferences mirrors controller.Preferences in its YAML-facing shape;
// see MachineConfig.ToControllerPreferences.
type Preferences struct {
	Simulator      bool        `yaml:"simulator"`
	ShowSimulator  bool        `yaml:"show_simulator"`
	MonitorTemp    bool        `yaml:"monitor_temp"`
	PollIntervalMs int         `yaml:"poll_interval_ms"`
	RetryPolicy    RetryPolicy `yaml:"retry_policy"`
}

// RetryPolicy mirrors retry.Policy in its YAML-facing shape. The zero
// value (no retry_policy block at all) yields retry.Unbounded, matching
// the upstream behaviour the Open Question decision carries forward by
// default.
type RetryPolicy struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

// ToPolicy converts to retry.Policy, consumed directly as
// controller.Config.Retry.
func (r RetryPolicy) ToPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: r.MaxRetries,
		BaseDelay:  time.Duration(r.BaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(r.MaxDelayMs) * time.Millisecond,
	}
}

// MachineConfig is the YAML-decoded configuration read once at
// construction. Driver is left as an opaque map — the core never
// interprets it, only threads it through to a controller.DriverFactory.
type MachineConfig struct {
	Name     string         `yaml:"name"`
	Driver   map[string]any `yaml:"driver"`
	Warmup   string         `yaml:"warmup"`
	Cooldown string         `yaml:"cooldown"`

	Preferences Preferences `yaml:"preferences"`
}

// Load reads and parses a MachineConfig from path.
func Load(path string) (*MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg MachineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("config %s: name is required", path)
	}
	return &cfg, nil
}

// WarmupLines splits the newline-separated warmup block into lines,
// dropping blanks.
func (c *MachineConfig) WarmupLines() []string {
	return splitLines(c.Warmup)
}

// CooldownLines splits the newline-separated cooldown block into lines,
// dropping blanks.
func (c *MachineConfig) CooldownLines() []string {
	return splitLines(c.Cooldown)
}

func splitLines(block string) []string {
	if block == "" {
		return nil
	}
	raw := strings.Split(block, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// ToControllerPreferences adapts the YAML preference block to
// controller.Preferences.
func (c *MachineConfig) ToControllerPreferences() controller.Preferences {
	return controller.Preferences{
		Simulator:      c.Preferences.Simulator,
		ShowSimulator:  c.Preferences.ShowSimulator,
		MonitorTemp:    c.Preferences.MonitorTemp,
		PollIntervalMs: c.Preferences.PollIntervalMs,
	}
}
