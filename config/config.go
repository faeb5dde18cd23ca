// Package config loads the engine configuration from YAML and applies
// it to the live rule and hook stores. A Watcher reloads the file on
// change; an invalid file keeps the previous snapshot.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corey-rosamond/Code-Forge-sub005/hook"
	"github.com/corey-rosamond/Code-Forge-sub005/permission"
)

// Defaults applied when the file omits a field.
const (
	DefaultModel          = "claude-sonnet-4-5"
	DefaultMaxIterations  = 25
	DefaultToolTimeout    = 2 * time.Minute
	DefaultConfirmTimeout = 60 * time.Second
	DefaultThreshold      = 0.8
)

// Compaction strategies.
const (
	StrategySummary       = "summary"
	StrategySlidingWindow = "sliding_window"
)

// Config is the full engine configuration.
type Config struct {
	Model       string            `yaml:"model"`
	Providers   []string          `yaml:"providers"`
	AskDefault  bool              `yaml:"ask_default"`
	Permissions []permission.Rule `yaml:"permissions"`
	Hooks       []HookConfig      `yaml:"hooks"`
	Limits      Limits            `yaml:"limits"`
	Context     ContextConfig     `yaml:"context"`
	AuditLog    string            `yaml:"audit_log"`
}

// HookConfig mirrors hook.Definition with a human-readable timeout.
type HookConfig struct {
	Name    string `yaml:"name"`
	Event   string `yaml:"event"`
	Command string `yaml:"command,omitempty"`
	Prompt  string `yaml:"prompt,omitempty"`
	Timeout string `yaml:"timeout,omitempty"` // e.g. "5s"
}

// Limits bounds a run. Durations are human-readable ("10m", "90s").
type Limits struct {
	MaxIterations  int    `yaml:"max_iterations"`
	MaxTime        string `yaml:"max_time,omitempty"`
	ToolTimeout    string `yaml:"tool_timeout,omitempty"`
	ConfirmTimeout string `yaml:"confirm_timeout,omitempty"`
}

// ContextConfig tunes conversation compaction.
type ContextConfig struct {
	Threshold float64 `yaml:"threshold,omitempty"` // fraction of the budget, (0,1]
	Strategy  string  `yaml:"strategy,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Model:     DefaultModel,
		Providers: []string{"anthropic"},
		Limits:    Limits{MaxIterations: DefaultMaxIterations},
		Context:   ContextConfig{Threshold: DefaultThreshold, Strategy: StrategySummary},
	}
}

// Load reads and validates a configuration file. Omitted fields take
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Model == "" {
		return fmt.Errorf("config: model is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	if c.Limits.MaxIterations < 0 {
		return fmt.Errorf("config: limits.max_iterations must be non-negative")
	}
	if t := c.Context.Threshold; t < 0 || t > 1 {
		return fmt.Errorf("config: context.threshold must be in (0,1], got %v", t)
	}
	switch c.Context.Strategy {
	case "", StrategySummary, StrategySlidingWindow:
	default:
		return fmt.Errorf("config: unknown context.strategy %q", c.Context.Strategy)
	}
	for _, h := range c.Hooks {
		if _, err := h.Definition(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	for _, field := range []struct {
		name, value string
	}{
		{"limits.max_time", c.Limits.MaxTime},
		{"limits.tool_timeout", c.Limits.ToolTimeout},
		{"limits.confirm_timeout", c.Limits.ConfirmTimeout},
	} {
		if _, err := parseDuration(field.value, 0); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	return nil
}

// Definition converts the YAML form into a hook definition.
func (h HookConfig) Definition() (hook.Definition, error) {
	timeout, err := parseDuration(h.Timeout, 0)
	if err != nil {
		return hook.Definition{}, fmt.Errorf("hook %q: timeout: %w", h.Name, err)
	}
	return hook.Definition{
		Name:    h.Name,
		Event:   h.Event,
		Command: h.Command,
		Prompt:  h.Prompt,
		Timeout: timeout,
	}, nil
}

// HookDefinitions converts all configured hooks.
func (c *Config) HookDefinitions() ([]hook.Definition, error) {
	defs := make([]hook.Definition, 0, len(c.Hooks))
	for _, h := range c.Hooks {
		def, err := h.Definition()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// MaxTime returns the parsed run time limit, zero when unset.
func (c *Config) MaxTime() time.Duration {
	d, _ := parseDuration(c.Limits.MaxTime, 0)
	return d
}

// ToolTimeout returns the parsed tool timeout.
func (c *Config) ToolTimeout() time.Duration {
	d, _ := parseDuration(c.Limits.ToolTimeout, DefaultToolTimeout)
	return d
}

// ConfirmTimeout returns the parsed confirmation timeout.
func (c *Config) ConfirmTimeout() time.Duration {
	d, _ := parseDuration(c.Limits.ConfirmTimeout, DefaultConfirmTimeout)
	return d
}

// Threshold returns the compaction threshold.
func (c *Config) Threshold() float64 {
	if c.Context.Threshold == 0 {
		return DefaultThreshold
	}
	return c.Context.Threshold
}

// Apply swaps the permission and hook stores to this configuration.
// Either store may be nil. On error the stores keep their previous
// snapshots; rule compilation is all-or-nothing per store.
func (c *Config) Apply(perms *permission.Store, hooks *hook.Store) error {
	if perms != nil {
		if err := perms.Replace(c.Permissions); err != nil {
			return fmt.Errorf("apply permissions: %w", err)
		}
	}
	if hooks != nil {
		defs, err := c.HookDefinitions()
		if err != nil {
			return err
		}
		if err := hooks.Replace(defs); err != nil {
			return fmt.Errorf("apply hooks: %w", err)
		}
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative: %s", s)
	}
	return d, nil
}
