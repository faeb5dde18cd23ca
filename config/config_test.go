package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corey-rosamond/Code-Forge-sub005/hook"
	"github.com/corey-rosamond/Code-Forge-sub005/permission"
)

const sampleConfig = `
model: claude-opus-4-6
providers: [anthropic, openai]
ask_default: true
permissions:
  - pattern: "shell(rm -rf*)"
    kind: deny
    priority: 10
  - pattern: "*"
    kind: allow
hooks:
  - name: fmt-check
    event: pre_tool_use
    command: ./hooks/fmt.sh
    timeout: 5s
limits:
  max_iterations: 12
  max_time: 10m
  tool_timeout: 90s
context:
  threshold: 0.75
  strategy: sliding_window
audit_log: audit.jsonl
`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "claude-opus-4-6", cfg.Model)
	assert.Equal(t, []string{"anthropic", "openai"}, cfg.Providers)
	assert.True(t, cfg.AskDefault)
	require.Len(t, cfg.Permissions, 2)
	assert.Equal(t, permission.RuleDeny, cfg.Permissions[0].Kind)
	assert.Equal(t, 10, cfg.Permissions[0].Priority)
	assert.Equal(t, 12, cfg.Limits.MaxIterations)
	assert.Equal(t, 10*time.Minute, cfg.MaxTime())
	assert.Equal(t, 90*time.Second, cfg.ToolTimeout())
	assert.Equal(t, DefaultConfirmTimeout, cfg.ConfirmTimeout())
	assert.Equal(t, 0.75, cfg.Threshold())
	assert.Equal(t, StrategySlidingWindow, cfg.Context.Strategy)

	defs, err := cfg.HookDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "fmt-check", defs[0].Name)
	assert.Equal(t, 5*time.Second, defs[0].Timeout)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("model: gpt-5.2\nproviders: [openai]\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxIterations, cfg.Limits.MaxIterations)
	assert.Equal(t, DefaultToolTimeout, cfg.ToolTimeout())
	assert.Equal(t, DefaultThreshold, cfg.Threshold())
	assert.Equal(t, time.Duration(0), cfg.MaxTime())
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "model: [unclosed"},
		{"no providers", "model: x\nproviders: []"},
		{"bad threshold", "model: x\nproviders: [anthropic]\ncontext:\n  threshold: 1.5"},
		{"bad strategy", "model: x\nproviders: [anthropic]\ncontext:\n  strategy: lossy"},
		{"bad duration", "model: x\nproviders: [anthropic]\nlimits:\n  max_time: soon"},
		{"bad hook timeout", "model: x\nproviders: [anthropic]\nhooks:\n  - name: h\n    event: run_start\n    command: true\n    timeout: never"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestApplySwapsStores(t *testing.T) {
	perms, err := permission.NewStore(nil)
	require.NoError(t, err)
	hooks, err := hook.NewStore(nil)
	require.NoError(t, err)

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(perms, hooks))

	assert.Len(t, hooks.Matching(hook.EventPreToolUse), 1)
}

func TestApplyKeepsPreviousOnBadRules(t *testing.T) {
	perms, err := permission.NewStore([]permission.Rule{{Pattern: "keep(*)", Kind: permission.RuleAllow}})
	require.NoError(t, err)
	before := perms.Snapshot().Version

	bad := Default()
	bad.Permissions = []permission.Rule{{Pattern: "x(*)", Kind: "maybe"}}
	require.Error(t, bad.Apply(perms, nil))
	assert.Equal(t, before, perms.Snapshot().Version)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	loaded := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { loaded <- c }, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("model: gpt-5.2\nproviders: [openai]\n"), 0o644))

	select {
	case cfg := <-loaded:
		assert.Equal(t, "gpt-5.2", cfg.Model)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatcherSkipsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	loaded := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { loaded <- c }, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("providers: []"), 0o644))

	select {
	case <-loaded:
		t.Fatal("invalid config must not reach the callback")
	case <-time.After(300 * time.Millisecond):
	}
}
