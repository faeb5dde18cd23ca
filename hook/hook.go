// Package hook runs user-configured lifecycle hooks. Hooks matching an
// event fan out concurrently, each bounded by its own timeout, so the
// dispatch wall-clock is the slowest hook's budget rather than the sum.
package hook

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
)

// Well-known lifecycle events.
const (
	EventPreToolUse  = "pre_tool_use"
	EventPostToolUse = "post_tool_use"
	EventRunStart    = "run_start"
	EventRunEnd      = "run_end"
	EventCompaction  = "compaction"
)

// DefaultTimeout applies when a definition does not set one.
const DefaultTimeout = 10 * time.Second

// Definition is one configured hook. Exactly one of Command or Prompt
// is the invocation target.
type Definition struct {
	Name    string        `json:"name" yaml:"name"`
	Event   string        `json:"event" yaml:"event"` // glob over event names
	Command string        `json:"command,omitempty" yaml:"command,omitempty"`
	Prompt  string        `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// EffectiveTimeout returns the definition's timeout or the default.
func (d Definition) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Status is the outcome of one hook invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
	StatusBlocked Status = "blocked"
)

// Result is the outcome of running one hook.
type Result struct {
	Hook    string        `json:"hook"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Blocked returns the first blocked result, if any. A blocked result
// forces the pending action to be treated as denied.
func Blocked(results []Result) (Result, bool) {
	for _, r := range results {
		if r.Status == StatusBlocked {
			return r, true
		}
	}
	return Result{}, false
}

// Payload is the event context serialized to hooks.
type Payload struct {
	Event    string          `json:"event"`
	Tool     string          `json:"tool,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Output   string          `json:"output,omitempty"`
	IsError  bool            `json:"is_error,omitempty"`
	RunID    string          `json:"run_id,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

type compiledHook struct {
	Definition
	matcher glob.Glob
}

// hookSet is an immutable compiled snapshot in definition order.
type hookSet struct {
	version int
	hooks   []compiledHook
}

func compileHookSet(version int, defs []Definition) (*hookSet, error) {
	set := &hookSet{version: version}
	for _, d := range defs {
		if d.Event == "" {
			return nil, fmt.Errorf("hook %q has no event pattern", d.Name)
		}
		if (d.Command == "") == (d.Prompt == "") {
			return nil, fmt.Errorf("hook %q must set exactly one of command or prompt", d.Name)
		}
		matcher, err := glob.Compile(d.Event)
		if err != nil {
			return nil, fmt.Errorf("hook %q event pattern: %w", d.Name, err)
		}
		set.hooks = append(set.hooks, compiledHook{Definition: d, matcher: matcher})
	}
	return set, nil
}

// Store holds the live hook snapshot, swapped atomically on reload.
type Store struct {
	current atomic.Pointer[hookSet]
	version atomic.Int64
}

// NewStore creates a Store with the given initial definitions.
func NewStore(defs []Definition) (*Store, error) {
	s := &Store{}
	if err := s.Replace(defs); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace compiles and swaps in new definitions. On error the previous
// snapshot stays live.
func (s *Store) Replace(defs []Definition) error {
	version := int(s.version.Add(1))
	set, err := compileHookSet(version, defs)
	if err != nil {
		return err
	}
	s.current.Store(set)
	return nil
}

// Matching returns the definitions whose event pattern matches, in
// definition order.
func (s *Store) Matching(event string) []Definition {
	set := s.current.Load()
	var out []Definition
	for _, h := range set.hooks {
		if h.matcher.Match(event) {
			out = append(out, h.Definition)
		}
	}
	return out
}
