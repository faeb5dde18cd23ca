// Package permission decides whether tool invocations may proceed.
// Rules are glob patterns over a canonical action descriptor; deny
// always beats allow, allow beats ask, and an unmatched action falls
// back to the configured default.
package permission

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// RuleKind is the effect of a matching rule.
type RuleKind string

const (
	RuleDeny  RuleKind = "deny"
	RuleAllow RuleKind = "allow"
	RuleAsk   RuleKind = "ask"
)

// Pattern complexity caps, enforced at load time. Compiled globs never
// backtrack, but pathological patterns are rejected anyway.
const (
	maxPatternLength    = 256
	maxPatternWildcards = 16
)

// Rule is a single permission rule as configured.
type Rule struct {
	Pattern     string   `json:"pattern" yaml:"pattern"`
	Kind        RuleKind `json:"kind" yaml:"kind"`
	Priority    int      `json:"priority" yaml:"priority"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// compiledRule pairs a rule with its matcher. Specificity (pattern
// length minus wildcards) breaks priority ties: longer, more literal
// patterns win.
type compiledRule struct {
	Rule
	matcher     glob.Glob
	specificity int
}

func compileRule(r Rule) (compiledRule, error) {
	if r.Pattern == "" {
		return compiledRule{}, fmt.Errorf("rule has empty pattern")
	}
	if len(r.Pattern) > maxPatternLength {
		return compiledRule{}, fmt.Errorf("pattern %q exceeds %d bytes", truncPattern(r.Pattern), maxPatternLength)
	}
	if n := strings.Count(r.Pattern, "*") + strings.Count(r.Pattern, "?"); n > maxPatternWildcards {
		return compiledRule{}, fmt.Errorf("pattern %q has %d wildcards (max %d)", truncPattern(r.Pattern), n, maxPatternWildcards)
	}
	switch r.Kind {
	case RuleDeny, RuleAllow, RuleAsk:
	default:
		return compiledRule{}, fmt.Errorf("rule %q has unknown kind %q", truncPattern(r.Pattern), r.Kind)
	}

	matcher, err := glob.Compile(r.Pattern)
	if err != nil {
		return compiledRule{}, fmt.Errorf("pattern %q: %w", truncPattern(r.Pattern), err)
	}
	return compiledRule{
		Rule:        r,
		matcher:     matcher,
		specificity: len(r.Pattern) - strings.Count(r.Pattern, "*") - strings.Count(r.Pattern, "?"),
	}, nil
}

func truncPattern(p string) string {
	if len(p) > 40 {
		return p[:40] + "..."
	}
	return p
}

// Action is a pending tool invocation to be decided.
type Action struct {
	Tool       string `json:"tool"`
	ArgSummary string `json:"arg_summary"`
}

// Descriptor returns the canonical form rules match against:
// "tool(arg summary)".
func (a Action) Descriptor() string {
	return a.Tool + "(" + a.ArgSummary + ")"
}

// Status is the outcome of a permission decision.
type Status string

const (
	StatusAllowed  Status = "allowed"
	StatusDenied   Status = "denied"
	StatusAsk      Status = "ask"
	StatusTimedOut Status = "timed_out"
)

// Decision is the result of evaluating an action against a rule set.
type Decision struct {
	Status      Status `json:"status"`
	Rule        *Rule  `json:"rule,omitempty"` // matching rule, nil for defaults
	RuleVersion int    `json:"rule_version"`
	Reason      string `json:"reason"`
}
