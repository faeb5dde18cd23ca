package permission

import (
	"sort"
	"sync/atomic"
)

// RuleSet is an immutable compiled snapshot of the configured rules,
// pre-sorted per kind by priority desc then specificity desc.
type RuleSet struct {
	Version int
	deny    []compiledRule
	allow   []compiledRule
	ask     []compiledRule
}

// Len returns the total number of rules in the snapshot.
func (s *RuleSet) Len() int {
	return len(s.deny) + len(s.allow) + len(s.ask)
}

func compileRuleSet(version int, rules []Rule) (*RuleSet, error) {
	set := &RuleSet{Version: version}
	for _, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		switch r.Kind {
		case RuleDeny:
			set.deny = append(set.deny, cr)
		case RuleAllow:
			set.allow = append(set.allow, cr)
		case RuleAsk:
			set.ask = append(set.ask, cr)
		}
	}
	for _, bucket := range [][]compiledRule{set.deny, set.allow, set.ask} {
		sort.SliceStable(bucket, func(i, j int) bool {
			if bucket[i].Priority != bucket[j].Priority {
				return bucket[i].Priority > bucket[j].Priority
			}
			return bucket[i].specificity > bucket[j].specificity
		})
	}
	return set, nil
}

// Store holds the live rule snapshot. Replace swaps it atomically so
// every decision evaluates against exactly one version; readers never
// observe a partial update.
type Store struct {
	current atomic.Pointer[RuleSet]
	version atomic.Int64
}

// NewStore creates a Store with the given initial rules.
func NewStore(rules []Rule) (*Store, error) {
	s := &Store{}
	if err := s.Replace(rules); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace compiles and swaps in a new rule set. On compile error the
// previous snapshot stays live.
func (s *Store) Replace(rules []Rule) error {
	version := int(s.version.Add(1))
	set, err := compileRuleSet(version, rules)
	if err != nil {
		return err
	}
	s.current.Store(set)
	return nil
}

// Snapshot returns the live rule set.
func (s *Store) Snapshot() *RuleSet {
	return s.current.Load()
}
