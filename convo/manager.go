package convo

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// DefaultThreshold is the budget fraction that triggers compaction.
const DefaultThreshold = 0.80

// ErrEntryOverBudget is reported when a single entry exceeds the whole
// token budget and had to be truncated with a marker. The conversation
// remains usable; callers surface the degradation to the run result.
var ErrEntryOverBudget = errors.New("conversation entry exceeds token budget")

// Manager owns the conversation log for one run. The agent loop is the
// single writer; Snapshot is safe to call concurrently for display.
type Manager struct {
	mu        sync.Mutex
	entries   []Entry
	est       Estimator
	compactor Compactor
	maxTokens int
	threshold float64
	cached    int // token count, refreshed on every mutation
	nextIndex int
	logger    *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithThreshold overrides the compaction trigger fraction.
func WithThreshold(f float64) ManagerOption {
	return func(m *Manager) {
		if f > 0 && f <= 1 {
			m.threshold = f
		}
	}
}

// WithCompactor sets the compaction strategy.
func WithCompactor(c Compactor) ManagerOption {
	return func(m *Manager) { m.compactor = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager with the given token budget.
func NewManager(maxTokens int, est Estimator, opts ...ManagerOption) *Manager {
	if est == nil {
		est = HeuristicEstimator{}
	}
	m := &Manager{
		est:       est,
		maxTokens: maxTokens,
		threshold: DefaultThreshold,
		compactor: SlidingWindowCompactor{MinRecent: 2},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append adds an entry, assigns its index, and refreshes the cached
// token count.
func (m *Manager) Append(e Entry) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Index = m.nextIndex
	m.nextIndex++
	m.entries = append(m.entries, e)
	m.cached += m.est.Estimate([]Entry{e})
	return e
}

// Snapshot returns a copy of the current entries for display.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// TokenCount returns the cached token estimate.
func (m *Manager) TokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cached
}

// MaxTokens returns the configured budget.
func (m *Manager) MaxTokens() int {
	return m.maxTokens
}

// Window compacts if needed and returns a consistent view for one
// model call. The returned error is ErrEntryOverBudget when a single
// entry had to be truncated; the window is still valid.
func (m *Manager) Window(ctx context.Context) (Window, error) {
	_, err := m.CompactIfNeeded(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]Entry, len(m.entries))
	copy(entries, m.entries)
	return Window{Entries: entries, TokenCount: m.cached, MaxTokens: m.maxTokens}, err
}

// CompactIfNeeded runs the compaction strategy when the cached count
// crosses threshold * maxTokens. Reports whether compaction ran.
// Idempotent: a second call on a fitting conversation does nothing.
func (m *Manager) CompactIfNeeded(ctx context.Context) (bool, error) {
	m.mu.Lock()
	trigger := int(float64(m.maxTokens) * m.threshold)
	if m.cached <= trigger {
		m.mu.Unlock()
		return false, nil
	}
	entries := make([]Entry, len(m.entries))
	copy(entries, m.entries)
	before := m.cached
	m.mu.Unlock()

	// The compactor may call a model; run it outside the lock. The
	// loop is the only writer, so the log cannot change underneath.
	// Compacting down to the trigger level leaves headroom for the
	// next turns instead of landing right at the budget.
	compacted, err := m.compactor.Compact(ctx, entries, trigger, m.est)
	if err != nil {
		return false, err
	}

	var overBudget error
	if m.est.Estimate(compacted) > m.maxTokens {
		// A strategy's recency floor may jointly overshoot the budget;
		// a lone recent entry is better than truncating any of them.
		compacted = dropToLastNonSystem(compacted)
		if m.est.Estimate(compacted) > m.maxTokens {
			// Nothing left to drop: some single entry dwarfs the budget.
			compacted, overBudget = m.truncateLargest(compacted)
		}
	}

	m.mu.Lock()
	m.entries = compacted
	m.cached = m.est.Estimate(compacted)
	after := m.cached
	m.mu.Unlock()

	m.logger.Info("conversation compacted",
		zap.String("strategy", m.compactor.Name()),
		zap.Int("tokens_before", before),
		zap.Int("tokens_after", after),
		zap.Int("budget", m.maxTokens))
	return true, overBudget
}

// dropToLastNonSystem keeps system entries and only the most recent
// non-system entry.
func dropToLastNonSystem(entries []Entry) []Entry {
	last := -1
	for i, e := range entries {
		if e.Kind != EntrySystem {
			last = i
		}
	}
	out := entries[:0:0]
	for i, e := range entries {
		if e.Kind == EntrySystem || i == last {
			out = append(out, e)
		}
	}
	return out
}

// truncateLargest shortens the single largest non-system entry with an
// explicit marker and reports ErrEntryOverBudget.
func (m *Manager) truncateLargest(entries []Entry) ([]Entry, error) {
	largest, size := -1, 0
	for i, e := range entries {
		if e.Kind == EntrySystem {
			continue
		}
		if s := m.est.Estimate([]Entry{e}); s > size {
			largest, size = i, s
		}
	}
	if largest == -1 {
		return entries, ErrEntryOverBudget
	}

	// Leave room for everything else plus headroom under the budget.
	rest := 0
	for i, e := range entries {
		if i != largest {
			rest += m.est.Estimate([]Entry{e})
		}
	}
	target := m.maxTokens - rest - entryOverhead
	if target < 64 {
		target = 64
	}
	entries[largest] = truncateEntry(entries[largest], target, m.est)
	return entries, ErrEntryOverBudget
}
