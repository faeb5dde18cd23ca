package hook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner returns scripted results keyed by hook name, optionally
// sleeping first.
type fakeRunner struct {
	results map[string]Result
	sleeps  map[string]time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, def Definition, payload Payload) (Result, error) {
	if d, ok := f.sleeps[def.Name]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Result{Hook: def.Name, Status: StatusTimeout}, nil
		}
	}
	if r, ok := f.results[def.Name]; ok {
		r.Hook = def.Name
		return r, nil
	}
	return Result{Hook: def.Name, Status: StatusSuccess}, nil
}

func mustHookStore(t *testing.T, defs []Definition) *Store {
	t.Helper()
	s, err := NewStore(defs)
	require.NoError(t, err)
	return s
}

func TestDispatchRunsMatchingHooksInOrder(t *testing.T) {
	store := mustHookStore(t, []Definition{
		{Name: "first", Event: "pre_tool_use", Command: "true"},
		{Name: "other", Event: "post_tool_use", Command: "true"},
		{Name: "second", Event: "pre_*", Command: "true"},
	})
	d := NewDispatcher(store, &fakeRunner{})

	results := d.Dispatch(context.Background(), EventPreToolUse, Payload{Tool: "shell"})
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Hook)
	assert.Equal(t, "second", results[1].Hook)
}

func TestDispatchWallClockIsMaxNotSum(t *testing.T) {
	store := mustHookStore(t, []Definition{
		{Name: "a", Event: "e", Command: "true", Timeout: 50 * time.Millisecond},
		{Name: "b", Event: "e", Command: "true", Timeout: 50 * time.Millisecond},
		{Name: "c", Event: "e", Command: "true", Timeout: 50 * time.Millisecond},
	})
	runner := &fakeRunner{sleeps: map[string]time.Duration{
		"a": 200 * time.Millisecond, // exceeds its own budget
		"b": 10 * time.Millisecond,
		"c": 10 * time.Millisecond,
	}}
	d := NewDispatcher(store, runner)

	start := time.Now()
	results := d.Dispatch(context.Background(), "e", Payload{})
	elapsed := time.Since(start)

	// Three 50ms budgets in sequence would be 150ms; concurrent
	// dispatch stays near the single largest budget.
	assert.Less(t, elapsed, 150*time.Millisecond, "hooks must run concurrently")

	require.Len(t, results, 3)
	assert.Equal(t, StatusTimeout, results[0].Status)
	assert.Equal(t, StatusSuccess, results[1].Status)
	assert.Equal(t, StatusSuccess, results[2].Status)
}

func TestDispatchWideFanOutDoesNotBatch(t *testing.T) {
	const n = 12
	defs := make([]Definition, n)
	sleeps := make(map[string]time.Duration, n)
	for i := range defs {
		name := "h" + string(rune('a'+i))
		defs[i] = Definition{Name: name, Event: "e", Command: "true", Timeout: time.Second}
		sleeps[name] = 60 * time.Millisecond
	}
	store := mustHookStore(t, defs)
	d := NewDispatcher(store, &fakeRunner{sleeps: sleeps})

	start := time.Now()
	results := d.Dispatch(context.Background(), "e", Payload{})
	elapsed := time.Since(start)

	// Any batching of the fan-out would show up as at least two full
	// sleep periods.
	assert.Less(t, elapsed, 120*time.Millisecond, "all matching hooks must run at once")

	require.Len(t, results, n)
	for _, r := range results {
		assert.Equal(t, StatusSuccess, r.Status)
	}
}

func TestDispatchTimeoutDoesNotDelayOthers(t *testing.T) {
	store := mustHookStore(t, []Definition{
		{Name: "slow", Event: "e", Command: "true", Timeout: 30 * time.Millisecond},
		{Name: "fast", Event: "e", Command: "true", Timeout: time.Second},
	})
	runner := &fakeRunner{sleeps: map[string]time.Duration{"slow": 500 * time.Millisecond}}
	d := NewDispatcher(store, runner)

	results := d.Dispatch(context.Background(), "e", Payload{})
	require.Len(t, results, 2)
	assert.Equal(t, StatusTimeout, results[0].Status)
	assert.Equal(t, StatusSuccess, results[1].Status)
}

func TestDispatchFailureIsNonBlocking(t *testing.T) {
	store := mustHookStore(t, []Definition{
		{Name: "bad", Event: "e", Command: "true"},
		{Name: "good", Event: "e", Command: "true"},
	})
	runner := &fakeRunner{results: map[string]Result{
		"bad": {Status: StatusFailure, Message: "exit 1"},
	}}
	d := NewDispatcher(store, runner)

	results := d.Dispatch(context.Background(), "e", Payload{})
	require.Len(t, results, 2)
	assert.Equal(t, StatusFailure, results[0].Status)
	assert.Equal(t, StatusSuccess, results[1].Status)

	_, blocked := Blocked(results)
	assert.False(t, blocked, "failures must not block the action")
}

func TestBlockedAggregation(t *testing.T) {
	store := mustHookStore(t, []Definition{
		{Name: "ok", Event: "e", Command: "true"},
		{Name: "guard", Event: "e", Command: "true"},
	})
	runner := &fakeRunner{results: map[string]Result{
		"guard": {Status: StatusBlocked, Message: "touching protected path"},
	}}
	d := NewDispatcher(store, runner)

	results := d.Dispatch(context.Background(), "e", Payload{})
	r, blocked := Blocked(results)
	require.True(t, blocked)
	assert.Equal(t, "guard", r.Hook)
	assert.Equal(t, "touching protected path", r.Message)
}

func TestDispatchNoMatches(t *testing.T) {
	store := mustHookStore(t, []Definition{{Name: "h", Event: "other", Command: "true"}})
	d := NewDispatcher(store, &fakeRunner{})
	assert.Nil(t, d.Dispatch(context.Background(), "e", Payload{}))
}

func TestStoreValidation(t *testing.T) {
	_, err := NewStore([]Definition{{Name: "h", Event: "", Command: "true"}})
	assert.Error(t, err, "missing event pattern")

	_, err = NewStore([]Definition{{Name: "h", Event: "e"}})
	assert.Error(t, err, "no target")

	_, err = NewStore([]Definition{{Name: "h", Event: "e", Command: "true", Prompt: "p"}})
	assert.Error(t, err, "two targets")
}

func TestStoreReplaceSwapsSnapshot(t *testing.T) {
	store := mustHookStore(t, []Definition{{Name: "old", Event: "e", Command: "true"}})
	require.NoError(t, store.Replace([]Definition{{Name: "new", Event: "e", Command: "true"}}))

	defs := store.Matching("e")
	require.Len(t, defs, 1)
	assert.Equal(t, "new", defs[0].Name)
}

func TestEffectiveTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, Definition{}.EffectiveTimeout())
	assert.Equal(t, time.Second, Definition{Timeout: time.Second}.EffectiveTimeout())
}
