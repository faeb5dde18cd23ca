package tool

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(Registered{
		Definition: Definition{Name: "read_file", ReadOnly: true},
		Executor: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "ok", nil
		},
	})

	if got := r.Get("read_file"); got == nil {
		t.Fatal("expected registered tool")
	}
	if got := r.Get("missing"); got != nil {
		t.Fatal("expected nil for unknown tool")
	}
	if !r.IsReadOnly("read_file") {
		t.Error("read_file must be read-only")
	}
	if r.IsReadOnly("missing") {
		t.Error("unknown tools are not read-only")
	}
}

func TestRegistryDefinitionsPreserveOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"alpha", "beta", "gamma"}
	for _, n := range names {
		r.Register(Registered{Definition: Definition{Name: n}})
	}
	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 definitions, got %d", len(defs))
	}
	for i, n := range names {
		if defs[i].Name != n {
			t.Errorf("position %d: expected %s, got %s", i, n, defs[i].Name)
		}
	}
}

func TestRegistryReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(Registered{Definition: Definition{Name: "a", Description: "v1"}})
	r.Register(Registered{Definition: Definition{Name: "b"}})
	r.Register(Registered{Definition: Definition{Name: "a", Description: "v2"}})

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if defs[0].Name != "a" || defs[0].Description != "v2" {
		t.Errorf("re-registration must replace in place: %+v", defs[0])
	}
}

func TestParseArgsHelpers(t *testing.T) {
	args, err := ParseArgs(json.RawMessage(`{"path": "a.go", "limit": 10, "flag": true}`))
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := StringArg(args, "path"); !ok || s != "a.go" {
		t.Errorf("StringArg: got %q, %v", s, ok)
	}
	if n, ok := IntArg(args, "limit"); !ok || n != 10 {
		t.Errorf("IntArg: got %d, %v", n, ok)
	}
	if b, ok := BoolArg(args, "flag"); !ok || !b {
		t.Errorf("BoolArg: got %v, %v", b, ok)
	}
	if _, ok := StringArg(args, "missing"); ok {
		t.Error("missing key must not be found")
	}
}

func TestParseArgsInvalid(t *testing.T) {
	if _, err := ParseArgs(json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
