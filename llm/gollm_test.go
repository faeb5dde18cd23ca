package llm

import (
	"encoding/json"
	"testing"
)

func TestParseToolCalls(t *testing.T) {
	text := `I'll read the file now.
[{"name": "read_file", "arguments": {"path": "main.go"}}]`

	calls := parseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "read_file" {
		t.Errorf("expected read_file, got %s", calls[0].Name)
	}
	var args map[string]string
	if err := json.Unmarshal(calls[0].Arguments, &args); err != nil {
		t.Fatalf("invalid arguments: %v", err)
	}
	if args["path"] != "main.go" {
		t.Errorf("expected main.go, got %s", args["path"])
	}
}

func TestParseToolCallsNone(t *testing.T) {
	if calls := parseToolCalls("just a plain answer"); calls != nil {
		t.Fatalf("expected no calls, got %v", calls)
	}
}

func TestParseToolCallsMalformedJSON(t *testing.T) {
	if calls := parseToolCalls(`[{"name": "broken`); calls != nil {
		t.Fatalf("expected no calls for malformed JSON, got %v", calls)
	}
}

func TestStripToolCallJSON(t *testing.T) {
	text := `Reading now.
[{"name": "read_file", "arguments": {}}]`
	calls := parseToolCalls(text)
	got := stripToolCallJSON(text, calls)
	if got != "Reading now." {
		t.Errorf("expected cleaned text, got %q", got)
	}
}

func TestTranslateErrorClassification(t *testing.T) {
	c := &GollmClient{provider: "openai"}

	tests := []struct {
		msg       string
		retryable bool
	}{
		{"401 unauthorized", false},
		{"rate limit exceeded", true},
		{"context length exceeded", false},
		{"internal server error", true},
		{"request timeout", true},
		{"something unexpected", true},
	}
	for _, tt := range tests {
		err := c.translateError(errTest(tt.msg))
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("%q: expected retryable=%v, got %v (%T)", tt.msg, tt.retryable, got, err)
		}
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
