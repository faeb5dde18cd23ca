package tool

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	return NewWorkspace(t.TempDir())
}

func TestWorkspaceReadFileWithOffsetAndLimit(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := ws.WriteFile("a.txt", "one\ntwo\nthree\nfour\n"); err != nil {
		t.Fatal(err)
	}

	out, err := ws.ReadFile("a.txt", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := "2 | two\n3 | three\n"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}

	out, err = ws.ReadFile("a.txt", 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if out != "" {
		t.Errorf("offset past EOF should be empty, got %q", out)
	}
}

func TestWorkspaceWriteFileCreatesParents(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := ws.WriteFile("deep/nested/b.txt", "hi"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(ws.Root(), "deep/nested/b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hi" {
		t.Errorf("got %q", data)
	}
}

func TestWorkspaceListDirMarksDirectories(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := ws.WriteFile("sub/x.txt", ""); err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteFile("top.txt", ""); err != nil {
		t.Fatal(err)
	}

	out, err := ws.ListDir(".")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "sub/\n") {
		t.Errorf("directory entry not marked: %q", out)
	}
	if !strings.Contains(out, "top.txt\n") {
		t.Errorf("file entry missing: %q", out)
	}
}

func TestWorkspaceExec(t *testing.T) {
	ws := newTestWorkspace(t)
	res, err := ws.Exec(context.Background(), "echo hello; echo oops >&2; exit 3", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "hello") || !strings.Contains(res.Stderr, "oops") {
		t.Errorf("unexpected output: %+v", res)
	}
	if !strings.Contains(res.Output(), "hello") || !strings.Contains(res.Output(), "oops") {
		t.Errorf("Output() should combine streams: %q", res.Output())
	}
}

func TestWorkspaceExecTimeout(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := ws.Exec(ctx, "sleep 5", "")
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Error("expected timeout")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", res.ExitCode)
	}
}

func TestWorkspaceGlobReturnsRelativePaths(t *testing.T) {
	ws := newTestWorkspace(t)
	for _, name := range []string{"a.go", "b.go", "c.txt"} {
		if err := ws.WriteFile(name, ""); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := ws.Glob("*.go", "")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(matches)
	if len(matches) != 2 || matches[0] != "a.go" || matches[1] != "b.go" {
		t.Errorf("got %v", matches)
	}
}

func TestFilteredEnvironmentDropsSecrets(t *testing.T) {
	t.Setenv("FORGE_TEST_API_KEY", "secret")
	t.Setenv("FORGE_TEST_PLAIN", "ok")

	env := filteredEnvironment()
	for _, kv := range env {
		if strings.HasPrefix(kv, "FORGE_TEST_API_KEY=") {
			t.Error("sensitive variable leaked into child environment")
		}
	}
	found := false
	for _, kv := range env {
		if kv == "FORGE_TEST_PLAIN=ok" {
			found = true
		}
	}
	if !found {
		t.Error("plain variable should pass through")
	}
}

func TestIsSensitiveEnvVar(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"ANTHROPIC_API_KEY", true},
		{"db_password", true},
		{"GITHUB_TOKEN", true},
		{"EDITOR", false},
		{"PATH", false},
	}
	for _, tt := range tests {
		if got := isSensitiveEnvVar(tt.name); got != tt.want {
			t.Errorf("isSensitiveEnvVar(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
