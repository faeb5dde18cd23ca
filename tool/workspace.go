package tool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// ExecResult holds the result of a shell command.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// sensitiveEnvSuffixes are excluded from child process environments.
var sensitiveEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// alwaysEnvVars pass through regardless of filtering.
var alwaysEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

func filteredEnvironment() []string {
	var out []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if alwaysEnvVars[parts[0]] || !isSensitiveEnvVar(parts[0]) {
			out = append(out, env)
		}
	}
	return out
}

// Workspace anchors file and shell operations to a working directory
// with a filtered environment.
type Workspace struct {
	root string
}

// NewWorkspace creates a Workspace rooted at dir (cwd when empty).
func NewWorkspace(dir string) *Workspace {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return &Workspace{root: dir}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

func (w *Workspace) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.root, path)
}

// ReadFile reads a file, optionally from a 1-based line offset with a
// line limit, formatted with line numbers.
func (w *Workspace) ReadFile(path string, offset, limit int) (string, error) {
	data, err := os.ReadFile(w.resolve(path))
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

// WriteFile writes content, creating parent directories as needed.
func (w *Workspace) WriteFile(path, content string) error {
	resolved := w.resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return fmt.Errorf("write_file: %w", err)
	}
	return os.WriteFile(resolved, []byte(content), 0644)
}

// ListDir lists a directory, one entry per line, directories suffixed
// with a slash.
func (w *Workspace) ListDir(path string) (string, error) {
	entries, err := os.ReadDir(w.resolve(path))
	if err != nil {
		return "", fmt.Errorf("list_dir: %w", err)
	}
	var sb strings.Builder
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		sb.WriteString(name + "\n")
	}
	return sb.String(), nil
}

// Exec runs a shell command in the workspace under ctx. The child runs
// in its own process group so a timeout kills the whole tree.
func (w *Workspace) Exec(ctx context.Context, command, dir string) (*ExecResult, error) {
	if dir == "" {
		dir = w.root
	} else {
		dir = w.resolve(dir)
	}

	shell, shellArg := "/bin/bash", "-c"
	if runtime.GOOS == "windows" {
		shell, shellArg = "cmd.exe", "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, command)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = filteredEnvironment()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
			result.ExitCode = -1
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("exec: %w", err)
		}
	}
	return result, nil
}

// Grep searches with ripgrep when available, plain grep otherwise.
func (w *Workspace) Grep(ctx context.Context, pattern, path string, caseInsensitive bool) (string, error) {
	if path == "" {
		path = w.root
	} else {
		path = w.resolve(path)
	}

	bin, args := "grep", []string{"-rn", pattern, path}
	if rg, err := exec.LookPath("rg"); err == nil {
		bin = rg
		args = []string{pattern, path, "--line-number", "--no-heading"}
	}
	if caseInsensitive {
		args = append(args, "-i")
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = w.root
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	_ = cmd.Run() // exit 1 means no matches
	return stdout.String(), nil
}

// Glob matches files under the workspace.
func (w *Workspace) Glob(pattern, path string) ([]string, error) {
	if path == "" {
		path = w.root
	} else {
		path = w.resolve(path)
	}
	matches, err := filepath.Glob(filepath.Join(path, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob: %w", err)
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		if rel, err := filepath.Rel(w.root, m); err == nil {
			out[i] = rel
		} else {
			out[i] = m
		}
	}
	return out, nil
}
