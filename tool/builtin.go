package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

func schema(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func boolProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": desc}
}

// RegisterBuiltins registers the standard workspace tools. The table
// is explicit: every tool the model can see is listed here.
func RegisterBuiltins(r *Registry, ws *Workspace) {
	r.Register(Registered{
		Definition: Definition{
			Name:        "read_file",
			Description: "Read a file from the workspace, optionally from a 1-based line offset with a line limit.",
			Parameters: schema(map[string]interface{}{
				"path":   strProp("File path, absolute or workspace-relative."),
				"offset": intProp("1-based first line to read."),
				"limit":  intProp("Maximum number of lines."),
			}, "path"),
			ReadOnly: true,
		},
		Executor: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArgs(raw)
			if err != nil {
				return "", err
			}
			path, ok := StringArg(args, "path")
			if !ok {
				return "", fmt.Errorf("read_file: path is required")
			}
			offset, _ := IntArg(args, "offset")
			limit, _ := IntArg(args, "limit")
			return ws.ReadFile(path, offset, limit)
		},
	})

	r.Register(Registered{
		Definition: Definition{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories as needed.",
			Parameters: schema(map[string]interface{}{
				"path":    strProp("File path, absolute or workspace-relative."),
				"content": strProp("Full file content."),
			}, "path", "content"),
		},
		Executor: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArgs(raw)
			if err != nil {
				return "", err
			}
			path, ok := StringArg(args, "path")
			if !ok {
				return "", fmt.Errorf("write_file: path is required")
			}
			content, _ := StringArg(args, "content")
			if err := ws.WriteFile(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	})

	r.Register(Registered{
		Definition: Definition{
			Name:        "list_dir",
			Description: "List a directory in the workspace.",
			Parameters: schema(map[string]interface{}{
				"path": strProp("Directory path; defaults to the workspace root."),
			}),
			ReadOnly: true,
		},
		Executor: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArgs(raw)
			if err != nil {
				return "", err
			}
			path, _ := StringArg(args, "path")
			if path == "" {
				path = "."
			}
			return ws.ListDir(path)
		},
	})

	r.Register(Registered{
		Definition: Definition{
			Name:        "shell",
			Description: "Run a shell command in the workspace. Set run_in_background for long-running commands and poll with task_status.",
			Parameters: schema(map[string]interface{}{
				"command":           strProp("Shell command to run."),
				"dir":               strProp("Working directory; defaults to the workspace root."),
				"run_in_background": boolProp("Run detached and return a task id."),
			}, "command"),
		},
		Executor: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArgs(raw)
			if err != nil {
				return "", err
			}
			command, ok := StringArg(args, "command")
			if !ok {
				return "", fmt.Errorf("shell: command is required")
			}
			dir, _ := StringArg(args, "dir")
			res, err := ws.Exec(ctx, command, dir)
			if err != nil {
				return "", err
			}
			if res.TimedOut {
				return "", fmt.Errorf("shell: command timed out")
			}
			out := res.Output()
			if res.ExitCode != 0 {
				return "", fmt.Errorf("shell: exit %d\n%s", res.ExitCode, out)
			}
			return out, nil
		},
	})

	r.Register(Registered{
		Definition: Definition{
			Name:        "grep",
			Description: "Search file contents by regular expression.",
			Parameters: schema(map[string]interface{}{
				"pattern":          strProp("Pattern to search for."),
				"path":             strProp("File or directory to search; defaults to the workspace root."),
				"case_insensitive": boolProp("Case-insensitive search."),
			}, "pattern"),
			ReadOnly: true,
		},
		Executor: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArgs(raw)
			if err != nil {
				return "", err
			}
			pattern, ok := StringArg(args, "pattern")
			if !ok {
				return "", fmt.Errorf("grep: pattern is required")
			}
			path, _ := StringArg(args, "path")
			ci, _ := BoolArg(args, "case_insensitive")
			return ws.Grep(ctx, pattern, path, ci)
		},
	})

	r.Register(Registered{
		Definition: Definition{
			Name:        "glob",
			Description: "Match file paths by glob pattern.",
			Parameters: schema(map[string]interface{}{
				"pattern": strProp("Glob pattern, e.g. **/*.go."),
				"path":    strProp("Directory to match under; defaults to the workspace root."),
			}, "pattern"),
			ReadOnly: true,
		},
		Executor: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArgs(raw)
			if err != nil {
				return "", err
			}
			pattern, ok := StringArg(args, "pattern")
			if !ok {
				return "", fmt.Errorf("glob: pattern is required")
			}
			path, _ := StringArg(args, "path")
			matches, err := ws.Glob(pattern, path)
			if err != nil {
				return "", err
			}
			return strings.Join(matches, "\n"), nil
		},
	})
}

// RegisterBackgroundTools registers the polling tools for background
// executions started by the agent loop.
func RegisterBackgroundTools(r *Registry, bg *BackgroundManager) {
	r.Register(Registered{
		Definition: Definition{
			Name:        "task_status",
			Description: "Check a background task started with run_in_background.",
			Parameters: schema(map[string]interface{}{
				"task_id": strProp("Task id returned when the task was started."),
			}, "task_id"),
			ReadOnly: true,
		},
		Executor: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArgs(raw)
			if err != nil {
				return "", err
			}
			id, ok := StringArg(args, "task_id")
			if !ok {
				return "", fmt.Errorf("task_status: task_id is required")
			}
			return bg.Describe(id)
		},
	})

	r.Register(Registered{
		Definition: Definition{
			Name:        "task_kill",
			Description: "Cancel a background task.",
			Parameters: schema(map[string]interface{}{
				"task_id": strProp("Task id to cancel."),
			}, "task_id"),
		},
		Executor: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := ParseArgs(raw)
			if err != nil {
				return "", err
			}
			id, ok := StringArg(args, "task_id")
			if !ok {
				return "", fmt.Errorf("task_kill: task_id is required")
			}
			if err := bg.Kill(id); err != nil {
				return "", err
			}
			return "cancelled " + id, nil
		},
	})
}
