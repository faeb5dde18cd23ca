package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	"github.com/corey-rosamond/Code-Forge-sub005/llm"
)

// BlockExitCode is the exit code a command hook uses to block the
// pending action; stderr becomes the block message.
const BlockExitCode = 2

// Runner executes one hook definition against a payload.
type Runner interface {
	Run(ctx context.Context, def Definition, payload Payload) (Result, error)
}

// CommandRunner runs command hooks through the shell with the payload
// JSON on stdin.
type CommandRunner struct {
	WorkDir string
}

func (r *CommandRunner) Run(ctx context.Context, def Definition, payload Payload) (Result, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return Result{Hook: def.Name, Status: StatusFailure, Message: err.Error()}, err
	}

	shell, shellArg := "/bin/bash", "-c"
	if runtime.GOOS == "windows" {
		shell, shellArg = "cmd.exe", "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, def.Command)
	cmd.Dir = r.WorkDir
	cmd.Stdin = bytes.NewReader(input)
	// Process group so a timeout kills the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return Result{Hook: def.Name, Status: StatusTimeout, Message: "hook timed out"}, nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == BlockExitCode {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = "blocked by hook " + def.Name
			}
			return Result{Hook: def.Name, Status: StatusBlocked, Message: msg}, nil
		}
		return Result{Hook: def.Name, Status: StatusFailure, Message: strings.TrimSpace(stderr.String())}, nil
	}
	return Result{Hook: def.Name, Status: StatusSuccess, Message: strings.TrimSpace(stdout.String())}, nil
}

// blockPrefix marks a blocking verdict in a prompt hook's reply.
const blockPrefix = "block:"

// PromptRunner evaluates prompt hooks with an auxiliary model call.
// A reply whose first line starts with "block:" blocks the action.
type PromptRunner struct {
	Client llm.Client
	Model  string
}

func (r *PromptRunner) Run(ctx context.Context, def Definition, payload Payload) (Result, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return Result{Hook: def.Name, Status: StatusFailure, Message: err.Error()}, err
	}

	resp, err := llm.Collect(ctx, r.Client, llm.Request{
		Model: r.Model,
		Messages: []llm.Message{
			llm.SystemMessage("You evaluate a policy check for a coding agent. " +
				"Reply with a single line: either \"ok\" or \"block: <reason>\"."),
			llm.UserMessage(def.Prompt + "\n\nEvent payload:\n" + string(input)),
		},
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Result{Hook: def.Name, Status: StatusTimeout, Message: "hook timed out"}, nil
		}
		return Result{Hook: def.Name, Status: StatusFailure, Message: err.Error()}, nil
	}

	line := strings.TrimSpace(resp.Text)
	if idx := strings.IndexByte(line, '\n'); idx != -1 {
		line = line[:idx]
	}
	if strings.HasPrefix(strings.ToLower(line), blockPrefix) {
		reason := strings.TrimSpace(line[len(blockPrefix):])
		if reason == "" {
			reason = "blocked by hook " + def.Name
		}
		return Result{Hook: def.Name, Status: StatusBlocked, Message: reason}, nil
	}
	return Result{Hook: def.Name, Status: StatusSuccess, Message: line}, nil
}

// routingRunner picks the runner matching the definition's target.
type routingRunner struct {
	command Runner
	prompt  Runner
}

// NewRunner builds the standard runner: commands through the shell,
// prompts through the given model client (nil disables prompt hooks).
func NewRunner(workDir string, client llm.Client, model string) Runner {
	rr := &routingRunner{command: &CommandRunner{WorkDir: workDir}}
	if client != nil {
		rr.prompt = &PromptRunner{Client: client, Model: model}
	}
	return rr
}

func (r *routingRunner) Run(ctx context.Context, def Definition, payload Payload) (Result, error) {
	if def.Command != "" {
		return r.command.Run(ctx, def, payload)
	}
	if r.prompt == nil {
		return Result{Hook: def.Name, Status: StatusFailure, Message: "prompt hooks are not configured"}, nil
	}
	return r.prompt.Run(ctx, def, payload)
}
