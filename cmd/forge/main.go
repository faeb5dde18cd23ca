// forge runs coding tasks through the agent engine: it wires the model
// fallback chain, the tool table, permissions, hooks, and the
// conversation budget, then executes a task to a terminal status.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/corey-rosamond/Code-Forge-sub005/agent"
	"github.com/corey-rosamond/Code-Forge-sub005/audit"
	"github.com/corey-rosamond/Code-Forge-sub005/config"
	"github.com/corey-rosamond/Code-Forge-sub005/convo"
	"github.com/corey-rosamond/Code-Forge-sub005/hook"
	"github.com/corey-rosamond/Code-Forge-sub005/llm"
	"github.com/corey-rosamond/Code-Forge-sub005/permission"
	"github.com/corey-rosamond/Code-Forge-sub005/tool"
)

const version = "0.3.0"

const systemPrompt = `You are a coding agent working inside a project workspace.
Use the available tools to inspect and modify files, run commands, and
answer the user's task. Prefer small, verifiable steps. When the task is
complete, reply with a final summary instead of another tool call.`

var (
	configPath    string
	workDir       string
	modelFlag     string
	providersFlag []string
	readOnly      bool
	maxIterations int
	maxTime       time.Duration
	verbose       bool
	noConfirm     bool
	compaction    string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:     "forge",
	Short:   "forge - agent execution engine for coding tasks",
	Version: version,
	Long: `forge executes coding tasks with an LLM agent loop: streaming model
turns, permission-gated tool calls, lifecycle hooks, and automatic
context compaction. Configuration lives in a YAML file that reloads on
change.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.OutputPaths = []string{"stderr"}
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Execute a task to completion",
	Long: `Runs a task through the agent loop until the model produces a final
answer or a limit stops it. The exit code is zero for a completed run
and non-zero otherwise; a stopped run still prints its partial
progress.

Example:
  forge run "add a --json flag to the status command"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return fmt.Errorf("no config file given; use --config")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if _, err := permission.NewStore(cfg.Permissions); err != nil {
			return fmt.Errorf("permissions: %w", err)
		}
		defs, err := cfg.HookDefinitions()
		if err != nil {
			return err
		}
		if _, err := hook.NewStore(defs); err != nil {
			return fmt.Errorf("hooks: %w", err)
		}
		fmt.Printf("%s: %d permission rules, %d hooks, model %s\n",
			configPath, len(cfg.Permissions), len(defs), cfg.Model)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	runCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Model id or alias (overrides config)")
	runCmd.Flags().StringSliceVar(&providersFlag, "provider", nil, "Provider fallback order (overrides config)")
	runCmd.Flags().BoolVar(&readOnly, "read-only", false, "Admit only read-only tools")
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Iteration limit (overrides config)")
	runCmd.Flags().DurationVar(&maxTime, "max-time", 0, "Wall-clock limit for the run (overrides config)")
	runCmd.Flags().BoolVar(&noConfirm, "no-confirm", false, "Deny ask-gated actions instead of prompting")
	runCmd.Flags().StringVar(&compaction, "compaction", "", "Compaction strategy: summary or sliding_window (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	printerDone := make(chan struct{})
	go printEvents(engine.Events(), printerDone)

	task := agent.Task{
		Goal:          strings.Join(args, " "),
		MaxIterations: cfg.Limits.MaxIterations,
		MaxTime:       cfg.MaxTime(),
		ReadOnly:      readOnly,
	}
	if maxIterations > 0 {
		task.MaxIterations = maxIterations
	}
	if maxTime > 0 {
		task.MaxTime = maxTime
	}

	res, err := engine.Run(ctx, task)
	<-printerDone
	if err != nil {
		return err
	}

	switch res.Status {
	case agent.RunCompleted:
		logger.Info("run completed",
			zap.String("run_id", res.RunID),
			zap.Int("iterations", res.Iterations),
			zap.Int("total_tokens", res.Usage.TotalTokens))
		return nil
	case agent.RunError:
		return fmt.Errorf("run failed: %s", res.Reason)
	default:
		fmt.Fprintf(os.Stderr, "run %s: %s (%d iterations, %d tokens)\n",
			res.Status, res.Reason, res.Iterations, res.Usage.TotalTokens)
		return fmt.Errorf("run did not complete: %s", res.Status)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if len(providersFlag) > 0 {
		cfg.Providers = providersFlag
	}
	switch compaction {
	case "", config.StrategySummary, config.StrategySlidingWindow:
		if compaction != "" {
			cfg.Context.Strategy = compaction
		}
	default:
		return nil, fmt.Errorf("unknown compaction strategy %q", compaction)
	}
	return cfg, nil
}

// buildEngine assembles the full loop from configuration. The returned
// cleanup stops the config watcher, background tasks, and audit sink.
func buildEngine(cfg *config.Config) (*agent.Loop, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	clients := make([]llm.Client, 0, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		c, err := llm.NewGollmClient(provider, llm.WithModel(cfg.Model))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("provider %s: %w", provider, err)
		}
		clients = append(clients, c)
	}
	client, err := llm.NewFallback(llm.DefaultRetryPolicy(), logger, clients...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	permStore, err := permission.NewStore(cfg.Permissions)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	hookDefs, err := cfg.HookDefinitions()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	hookStore, err := hook.NewStore(hookDefs)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	if configPath != "" {
		watcher, err := config.Watch(configPath, func(next *config.Config) {
			if err := next.Apply(permStore, hookStore); err != nil {
				logger.Warn("config reload not applied", zap.Error(err))
			}
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = watcher.Close() })
	}

	var sink audit.Sink = audit.NopSink{}
	if cfg.AuditLog != "" {
		fileSink, err := audit.NewFileSink(cfg.AuditLog)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("audit log: %w", err)
		}
		cleanups = append(cleanups, func() { _ = fileSink.Close() })
		sink = fileSink
	}

	engineOpts := []permission.EngineOption{
		permission.WithAuditSink(sink),
		permission.WithLogger(logger),
	}
	if cfg.AskDefault {
		engineOpts = append(engineOpts, permission.WithAskDefault(true))
	}
	perms := permission.NewEngine(permStore, engineOpts...)

	ws := tool.NewWorkspace(workDir)
	registry := tool.NewRegistry()
	tool.RegisterBuiltins(registry, ws)
	background := tool.NewBackgroundManager()
	tool.RegisterBackgroundTools(registry, background)
	cleanups = append(cleanups, background.Close)

	var compactor convo.Compactor
	if cfg.Context.Strategy == config.StrategySlidingWindow {
		compactor = convo.SlidingWindowCompactor{MinRecent: 2}
	} else {
		compactor = convo.SummaryCompactor{Client: client, Model: cfg.Model}
	}
	manager := convo.NewManager(
		llm.ContextWindowFor(cfg.Model),
		convo.NewEstimator(),
		convo.WithThreshold(cfg.Threshold()),
		convo.WithCompactor(compactor),
		convo.WithLogger(logger),
	)
	manager.Append(convo.NewSystemEntry(systemPrompt))

	var confirmer permission.Confirmer
	if !noConfirm {
		confirmer = &terminalConfirmer{in: os.Stdin, out: os.Stderr}
	}

	loop, err := agent.New(agent.Config{
		Client:         client,
		Model:          cfg.Model,
		Convo:          manager,
		Permissions:    perms,
		Hooks:          hook.NewDispatcher(hookStore, hook.NewRunner(workDir, client, cfg.Model), hook.WithLogger(logger)),
		Gateway:        tool.NewLocalGateway(registry, logger),
		Registry:       registry,
		Background:     background,
		Confirmer:      confirmer,
		ConfirmTimeout: cfg.ConfirmTimeout(),
		ToolTimeout:    cfg.ToolTimeout(),
		Logger:         logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return loop, cleanup, nil
}

// printEvents renders run events: assistant text streams to stdout,
// tool activity goes to stderr.
func printEvents(events <-chan agent.Event, done chan<- struct{}) {
	defer close(done)
	streaming := false
	for ev := range events {
		switch ev.Kind {
		case agent.EventAssistantDelta:
			fmt.Print(ev.Data["delta"])
			streaming = true
		case agent.EventToolCallStart:
			if streaming {
				fmt.Println()
				streaming = false
			}
			fmt.Fprintf(os.Stderr, "→ %v\n", ev.Data["tool"])
		case agent.EventPermissionDenied:
			fmt.Fprintf(os.Stderr, "✗ %v denied: %v\n", ev.Data["tool"], ev.Data["reason"])
		case agent.EventWarning:
			fmt.Fprintf(os.Stderr, "! %v\n", ev.Data["warning"])
		case agent.EventRunEnd:
			if streaming {
				fmt.Println()
			}
		}
	}
}

// terminalConfirmer prompts on the terminal for ask-gated actions.
type terminalConfirmer struct {
	in  *os.File
	out *os.File
}

func (t *terminalConfirmer) Confirm(ctx context.Context, action permission.Action, d permission.Decision) (bool, error) {
	fmt.Fprintf(t.out, "\nAllow %s? [y/N] ", action.Descriptor())

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(t.in).ReadString('\n')
		answer <- line
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(t.out, "(timed out)")
		return false, ctx.Err()
	case line := <-answer:
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes", nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
