// agentctl runs one bounded agent session against a local workspace.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hireloop/agentcore/agentloop"
	"github.com/hireloop/agentcore/inference"
	"github.com/hireloop/agentcore/logging"
)

var version = "dev"

const defaultSystemPrompt = `You are a coding agent operating on a local workspace. Use the available tools to inspect and modify files. When the task is done, reply with a plain-text summary of what you did.`

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Bounded tool-using agent sessions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config file (YAML)")

	run := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one agent session with the given prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return runSession(cmd, cfg, strings.Join(args, " "))
		},
	}
	root.AddCommand(run)

	var failingTool, errorMessage, toolArgs string
	repair := &cobra.Command{
		Use:   "repair",
		Short: "Run one sandboxed repair session for a failed tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return runRepair(cmd, cfg, failingTool, errorMessage, toolArgs)
		},
	}
	repair.Flags().StringVar(&failingTool, "tool", "", "Name of the failing tool")
	repair.Flags().StringVar(&errorMessage, "error", "", "Error message from the failure")
	repair.Flags().StringVar(&toolArgs, "args", "", "Original tool arguments (JSON)")
	_ = repair.MarkFlagRequired("tool")
	_ = repair.MarkFlagRequired("error")
	root.AddCommand(repair)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSession(cmd *cobra.Command, cfg *Config, prompt string) error {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := inference.NewClientFromEnv(
		inference.WithMiddleware(inference.RetryMiddleware(inference.DefaultRetryPolicy())),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	workspace, err := agentloop.NewLocalWorkspace(cfg.Workdir)
	if err != nil {
		return err
	}

	sandbox := agentloop.NewSandboxPolicy(cfg.Sandbox.AllowedPrefixes...)
	registry := agentloop.NewRegistry(agentloop.FileTools(workspace, sandbox))

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	session := agentloop.NewSession(client, registry, agentloop.SessionConfig{
		ModelID:             cfg.Model,
		Provider:            cfg.Provider,
		SystemPrompt:        systemPrompt,
		IterationBudget:     cfg.Budgets.Planner,
		LoopDetectionWindow: cfg.LoopDetectionWindow,
	}, agentloop.WithLogger(logger))
	defer session.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range session.Events() {
			printEvent(event)
		}
	}()

	outcome, err := session.Run(ctx, prompt)
	session.Close()
	<-done
	if err != nil {
		return err
	}

	if outcome.BudgetExceeded() {
		fmt.Fprintf(os.Stderr, "session stopped: iteration budget exhausted after %d calls\n", outcome.Iterations)
	}
	if outcome.FinalText != "" {
		fmt.Println(outcome.FinalText)
	}

	logger.Info("session finished",
		zap.String("reason", string(outcome.Reason)),
		zap.Int("iterations", outcome.Iterations),
		zap.Int("total_tokens", outcome.Usage.TotalTokens),
	)
	return nil
}

func runRepair(cmd *cobra.Command, cfg *Config, failingTool, errorMessage, toolArgs string) error {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := inference.NewClientFromEnv(
		inference.WithMiddleware(inference.RetryMiddleware(inference.DefaultRetryPolicy())),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	workspace, err := agentloop.NewLocalWorkspace(cfg.Workdir)
	if err != nil {
		return err
	}

	repairer := agentloop.NewRepairer(client, workspace, agentloop.RepairConfig{
		ModelID:         cfg.Model,
		Provider:        cfg.Provider,
		IterationBudget: cfg.Budgets.Repair,
		Sandbox:         agentloop.NewSandboxPolicy(cfg.Sandbox.AllowedPrefixes...),
	}, agentloop.WithRepairLogger(logger))

	diag := agentloop.Diagnostic{
		FailingTool:  failingTool,
		ErrorMessage: errorMessage,
	}
	if toolArgs != "" {
		diag.OriginalArguments = json.RawMessage(toolArgs)
	}

	outcome := repairer.Repair(ctx, diag)

	fmt.Printf("fixed: %v\n", outcome.Fixed)
	fmt.Printf("retry recommended: %v\n", outcome.RetryRecommended)
	if len(outcome.FilesModified) > 0 {
		fmt.Printf("files modified: %s\n", strings.Join(outcome.FilesModified, ", "))
	}
	fmt.Printf("summary: %s\n", outcome.Summary)

	if !outcome.Fixed {
		os.Exit(1)
	}
	return nil
}

func printEvent(event agentloop.Event) {
	switch event.Kind {
	case agentloop.EventToolCallStart:
		fmt.Fprintf(os.Stderr, "→ %v\n", event.Data["tool_name"])
	case agentloop.EventToolCallEnd:
		if isErr, _ := event.Data["is_error"].(bool); isErr {
			fmt.Fprintf(os.Stderr, "✗ %v failed\n", event.Data["tool_name"])
		}
	case agentloop.EventLoopDetection:
		fmt.Fprintf(os.Stderr, "! %v\n", event.Data["message"])
	case agentloop.EventBudgetExhausted:
		fmt.Fprintln(os.Stderr, "! iteration budget exhausted")
	}
}
