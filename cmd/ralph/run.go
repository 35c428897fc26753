package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nullstream/ralph/internal/config"
	"github.com/nullstream/ralph/internal/iteration"
	"github.com/nullstream/ralph/internal/metadata"
	"github.com/nullstream/ralph/internal/shutdown"
	"github.com/nullstream/ralph/internal/supervisor"
	"github.com/nullstream/ralph/internal/tokenest"
)

var runCmd = &cobra.Command{
	Use:   "run [prompt-file]",
	Short: "Start the supervised iteration loop",
	Long: `run spawns a fresh agent for each iteration and feeds it the
configured prompt. The prompt comes from --prompt or a prompt-file
argument (not both), which override the config file's prompt/prompt_file
keys; a prompt must resolve from one of these.

Each iteration ends when the agent exits on its own, when its estimated
token usage crosses --context-limit (the agent is killed), or when the
process receives an interrupt. The run itself ends when the completion
promise is observed, the iteration budget (--max-iterations) is exhausted,
or the process is interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoop(cmd, args)
	},
}

func init() {
	runCmd.Flags().String("config", "", "path to a TOML config file")
	runCmd.Flags().String("prompt", "", "literal prompt text")
	runCmd.Flags().String("completion-promise", "", "literal that marks the run as complete when seen in agent output")
	runCmd.Flags().Int("max-iterations", -1, "iteration budget, 0 for unlimited (default: from config)")
	runCmd.Flags().Int("context-limit", 0, "approximate per-iteration token budget before killing the agent")
	runCmd.Flags().String("output-dir", "", "directory for run metadata")
	runCmd.Flags().String("agent-binary", "", "agent binary to spawn")
	runCmd.Flags().StringSlice("agent-args", nil, "fixed arguments passed to the agent binary")
	runCmd.Flags().String("token-estimation", "", "token estimation method: accurate-bpe, byte-ratio, or char-ratio")
	runCmd.Flags().Bool("summary-on-kill", false, "run a summary mini-iteration after a context-limit kill")
	rootCmd.AddCommand(runCmd)
}

func runLoop(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd, args)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}

	now := time.Now()
	runID := metadata.NewRunID(now)
	writer, err := metadata.NewRun(cfg.OutputDir, runID, cwd, cfg.PromptText, cfg.CompletionPromise, now)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	newChild := func() (iteration.ChildProcess, error) {
		return iteration.Spawn(cfg.AgentBinary, cfg.AgentArgs, cwd)
	}

	sup := supervisor.New(cfg, writer, newChild)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	broadcast := shutdown.New()
	go func() {
		<-sigCh
		fmt.Fprintf(os.Stderr, "\n%s interrupt received, stopping the current iteration\n", color.New(color.FgYellow).SprintFunc()("■"))
		broadcast.Signal()
	}()

	outcome, err := sup.Run(context.Background(), runID, broadcast.Done())
	if err != nil {
		return err
	}

	os.Exit(outcome.ExitCode())
	return nil
}

// loadRunConfig builds a Config by layering, lowest priority first: built-in
// defaults, an optional --config TOML file, then explicit CLI flags. A flag
// left at its zero/sentinel value does not override a lower layer.
func loadRunConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		loaded, err := config.LoadFile(cfg, configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	promptText, _ := cmd.Flags().GetString("prompt")
	var promptFile string
	if len(args) == 1 {
		promptFile = args[0]
	}
	if promptText != "" || promptFile != "" {
		if err := config.ResolvePrompt(cfg, promptText, promptFile); err != nil {
			return nil, err
		}
	}

	if v, _ := cmd.Flags().GetString("completion-promise"); v != "" {
		cfg.CompletionPromise = v
	}
	if v, _ := cmd.Flags().GetInt("max-iterations"); v >= 0 {
		cfg.MaxIterations = v
	}
	if v, _ := cmd.Flags().GetInt("context-limit"); v > 0 {
		cfg.ContextTokenLimit = v
	}
	if v, _ := cmd.Flags().GetString("output-dir"); v != "" {
		cfg.OutputDir = v
	}
	if v, _ := cmd.Flags().GetString("agent-binary"); v != "" {
		cfg.AgentBinary = v
	}
	if v, _ := cmd.Flags().GetStringSlice("agent-args"); len(v) > 0 {
		cfg.AgentArgs = v
	}
	if v, _ := cmd.Flags().GetString("token-estimation"); v != "" {
		method := tokenest.Method(v)
		if !method.IsValid() {
			return nil, fmt.Errorf("unknown --token-estimation value: %q", v)
		}
		cfg.TokenEstimationMethod = method
	}
	if v, _ := cmd.Flags().GetBool("summary-on-kill"); v {
		cfg.SummaryOnKill = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
