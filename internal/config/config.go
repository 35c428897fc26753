// Package config loads and validates the supervisor's configuration from
// CLI flags and an optional TOML file.
package config

import (
	"fmt"
	"os"

	"github.com/nullstream/ralph/internal/tokenest"
)

// DefaultCompletionPromise is the literal the agent must emit to signal
// that the task is done, unless the caller overrides it.
const DefaultCompletionPromise = "TASK COMPLETE"

// DefaultContextTokenLimit is the context-token budget enforced per
// iteration before the supervisor proactively kills the child.
const DefaultContextTokenLimit = 180000

// DefaultOutputDir is where run metadata is written when not overridden.
const DefaultOutputDir = ".ralph-loop-output"

// Config is the supervisor's immutable-after-load configuration.
type Config struct {
	// PromptText is the fixed task prompt sent to the agent on every
	// iteration. Resolved from either a prompt file or a literal CLI
	// value at load time; exactly one source is the caller's job to supply.
	PromptText string

	// CompletionPromise is the literal that, found in the agent's output,
	// marks the run as successful.
	CompletionPromise string

	// MaxIterations is the iteration budget. Zero means unlimited.
	MaxIterations int

	// ContextTokenLimit is the approximate per-iteration token cap.
	ContextTokenLimit int

	// OutputDir is where the runs/ directory and latest symlink live.
	OutputDir string

	// AgentBinary is the path (or PATH-resolved name) of the agent
	// subprocess to spawn.
	AgentBinary string

	// AgentArgs are the fixed arguments passed to AgentBinary on every
	// invocation, before the prompt is written to its stdin.
	AgentArgs []string

	// TokenEstimationMethod selects the C1 estimator strategy.
	TokenEstimationMethod tokenest.Method

	// SummaryOnKill enables the summary mini-iteration after a
	// context-limit kill.
	SummaryOnKill bool
}

// DefaultConfig returns a Config with every field set to its documented
// default, except PromptText, which has no meaningful default.
func DefaultConfig() *Config {
	return &Config{
		CompletionPromise:     DefaultCompletionPromise,
		MaxIterations:         0,
		ContextTokenLimit:     DefaultContextTokenLimit,
		OutputDir:             DefaultOutputDir,
		AgentBinary:           "claude",
		AgentArgs:             []string{"--print", "--dangerously-skip-permissions"},
		TokenEstimationMethod: tokenest.MethodByteRatio,
		SummaryOnKill:         false,
	}
}

// Validate checks the configuration for invalid or missing values. It does
// not check filesystem state (that is `ralph doctor`'s job) - only structural
// validity of the values themselves.
func (c *Config) Validate() error {
	if c.PromptText == "" {
		return fmt.Errorf("prompt is required")
	}
	if c.CompletionPromise == "" {
		return fmt.Errorf("completion promise must not be empty")
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max iterations must be non-negative, got %d", c.MaxIterations)
	}
	if c.ContextTokenLimit <= 0 {
		return fmt.Errorf("context token limit must be positive, got %d", c.ContextTokenLimit)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if c.AgentBinary == "" {
		return fmt.Errorf("agent binary is required")
	}
	if !c.TokenEstimationMethod.IsValid() {
		return fmt.Errorf("unknown token estimation method: %q", c.TokenEstimationMethod)
	}
	return nil
}

func methodFromString(s string) tokenest.Method {
	switch tokenest.Method(s) {
	case tokenest.MethodAccurateBPE, tokenest.MethodByteRatio, tokenest.MethodCharRatio:
		return tokenest.Method(s)
	default:
		return tokenest.MethodByteRatio
	}
}

// ResolvePrompt fills PromptText from either a literal or a file, enforcing
// that exactly one source is given - the mutual exclusivity the CLI
// contract requires.
func ResolvePrompt(c *Config, promptText, promptFile string) error {
	switch {
	case promptText != "" && promptFile != "":
		return fmt.Errorf("--prompt and a prompt file are mutually exclusive")
	case promptText != "":
		c.PromptText = promptText
	case promptFile != "":
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return fmt.Errorf("failed to read prompt file %s: %w", promptFile, err)
		}
		c.PromptText = string(data)
	default:
		return fmt.Errorf("one of --prompt or a prompt-file argument is required")
	}
	return nil
}
