package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors the subset of Config that can be set from a TOML
// file, using the same key names as the CLI flags. Pointer/zero-value
// fields distinguish "unset in file" from "explicitly set to zero", so CLI
// flags can still override.
type fileConfig struct {
	Prompt             string   `toml:"prompt"`
	PromptFile         string   `toml:"prompt_file"`
	MaxIterations      *int     `toml:"max_iterations"`
	CompletionPromise  string   `toml:"completion_promise"`
	OutputDir          string   `toml:"output_dir"`
	ContextLimit       *int     `toml:"context_limit"`
	AgentBinary        string   `toml:"agent_binary"`
	AgentArgs          []string `toml:"agent_args"`
	TokenEstimation    string   `toml:"token_estimation"`
	SummaryOnKill      *bool    `toml:"summary_on_kill"`
}

// LoadFile parses a TOML config file and applies its values onto base,
// returning the merged Config. Only keys present in the file are applied;
// fields left unset in the file retain base's value, so a later CLI-flag
// pass can still override either layer.
func LoadFile(base *Config, path string) (*Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	merged := *base

	if fc.Prompt != "" {
		merged.PromptText = fc.Prompt
	} else if fc.PromptFile != "" {
		if err := ResolvePrompt(&merged, "", fc.PromptFile); err != nil {
			return nil, err
		}
	}
	if fc.CompletionPromise != "" {
		merged.CompletionPromise = fc.CompletionPromise
	}
	if fc.MaxIterations != nil {
		merged.MaxIterations = *fc.MaxIterations
	}
	if fc.OutputDir != "" {
		merged.OutputDir = fc.OutputDir
	}
	if fc.ContextLimit != nil {
		merged.ContextTokenLimit = *fc.ContextLimit
	}
	if fc.AgentBinary != "" {
		merged.AgentBinary = fc.AgentBinary
	}
	if len(fc.AgentArgs) > 0 {
		merged.AgentArgs = fc.AgentArgs
	}
	if fc.TokenEstimation != "" {
		merged.TokenEstimationMethod = methodFromString(fc.TokenEstimation)
	}
	if fc.SummaryOnKill != nil {
		merged.SummaryOnKill = *fc.SummaryOnKill
	}

	return &merged, nil
}
