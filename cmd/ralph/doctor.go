package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nullstream/ralph/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that ralph can run in this environment",
	Long: `Run preflight checks to diagnose common configuration and environment
issues before starting a run.

This command checks for:
- The agent binary being resolvable on PATH
- The output directory existing or being creatable, and writable
- ANTHROPIC_API_KEY being set (only needed for summary-on-kill failure
  classification; its absence is a warning, not a failure)

Exit codes:
  0 - all checks passed
  1 - one or more checks failed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd)
	},
}

func init() {
	doctorCmd.Flags().String("agent-binary", "", "agent binary to check (default: from config)")
	doctorCmd.Flags().String("output-dir", "", "output directory to check (default: from config)")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command) error {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	cfg := config.DefaultConfig()
	if v, _ := cmd.Flags().GetString("agent-binary"); v != "" {
		cfg.AgentBinary = v
	}
	if v, _ := cmd.Flags().GetString("output-dir"); v != "" {
		cfg.OutputDir = v
	}

	fmt.Printf("Running ralph health checks...\n\n")

	var failures []string
	var warnings []string

	fmt.Printf("%s Agent binary\n", cyan("→"))
	if path, err := exec.LookPath(cfg.AgentBinary); err != nil {
		failures = append(failures, fmt.Sprintf("agent binary %q not found on PATH", cfg.AgentBinary))
		fmt.Printf("  %s %q not found on PATH\n", red("✗"), cfg.AgentBinary)
	} else {
		fmt.Printf("  %s found at %s\n", green("✓"), path)
	}

	fmt.Printf("%s Output directory\n", cyan("→"))
	if err := checkOutputDirWritable(cfg.OutputDir); err != nil {
		failures = append(failures, fmt.Sprintf("output directory %q is not writable: %v", cfg.OutputDir, err))
		fmt.Printf("  %s %v\n", red("✗"), err)
	} else {
		fmt.Printf("  %s %s is writable\n", green("✓"), cfg.OutputDir)
	}

	fmt.Printf("%s Environment variables\n", cyan("→"))
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		warnings = append(warnings, "ANTHROPIC_API_KEY not set")
		fmt.Printf("  %s ANTHROPIC_API_KEY not set\n", yellow("⚠"))
		fmt.Printf("    Summary-on-kill failures will log a plain error instead of a classified message\n")
	} else {
		fmt.Printf("  %s ANTHROPIC_API_KEY is set\n", green("✓"))
	}

	fmt.Printf("\n")
	if len(failures) > 0 {
		fmt.Printf("%s Failures (%d):\n", red("✗"), len(failures))
		for _, f := range failures {
			fmt.Printf("  • %s\n", f)
		}
	}
	if len(warnings) > 0 {
		fmt.Printf("%s Warnings (%d):\n", yellow("⚠"), len(warnings))
		for _, w := range warnings {
			fmt.Printf("  • %s\n", w)
		}
	}

	if len(failures) > 0 {
		fmt.Printf("\n%s ralph cannot run until the failures above are resolved.\n", red("✗"))
		os.Exit(1)
	}
	fmt.Printf("%s ralph should work.\n", green("✓"))
	return nil
}

func checkOutputDirWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	probe, err := os.CreateTemp(dir, ".ralph-doctor-*")
	if err != nil {
		return fmt.Errorf("cannot write: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}
