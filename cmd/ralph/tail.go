package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nullstream/ralph/internal/config"
	"github.com/nullstream/ralph/internal/metadata"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Watch a run's progress",
	Long: `Display the iterations recorded so far for a run and, with --follow,
keep polling the metadata file for updates until the run reaches a terminal
status or the process is interrupted.

Without --run-id, tail follows <output-dir>/latest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTail(cmd)
	},
}

func init() {
	tailCmd.Flags().BoolP("follow", "f", false, "keep polling for updates (Ctrl+C to stop)")
	tailCmd.Flags().String("run-id", "", "specific run id to follow (default: latest)")
	tailCmd.Flags().String("output-dir", "", "output directory to read from (default: from config)")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command) error {
	follow, _ := cmd.Flags().GetBool("follow")
	runID, _ := cmd.Flags().GetString("run-id")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	if outputDir == "" {
		outputDir = config.DefaultOutputDir
	}

	metaPath, err := resolveMetaPath(outputDir, runID)
	if err != nil {
		return err
	}

	shownIterations := 0
	doc, err := readMetadata(metaPath)
	if err != nil {
		return err
	}
	shownIterations = printNewIterations(doc, shownIterations)

	if !follow || isTerminal(doc.Status) {
		return nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nstopped following")
			return nil
		case <-ticker.C:
			doc, err := readMetadata(metaPath)
			if err != nil {
				continue
			}
			shownIterations = printNewIterations(doc, shownIterations)
			if isTerminal(doc.Status) {
				printSummaryLine(doc)
				return nil
			}
		}
	}
}

func resolveMetaPath(outputDir, runID string) (string, error) {
	if runID != "" {
		return filepath.Join(outputDir, "runs", runID, metadata.MetaFileName), nil
	}
	return filepath.Join(outputDir, "latest", metadata.MetaFileName), nil
}

func readMetadata(path string) (*metadata.RunMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run metadata: %w", err)
	}
	var doc metadata.RunMetadata
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse run metadata: %w", err)
	}
	return &doc, nil
}

func isTerminal(status metadata.RunStatus) bool {
	switch status {
	case metadata.StatusCompleted, metadata.StatusFailed, metadata.StatusInterrupted:
		return true
	default:
		return false
	}
}

func printNewIterations(doc *metadata.RunMetadata, shown int) int {
	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	if shown == 0 {
		fmt.Printf("%s run %s (%s)\n", cyan("▶"), doc.RunID, doc.Status)
	}
	for i := shown; i < len(doc.Iterations); i++ {
		it := doc.Iterations[i]
		status := "running"
		if it.EndReason != "" {
			status = string(it.EndReason)
		}
		fmt.Printf("  %s iteration %d: %s (%d in / %d out tokens)\n", gray("·"), it.Number, status, it.InputTokens, it.OutputTokens)
		if it.Summary != "" {
			fmt.Printf("    %s\n", it.Summary)
		}
	}
	return len(doc.Iterations)
}

func printSummaryLine(doc *metadata.RunMetadata) {
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	switch doc.Status {
	case metadata.StatusCompleted:
		fmt.Printf("%s run %s completed\n", green("✓"), doc.RunID)
	case metadata.StatusInterrupted:
		fmt.Printf("%s run %s interrupted\n", yellow("■"), doc.RunID)
	default:
		fmt.Printf("%s run %s failed: %s\n", red("✗"), doc.RunID, doc.ExitReason)
	}
}
