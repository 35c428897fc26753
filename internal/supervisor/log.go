package supervisor

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

func logRunStart(runID, promptPreview string) {
	fmt.Fprintf(os.Stderr, "%s run %s\n", cyan("▶"), runID)
	fmt.Fprintf(os.Stderr, "  %s %q\n", gray("prompt:"), promptPreview)
}

func logIterationStart(n int) {
	fmt.Fprintf(os.Stderr, "%s iteration %d\n", cyan("→"), n)
}

func logIterationEnd(n int, outcomeLabel string, tokens int) {
	fmt.Fprintf(os.Stderr, "  %s iteration %d ended: %s (%d tokens)\n", gray("·"), n, outcomeLabel, tokens)
}

func logSummaryIteration(n int) {
	fmt.Fprintf(os.Stderr, "  %s generating summary for killed iteration %d\n", yellow("↺"), n)
}

func logMetadataWriteFailed(what string, err error) {
	fmt.Fprintf(os.Stderr, "  %s %s: %v\n", yellow("⚠"), what, err)
}

func logSuccess(runID string, iterations int) {
	fmt.Fprintf(os.Stderr, "%s run %s succeeded after %d iteration(s)\n", green("✓"), runID, iterations)
}

func logFailed(runID string, iterations int) {
	fmt.Fprintf(os.Stderr, "%s run %s failed after %d iteration(s) without the promise\n", red("✗"), runID, iterations)
}

func logShutdown(runID string, iterations int) {
	fmt.Fprintf(os.Stderr, "%s run %s interrupted after %d iteration(s)\n", yellow("■"), runID, iterations)
}
