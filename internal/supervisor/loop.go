// Package supervisor implements the loop that repeatedly invokes a fresh
// agent against a fixed prompt until the agent's output contains the
// completion promise, the iteration budget runs out, or shutdown is
// requested.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nullstream/ralph/internal/config"
	"github.com/nullstream/ralph/internal/iteration"
	"github.com/nullstream/ralph/internal/metadata"
)

// summaryTailLimit bounds how much of a summary mini-iteration's output is
// stored on disk.
const summaryTailLimit = 4000

// NewChildFunc spawns a fresh agent subprocess for one iteration. It is
// injected so tests can substitute iteration.NewScriptedChild in place of a
// real os/exec-backed process.
type NewChildFunc func() (iteration.ChildProcess, error)

// Supervisor drives the Init -> Running -> {Success, Failed, Shutdown}
// state machine for a single run.
type Supervisor struct {
	cfg      *config.Config
	writer   *metadata.Writer
	newChild NewChildFunc
	shared   *iteration.SharedState
}

// New builds a Supervisor for one run.
func New(cfg *config.Config, writer *metadata.Writer, newChild NewChildFunc) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		writer:   writer,
		newChild: newChild,
		shared:   iteration.NewSharedState(),
	}
}

// RunOutcome is the terminal result of a run, ready for the CLI layer to
// turn into an exit code and a final status line.
type RunOutcome struct {
	Status     metadata.RunStatus
	Iterations int
}

// ExitCode maps a terminal run status to a process exit code: 0 on success,
// distinct non-zero values otherwise so scripts can tell a failed run apart
// from an interrupted one.
func (o RunOutcome) ExitCode() int {
	switch o.Status {
	case metadata.StatusCompleted:
		return 0
	case metadata.StatusInterrupted:
		return 2
	default:
		return 1
	}
}

// Run executes the state machine: each pass spawns a fresh agent, invokes
// it against cfg.PromptText, and classifies the result. It returns once the
// run reaches a terminal state.
func (s *Supervisor) Run(ctx context.Context, runID string, shutdown <-chan struct{}) (*RunOutcome, error) {
	params := iteration.Params{
		Method:            s.cfg.TokenEstimationMethod,
		ContextTokenLimit: s.cfg.ContextTokenLimit,
		CompletionPromise: s.cfg.CompletionPromise,
	}

	logRunStart(runID, s.writer.Document().PromptPreview)

	// i numbers the persisted IterationMetadata entries and stays
	// contiguous (1..N); budgetUsed additionally counts summary
	// mini-iterations, which get no metadata entry of their own, against
	// the configured budget (decided policy: summaries count).
	i := 0
	budgetUsed := 0
	for {
		if s.cfg.MaxIterations > 0 && budgetUsed+1 > s.cfg.MaxIterations {
			return s.finish(metadata.StatusFailed, "iteration budget exhausted without the completion promise", i)
		}
		i++
		budgetUsed++

		logIterationStart(i)
		s.writeBestEffort(fmt.Sprintf("failed to record start of iteration %d", i), func() error {
			return s.writer.StartIteration(i, time.Now())
		})

		result, err := s.runOneChild(s.cfg.PromptText, params, shutdown)
		if err != nil {
			return s.finishWithErr(fmt.Errorf("%w: %v", ErrSpawn, err), i)
		}

		if result.SessionID != "" {
			s.writeBestEffort(fmt.Sprintf("failed to record session id for iteration %d", i), func() error {
				return s.writer.SetSessionID(result.SessionID)
			})
		}
		endReason := classifyEndReason(result.Outcome)
		s.writeBestEffort(fmt.Sprintf("failed to record end of iteration %d", i), func() error {
			return s.writer.EndIteration(endReason, result.InputTokens, result.OutputTokens, time.Now())
		})
		logIterationEnd(i, string(endReason), result.Tokens)

		if result.KillErr != nil {
			return s.finishWithErr(fmt.Errorf("%w: %v", ErrKillGrace, result.KillErr), i)
		}

		if result.Outcome == iteration.OutcomeShutdown {
			return s.finish(metadata.StatusInterrupted, "shutdown observed", i)
		}

		if result.PromiseFound {
			return s.finish(metadata.StatusCompleted, "", i)
		}

		if result.Outcome == iteration.OutcomeContextLimit && s.cfg.SummaryOnKill && result.SessionID != "" {
			// The summary mini-iteration counts against the iteration
			// budget (decided policy: summary iterations count), but it
			// does not get its own metadata entry or its own number - its
			// output is attached to the killed iteration instead.
			killedIteration := i
			budgetUsed++
			logSummaryIteration(killedIteration)

			summaryOutcome, summaryErr := s.runSummary(result.SessionID, params, shutdown)
			if summaryErr != nil {
				text := classifySummaryFailure(ctx, summaryErr)
				s.writeBestEffort(fmt.Sprintf("failed to record summary for iteration %d", killedIteration), func() error {
					return s.writer.WriteIterationSummary(killedIteration, text)
				})
			} else if summaryOutcome.Outcome == iteration.OutcomeShutdown {
				return s.finish(metadata.StatusInterrupted, "shutdown observed during summary", i)
			} else {
				text := strings.Join(summaryOutcome.Tail, "\n")
				if len(text) > summaryTailLimit {
					text = text[len(text)-summaryTailLimit:]
				}
				s.writeBestEffort(fmt.Sprintf("failed to record summary for iteration %d", killedIteration), func() error {
					return s.writer.WriteIterationSummary(killedIteration, text)
				})
			}
		}
	}
}

func (s *Supervisor) runOneChild(prompt string, params iteration.Params, shutdown <-chan struct{}) (*iteration.Result, error) {
	s.shared.Reset()
	child, err := s.newChild()
	if err != nil {
		return nil, err
	}
	return iteration.Invoke(child, prompt, s.shared, params, shutdown), nil
}

func (s *Supervisor) runSummary(sessionID string, params iteration.Params, shutdown <-chan struct{}) (*iteration.Result, error) {
	prompt := fmt.Sprintf(
		"The previous session %s was terminated due to context limit. Read its transcript and summarise accomplishments and outstanding work briefly.",
		sessionID,
	)
	return s.runOneChild(prompt, params, shutdown)
}

func (s *Supervisor) finish(status metadata.RunStatus, exitReason string, iterations int) (*RunOutcome, error) {
	if err := s.writer.Complete(status, exitReason, time.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataWrite, err)
	}
	outcome := &RunOutcome{Status: status, Iterations: iterations}
	switch status {
	case metadata.StatusCompleted:
		logSuccess(s.writer.Document().RunID, iterations)
	case metadata.StatusInterrupted:
		logShutdown(s.writer.Document().RunID, iterations)
	default:
		logFailed(s.writer.Document().RunID, iterations)
	}
	return outcome, nil
}

// writeBestEffort runs an intermediate metadata write, retrying once on
// failure before logging and moving on - only the terminal write (Complete)
// is fatal to the run.
func (s *Supervisor) writeBestEffort(what string, write func() error) {
	if err := write(); err != nil {
		if err := write(); err != nil {
			logMetadataWriteFailed(what, err)
		}
	}
}

func (s *Supervisor) finishWithErr(err error, iterations int) (*RunOutcome, error) {
	// Best-effort: still try to mark the run Failed on disk before
	// propagating the fatal error, so a crash never leaves a run stuck
	// showing status=running.
	_ = s.writer.Complete(metadata.StatusFailed, err.Error(), time.Now())
	logFailed(s.writer.Document().RunID, iterations)
	return nil, err
}

func classifyEndReason(o iteration.Outcome) metadata.EndReason {
	switch o {
	case iteration.OutcomeContextLimit:
		return metadata.EndReasonContextLimit
	case iteration.OutcomeShutdown:
		return metadata.EndReasonShutdown
	default:
		return metadata.EndReasonNatural
	}
}
