package iteration

import (
	"errors"
	"sync"
	"time"

	"github.com/nullstream/ralph/internal/tokenest"
	"golang.org/x/sync/errgroup"
)

// killGracePeriod bounds how long Invoke waits for a killed child to be
// reaped before giving up and reporting ErrKillTimeout. A child stuck past
// this point (e.g. blocked in uninterruptible I/O) is a fatal condition for
// the whole run, not just this iteration. Variable rather than const so
// tests can shrink it instead of waiting out the real grace period.
var killGracePeriod = 5 * time.Second

// ErrKillTimeout means a killed child did not get reaped within
// killGracePeriod. Callers should treat this as fatal to the run.
var ErrKillTimeout = errors.New("child did not terminate within the grace period")

// Outcome classifies how one iteration ended. Exactly one of these holds;
// classification priority is Shutdown > ContextLimit > Natural - shutdown
// wins even if a kill was also in flight, since shutdown means the whole
// run is ending, not just this iteration.
type Outcome int

const (
	// OutcomeNatural means the child exited on its own - the common case,
	// whether or not the promise was found in its output.
	OutcomeNatural Outcome = iota
	// OutcomeContextLimit means the supervisor killed the child after its
	// estimated token usage reached the configured limit.
	OutcomeContextLimit
	// OutcomeShutdown means an external shutdown signal ended the
	// iteration before the child finished on its own.
	OutcomeShutdown
)

// Result is everything the supervisor needs to know about one finished
// iteration.
type Result struct {
	Outcome      Outcome
	ExitErr      error
	KillErr      error
	Tokens       int
	InputTokens  int
	OutputTokens int
	PromiseFound bool
	PromiseText  string
	SessionID    string
	Tail         []string
}

// Params bundles Invoke's tuning knobs, pulled from config rather than
// passed as a long parameter list.
type Params struct {
	Method            tokenest.Method
	ContextTokenLimit int
	CompletionPromise string
}

// Invoke runs one iteration against an already-spawned child: it writes
// prompt to the child's stdin and closes it, monitors both output streams
// concurrently, and resolves the three-way race between the child exiting
// naturally, the context-token limit being reached, and an external
// shutdown signal. Unless a kill exceeds the grace period (Result.KillErr
// is then set), Invoke waits for both monitor goroutines to finish before
// returning, so Result's token count and tail reflect every line the child
// produced up to the point its process actually stopped.
func Invoke(child ChildProcess, prompt string, shared *SharedState, params Params, shutdown <-chan struct{}) *Result {
	shared.Reset()

	if err := child.WritePrompt(prompt); err != nil {
		// The prompt failed to reach the agent; there is nothing useful
		// left to monitor, but the child still needs to be reaped before
		// returning so callers never see a leaked process.
		_ = child.Kill()
		return &Result{Outcome: OutcomeNatural, ExitErr: err}
	}

	killCh := make(chan struct{})
	var killOnce sync.Once

	var g errgroup.Group
	var stdoutResult, stderrResult monitorResult

	g.Go(func() error {
		stdoutResult = monitorStream(child.StdoutLines(), shared, params.Method, params.ContextTokenLimit, params.CompletionPromise, killCh, &killOnce)
		return nil
	})
	g.Go(func() error {
		stderrResult = monitorStream(child.StderrLines(), shared, params.Method, params.ContextTokenLimit, params.CompletionPromise, killCh, &killOnce)
		return nil
	})

	childDone := make(chan error, 1)
	go func() { childDone <- child.Wait() }()

	result := &Result{}

	select {
	case <-shutdown:
		result.Outcome = OutcomeShutdown
		result.KillErr = killWithGrace(child)
		if result.KillErr == nil {
			result.ExitErr = <-childDone
		}
	case <-killCh:
		result.Outcome = OutcomeContextLimit
		result.KillErr = killWithGrace(child)
		if result.KillErr == nil {
			result.ExitErr = <-childDone
		}
	case err := <-childDone:
		// A natural exit and a late context-limit signal can race right
		// at the end; re-check shutdown/killCh before committing so the
		// higher-priority classification still wins (Shutdown >
		// ContextLimit > Natural).
		select {
		case <-shutdown:
			result.Outcome = OutcomeShutdown
		case <-killCh:
			result.Outcome = OutcomeContextLimit
		default:
			result.Outcome = OutcomeNatural
		}
		result.ExitErr = err
	}

	// The monitors only finish once their channel closes, which happens
	// once the child's pipes are drained. If the kill grace period expired
	// the child may still be holding its pipes open, so this wait is
	// skipped - the caller is about to treat KillErr as fatal to the whole
	// run anyway.
	if result.KillErr == nil {
		_ = g.Wait()
	}

	result.Tokens = shared.Tokens()
	result.InputTokens, result.OutputTokens = shared.Usage()
	found, text := shared.PromiseFound()
	result.PromiseFound = found
	result.PromiseText = text
	result.Tail = shared.Tail()

	// Tie-break: a promise found in the same iteration that tripped the
	// context limit wins. The child was still killed to stop it running
	// further, but the iteration itself is reported as having ended
	// naturally with its promise observed, not as a context-limit kill.
	// Shutdown is not subject to this override - it dominates regardless
	// of whether a promise also appeared.
	if result.Outcome == OutcomeContextLimit && result.PromiseFound {
		result.Outcome = OutcomeNatural
	}
	if stdoutResult.sessionID != "" {
		result.SessionID = stdoutResult.sessionID
	} else {
		result.SessionID = stderrResult.sessionID
	}

	return result
}

// killWithGrace issues Kill and waits up to killGracePeriod for it to
// return. Kill is documented to block until the child is reaped, so a
// goroutine that never returns here means the child is stuck past the
// grace period - fatal to the run, not just this iteration.
func killWithGrace(child ChildProcess) error {
	done := make(chan error, 1)
	go func() { done <- child.Kill() }()
	select {
	case err := <-done:
		return err
	case <-time.After(killGracePeriod):
		return ErrKillTimeout
	}
}
