package iteration

import (
	"errors"
	"testing"
	"time"

	"github.com/nullstream/ralph/internal/tokenest"
)

func testParams(limit int) Params {
	return Params{
		Method:            tokenest.MethodByteRatio,
		ContextTokenLimit: limit,
		CompletionPromise: "TASK COMPLETE",
	}
}

func TestInvokeNaturalExitWithPromise(t *testing.T) {
	child := NewScriptedChild([]ScriptedLine{
		{Text: "working on it"},
		{Text: "<promise>TASK COMPLETE</promise>"},
	}, nil, false)

	result := Invoke(child, "do the thing", NewSharedState(), testParams(0), nil)

	if result.Outcome != OutcomeNatural {
		t.Errorf("Outcome = %v, want OutcomeNatural", result.Outcome)
	}
	if !result.PromiseFound {
		t.Error("expected promise to be found")
	}
	if child.WasKilled() {
		t.Error("natural exit should not kill the child")
	}
}

func TestInvokeNaturalExitWithExitError(t *testing.T) {
	wantErr := errors.New("exit status 1")
	child := NewScriptedChild([]ScriptedLine{{Text: "no luck"}}, wantErr, false)

	result := Invoke(child, "do the thing", NewSharedState(), testParams(0), nil)

	if result.Outcome != OutcomeNatural {
		t.Errorf("Outcome = %v, want OutcomeNatural", result.Outcome)
	}
	if !errors.Is(result.ExitErr, wantErr) {
		t.Errorf("ExitErr = %v, want %v", result.ExitErr, wantErr)
	}
}

func TestInvokeContextLimitKillsChild(t *testing.T) {
	// Each line is 20 bytes -> 5 tokens at byte-ratio; limit 8 trips after
	// the second line (5, then 10). blockOnKill simulates an agent that won't exit on
	// its own, forcing the supervisor to actually kill it.
	child := NewScriptedChild([]ScriptedLine{
		{Text: "aaaaaaaaaaaaaaaaaaaa"},
		{Text: "bbbbbbbbbbbbbbbbbbbb"},
	}, nil, true)

	done := make(chan *Result, 1)
	go func() { done <- Invoke(child, "do the thing", NewSharedState(), testParams(8), nil) }()

	select {
	case result := <-done:
		if result.Outcome != OutcomeContextLimit {
			t.Errorf("Outcome = %v, want OutcomeContextLimit", result.Outcome)
		}
		if !child.WasKilled() {
			t.Error("expected the child to be killed at the context limit")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Invoke did not return after the context limit should have tripped")
	}
}

func TestInvokeShutdownKillsRunningChild(t *testing.T) {
	child := NewScriptedChild([]ScriptedLine{{Text: "still going"}}, nil, true)
	shutdown := make(chan struct{})
	close(shutdown)

	done := make(chan *Result, 1)
	go func() { done <- Invoke(child, "do the thing", NewSharedState(), testParams(0), shutdown) }()

	select {
	case result := <-done:
		if result.Outcome != OutcomeShutdown {
			t.Errorf("Outcome = %v, want OutcomeShutdown", result.Outcome)
		}
		if !child.WasKilled() {
			t.Error("expected shutdown to kill the still-running child")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Invoke did not return on shutdown")
	}
}

func TestInvokePromiseWinsOverContextLimit(t *testing.T) {
	// A single line that both pushes the token count past the limit and
	// carries the promise tag: the child is still killed, but the
	// iteration is reported as a natural, promise-found end.
	child := NewScriptedChild([]ScriptedLine{
		{Text: "<promise>TASK COMPLETE</promise> aaaaaaaaaaaaaaaaaaaa"},
	}, nil, true)

	done := make(chan *Result, 1)
	go func() { done <- Invoke(child, "do the thing", NewSharedState(), testParams(8), nil) }()

	select {
	case result := <-done:
		if result.Outcome != OutcomeNatural {
			t.Errorf("Outcome = %v, want OutcomeNatural (promise wins the tie-break)", result.Outcome)
		}
		if !result.PromiseFound {
			t.Error("expected promise to be found")
		}
		if !child.WasKilled() {
			t.Error("expected the child to still be killed even though the promise won the tie-break")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Invoke did not return")
	}
}

// stuckChild never responds to Kill, modeling a process wedged past any
// reasonable grace period (e.g. blocked in uninterruptible I/O).
type stuckChild struct {
	stdout chan string
	stderr chan string
}

func newStuckChild() *stuckChild {
	return &stuckChild{stdout: make(chan string), stderr: make(chan string)}
}

func (c *stuckChild) WritePrompt(string) error   { return nil }
func (c *stuckChild) StdoutLines() <-chan string { return c.stdout }
func (c *stuckChild) StderrLines() <-chan string { return c.stderr }
func (c *stuckChild) Wait() error                { select {} }
func (c *stuckChild) Kill() error                { select {} }

func TestInvokeReportsKillTimeoutOnStuckChild(t *testing.T) {
	orig := killGracePeriod
	killGracePeriod = 50 * time.Millisecond
	defer func() { killGracePeriod = orig }()

	shutdown := make(chan struct{})
	close(shutdown)

	done := make(chan *Result, 1)
	go func() { done <- Invoke(newStuckChild(), "do the thing", NewSharedState(), testParams(0), shutdown) }()

	select {
	case result := <-done:
		if !errors.Is(result.KillErr, ErrKillTimeout) {
			t.Errorf("KillErr = %v, want ErrKillTimeout", result.KillErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Invoke did not return after the kill grace period should have expired")
	}
}

func TestInvokeResetsSharedStateBetweenCalls(t *testing.T) {
	shared := NewSharedState()
	shared.AddTokens(999)
	shared.MarkPromise("leftover")

	child := NewScriptedChild([]ScriptedLine{{Text: "fresh run"}}, nil, false)
	result := Invoke(child, "do the thing", shared, testParams(0), nil)

	if result.PromiseFound {
		t.Error("stale promise from a previous iteration leaked into this one")
	}
	if result.Tokens >= 999 {
		t.Errorf("stale token count from a previous iteration leaked into this one: %d", result.Tokens)
	}
}
