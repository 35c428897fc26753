package iteration

import "sync"

// ScriptedChild is an in-process ChildProcess double that replays a fixed
// sequence of output lines and an exit error, with no real subprocess
// involved. It exists so the supervisor's scenario tests can drive exact,
// reproducible iterations instead of shelling out to a real agent binary.
type ScriptedChild struct {
	stdout <-chan string
	stderr <-chan string

	exitErr  error
	waitOnce sync.Once
	waitDone chan struct{}

	killOnce  sync.Once
	killed    bool
	killMu    sync.Mutex

	writtenPrompt string

	// blockOnKill, if set, makes Wait() not return until Kill() has been
	// called - simulating an agent that ignores the context-limit signal
	// until actually terminated.
	blockOnKill bool
}

// ScriptedLine is one line of scripted output on either stream.
type ScriptedLine struct {
	Stderr bool
	Text   string
}

// NewScriptedChild builds a ScriptedChild that emits lines in order within
// each stream (the relative order of stdout and stderr lines is not kept)
// and then exits with exitErr. If blockOnKill is true, the child behaves as though stuck: Wait
// only unblocks once Kill is called, modeling a context-limit kill.
func NewScriptedChild(lines []ScriptedLine, exitErr error, blockOnKill bool) *ScriptedChild {
	stdout := make(chan string, len(lines)+1)
	stderr := make(chan string, len(lines)+1)
	for _, l := range lines {
		if l.Stderr {
			stderr <- l.Text
		} else {
			stdout <- l.Text
		}
	}
	close(stdout)
	close(stderr)

	return &ScriptedChild{
		stdout:      stdout,
		stderr:      stderr,
		exitErr:     exitErr,
		waitDone:    make(chan struct{}),
		blockOnKill: blockOnKill,
	}
}

func (c *ScriptedChild) WritePrompt(prompt string) error {
	c.writtenPrompt = prompt
	return nil
}

func (c *ScriptedChild) StdoutLines() <-chan string { return c.stdout }
func (c *ScriptedChild) StderrLines() <-chan string { return c.stderr }

func (c *ScriptedChild) Wait() error {
	c.waitOnce.Do(func() {
		if c.blockOnKill {
			<-c.waitDone // unblocked only by Kill
			return
		}
		close(c.waitDone)
	})
	<-c.waitDone
	return c.exitErr
}

func (c *ScriptedChild) Kill() error {
	c.killOnce.Do(func() {
		c.killMu.Lock()
		c.killed = true
		c.killMu.Unlock()
		if c.blockOnKill {
			close(c.waitDone)
		}
	})
	return nil
}

// WasKilled reports whether Kill was ever called, for test assertions.
func (c *ScriptedChild) WasKilled() bool {
	c.killMu.Lock()
	defer c.killMu.Unlock()
	return c.killed
}

// WrittenPrompt returns whatever prompt WritePrompt last received.
func (c *ScriptedChild) WrittenPrompt() string {
	return c.writtenPrompt
}
