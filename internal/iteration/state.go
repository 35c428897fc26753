// Package iteration implements the concurrent core of one agent invocation:
// shared per-iteration state, the child process handle, the output
// monitors that drain it, and the invocation that races child exit against
// a context-limit kill and an external shutdown.
package iteration

import "sync"

// tailCap bounds the recent-output tail used for cross-line promise
// matching. Kept small: it catches a promise split across lines and
// supplies the text of a summary mini-iteration, not a full history.
const tailCap = 50

// SharedState holds the mutable counters a running iteration's output
// monitors update and the supervisor reads once the iteration settles.
// Every field is single-writer while an iteration is live: the monitors
// own writes, the supervisor only reads after awaiting their completion.
type SharedState struct {
	mu           sync.Mutex
	tokens       int
	inputTokens  int
	outputTokens int
	promiseFound bool
	promiseText  string
	tail         []string
}

// NewSharedState returns a freshly reset SharedState.
func NewSharedState() *SharedState {
	s := &SharedState{}
	s.Reset()
	return s
}

// Reset zeroes the state for a new iteration. Must be called before the
// child for that iteration is spawned.
func (s *SharedState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = 0
	s.inputTokens = 0
	s.outputTokens = 0
	s.promiseFound = false
	s.promiseText = ""
	s.tail = nil
}

// AddTokens monotonically increases the running token count.
func (s *SharedState) AddTokens(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.tokens += n
	s.mu.Unlock()
}

// Tokens returns the current running token count: the text-based estimate
// for lines the agent didn't report usage for, and the reported usage total
// in place of the estimate for lines that carried one. This is the figure
// compared against the context-token limit.
func (s *SharedState) Tokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// AddUsage records an agent-reported usage total. Unlike AddTokens, these
// numbers are exact counts from the agent itself, kept separately so the
// metadata record can report real input/output totals distinct from the
// approximate per-line estimate.
func (s *SharedState) AddUsage(inputTokens, outputTokens int) {
	s.mu.Lock()
	s.inputTokens += inputTokens
	s.outputTokens += outputTokens
	s.mu.Unlock()
}

// Usage returns the accumulated agent-reported input/output token totals.
func (s *SharedState) Usage() (inputTokens, outputTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputTokens, s.outputTokens
}

// MarkPromise latches the promise-found flag to true and records the
// matched text. It is a no-op once already latched true (promise-found
// never clears false while the iteration is live), and returns whether
// this call was the one that set it.
func (s *SharedState) MarkPromise(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promiseFound {
		return false
	}
	s.promiseFound = true
	s.promiseText = text
	return true
}

// PromiseFound reports whether the promise has latched, and the text that
// matched it.
func (s *SharedState) PromiseFound() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promiseFound, s.promiseText
}

// AppendTail appends line to the recent-output tail, dropping the oldest
// line once the cap is exceeded. The tail is intentionally cross-stream:
// stdout and stderr lines share it, so a promise tag split across the two
// streams is still matched.
func (s *SharedState) AppendTail(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tail = append(s.tail, line)
	if len(s.tail) > tailCap {
		s.tail = s.tail[len(s.tail)-tailCap:]
	}
}

// Tail returns a copy of the recent-output tail.
func (s *SharedState) Tail() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.tail))
	copy(out, s.tail)
	return out
}
