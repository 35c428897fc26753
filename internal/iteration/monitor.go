package iteration

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/nullstream/ralph/internal/tokenest"
)

// agentEnvelope is the minimal subset of the agent's JSON-lines wire format
// this supervisor understands: enough to recover a session id and a
// usage-reported token count when the agent emits one, without depending
// on any agent-specific message schema.
type agentEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Usage     *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

var promiseTagRe = regexp.MustCompile(`<promise>(.*?)</promise>`)

// findPromise looks for the completion promise in line, preferring an
// anchored <promise>...</promise> tag match over a bare substring match.
// It returns the matched text and whether anything matched.
func findPromise(line, promise string) (string, bool) {
	if m := promiseTagRe.FindStringSubmatch(line); m != nil {
		if strings.Contains(m[1], promise) {
			return m[1], true
		}
	}
	if strings.Contains(line, promise) {
		return promise, true
	}
	return "", false
}

// monitorResult is what a single stream monitor reports once its channel
// closes.
type monitorResult struct {
	sessionID string
}

// monitorStream drains lines from one stream into shared, estimating
// tokens, scanning for the completion promise, and firing killCh exactly
// once if the running token total reaches limit. It returns once lines is
// closed (the child's stdout/stderr pipe hit EOF).
func monitorStream(
	lines <-chan string,
	shared *SharedState,
	method tokenest.Method,
	limit int,
	promise string,
	killCh chan<- struct{},
	killOnce *sync.Once,
) monitorResult {
	var result monitorResult

	for raw := range lines {
		line := strings.ToValidUTF8(raw, "�")

		shared.AppendTail(line)

		// A line carrying a reported usage total contributes that exact
		// total to the running count instead of the line's own text
		// estimate - the two must never stack, or the kill threshold trips
		// earlier than the configured limit intends.
		if env, ok := parseEnvelope(line); ok {
			if env.SessionID != "" {
				result.sessionID = env.SessionID
			}
			if env.Usage != nil {
				shared.AddUsage(env.Usage.InputTokens, env.Usage.OutputTokens)
				shared.AddTokens(env.Usage.InputTokens + env.Usage.OutputTokens)
			} else {
				shared.AddTokens(tokenest.Estimate(method, line))
			}
		} else {
			shared.AddTokens(tokenest.Estimate(method, line))
		}

		if text, found := findPromise(line, promise); found {
			shared.MarkPromise(text)
		} else if text, found := findPromise(strings.Join(shared.Tail(), ""), promise); found {
			// The tail is shared by both streams, so this also catches a
			// promise split across consecutive lines.
			shared.MarkPromise(text)
		}

		if limit > 0 && shared.Tokens() >= limit {
			killOnce.Do(func() { close(killCh) })
		}
	}

	return result
}

func parseEnvelope(line string) (agentEnvelope, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] != '{' {
		return agentEnvelope{}, false
	}
	var env agentEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return agentEnvelope{}, false
	}
	return env, true
}
