package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MetaFileName is the name of the per-run metadata document, relative to
// its run directory.
const MetaFileName = ".ralph-meta.json"

// Writer owns one run's RunMetadata document and flushes it to disk,
// atomically, after every mutation. All methods are safe for concurrent
// use, though in practice the supervisor is the sole caller.
type Writer struct {
	mu       sync.Mutex
	doc      *RunMetadata
	runDir   string
	filePath string
}

// NewRunID builds a run identifier of the form YYYYMMDD-HHMMSS-xxxxxx,
// where xxxxxx is six hex characters of randomness.
func NewRunID(now time.Time) string {
	suffix := uuid.New().String()
	suffix = suffix[len(suffix)-6:]
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102-150405"), suffix)
}

// NewRun creates `<outputDir>/runs/<runID>/`, writes the initial
// status=Running document, and points the `latest` symlink at it. It fails
// if the run directory already exists: run-ids carry enough entropy that a
// collision signals a real problem (a clock issue, or two supervisors
// racing on the same output directory) rather than something to paper over.
func NewRun(outputDir, runID, workingDir, prompt, completionPromise string, now time.Time) (*Writer, error) {
	runDir := filepath.Join(outputDir, "runs", runID)
	if err := os.MkdirAll(filepath.Dir(runDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}
	if err := os.Mkdir(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	w := &Writer{
		doc: &RunMetadata{
			RunID:             runID,
			Status:            StatusRunning,
			StartedAt:         now.UTC(),
			WorkingDir:        workingDir,
			PromptPreview:     promptPreview(prompt),
			CompletionPromise: completionPromise,
			Iterations:        []*IterationMetadata{},
		},
		runDir:   runDir,
		filePath: filepath.Join(runDir, MetaFileName),
	}

	if err := w.flushLocked(); err != nil {
		return nil, err
	}
	if err := updateLatest(outputDir, runID); err != nil {
		// Symlink management is best-effort: a human reading latest is a
		// convenience, not a correctness requirement.
		fmt.Fprintf(os.Stderr, "warning: failed to update latest symlink: %v\n", err)
	}
	return w, nil
}

// StartIteration appends a new IterationMetadata with the given 1-based
// number and started_at = now.
func (w *Writer) StartIteration(number int, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.Iterations = append(w.doc.Iterations, &IterationMetadata{
		Number:    number,
		StartedAt: now.UTC(),
	})
	return w.flushLocked()
}

// SetSessionID attaches a session id to the current (last) iteration.
func (w *Writer) SetSessionID(sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, err := w.currentLocked()
	if err != nil {
		return err
	}
	cur.SessionID = sessionID
	return w.flushLocked()
}

// EndIteration fills in ended_at, end_reason, and token totals on the
// current iteration.
func (w *Writer) EndIteration(reason EndReason, inputTokens, outputTokens int, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, err := w.currentLocked()
	if err != nil {
		return err
	}
	ended := now.UTC()
	cur.EndedAt = &ended
	cur.EndReason = reason
	cur.InputTokens = inputTokens
	cur.OutputTokens = outputTokens
	return w.flushLocked()
}

// WriteIterationSummary attaches text as the summary for iteration number
// n, regardless of whether n is the most recently started iteration.
func (w *Writer) WriteIterationSummary(n int, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, it := range w.doc.Iterations {
		if it.Number == n {
			it.Summary = text
			return w.flushLocked()
		}
	}
	return fmt.Errorf("no iteration numbered %d", n)
}

// Complete sets the run's terminal status, stamps completed_at, and does a
// final flush.
func (w *Writer) Complete(status RunStatus, exitReason string, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	completed := now.UTC()
	w.doc.Status = status
	w.doc.CompletedAt = &completed
	w.doc.ExitReason = exitReason
	return w.flushLocked()
}

// Document returns a snapshot copy of the current document, for read-only
// consumers like `ralph tail`.
func (w *Writer) Document() RunMetadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc := *w.doc
	doc.Iterations = append([]*IterationMetadata(nil), w.doc.Iterations...)
	return doc
}

func (w *Writer) currentLocked() (*IterationMetadata, error) {
	if len(w.doc.Iterations) == 0 {
		return nil, fmt.Errorf("no iteration has been started")
	}
	return w.doc.Iterations[len(w.doc.Iterations)-1], nil
}

// flushLocked serializes the document and rewrites the metadata file
// atomically: write to a temp file in the same directory, then rename over
// the target, so a reader never observes a partially written file.
func (w *Writer) flushLocked() error {
	data, err := json.MarshalIndent(w.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata: %w", err)
	}

	tmp, err := os.CreateTemp(w.runDir, ".ralph-meta-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp metadata file: %w", err)
	}
	if err := os.Rename(tmpPath, w.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename metadata file into place: %w", err)
	}
	return nil
}

// updateLatest replaces `<outputDir>/latest` with a symlink to
// runs/<runID>. Go has no atomic symlink-replace, so an existing entry is
// removed first; a crash between the remove and the create can leave
// `latest` briefly absent, which is acceptable for a convenience pointer.
func updateLatest(outputDir, runID string) error {
	latest := filepath.Join(outputDir, "latest")
	target := filepath.Join("runs", runID)

	if err := os.Remove(latest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing latest symlink: %w", err)
	}
	if err := os.Symlink(target, latest); err != nil {
		return fmt.Errorf("failed to create latest symlink: %w", err)
	}
	return nil
}
