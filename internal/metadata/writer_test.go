package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRunWritesInitialDocument(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	w, err := NewRun(dir, "20260102-030405-abcdef", "/work", "do the thing", "TASK COMPLETE", now)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "runs", "20260102-030405-abcdef", MetaFileName))
	require.NoError(t, err)

	var doc RunMetadata
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, StatusRunning, doc.Status)
	require.Equal(t, "do the thing", doc.PromptPreview)
	require.Equal(t, "TASK COMPLETE", doc.CompletionPromise)
	require.Empty(t, doc.Iterations)

	_ = w
}

func TestNewRunRejectsDuplicateRunID(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	_, err := NewRun(dir, "dup-id", "/work", "p", "TASK COMPLETE", now)
	require.NoError(t, err)

	_, err = NewRun(dir, "dup-id", "/work", "p", "TASK COMPLETE", now)
	require.Error(t, err)
}

func TestNewRunCreatesLatestSymlink(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	_, err := NewRun(dir, "run-a", "/work", "p", "TASK COMPLETE", now)
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(dir, "latest"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("runs", "run-a"), target)
}

func TestLatestSymlinkMovesToNewestRun(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	_, err := NewRun(dir, "run-a", "/work", "p", "TASK COMPLETE", now)
	require.NoError(t, err)
	_, err = NewRun(dir, "run-b", "/work", "p", "TASK COMPLETE", now)
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(dir, "latest"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join("runs", "run-b"), target)
}

func TestPromptPreviewIsTruncated(t *testing.T) {
	dir := t.TempDir()
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}

	w, err := NewRun(dir, "run-long", "/work", string(long), "TASK COMPLETE", time.Now())
	require.NoError(t, err)
	require.Len(t, w.Document().PromptPreview, promptPreviewLimit)
}

func TestIterationLifecycle(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w, err := NewRun(dir, "run-1", "/work", "p", "TASK COMPLETE", start)
	require.NoError(t, err)

	require.NoError(t, w.StartIteration(1, start))
	require.NoError(t, w.SetSessionID("sess-1"))
	require.NoError(t, w.EndIteration(EndReasonNatural, 10, 20, start.Add(time.Second)))

	doc := w.Document()
	require.Len(t, doc.Iterations, 1)
	it := doc.Iterations[0]
	require.Equal(t, 1, it.Number)
	require.Equal(t, "sess-1", it.SessionID)
	require.Equal(t, EndReasonNatural, it.EndReason)
	require.NotNil(t, it.EndedAt)
	require.Equal(t, 10, it.InputTokens)
	require.Equal(t, 20, it.OutputTokens)
}

func TestSetSessionIDWithoutIterationFails(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRun(dir, "run-2", "/work", "p", "TASK COMPLETE", time.Now())
	require.NoError(t, err)

	require.Error(t, w.SetSessionID("sess"))
}

func TestWriteIterationSummaryOutOfOrder(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	w, err := NewRun(dir, "run-3", "/work", "p", "TASK COMPLETE", now)
	require.NoError(t, err)

	require.NoError(t, w.StartIteration(1, now))
	require.NoError(t, w.EndIteration(EndReasonContextLimit, 5, 0, now))
	require.NoError(t, w.StartIteration(2, now))
	require.NoError(t, w.EndIteration(EndReasonNatural, 1, 1, now))

	require.NoError(t, w.WriteIterationSummary(1, "summary text"))

	doc := w.Document()
	require.Equal(t, "summary text", doc.Iterations[0].Summary)
	require.Empty(t, doc.Iterations[1].Summary)
}

func TestWriteIterationSummaryUnknownNumberFails(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRun(dir, "run-4", "/work", "p", "TASK COMPLETE", time.Now())
	require.NoError(t, err)

	require.Error(t, w.WriteIterationSummary(99, "text"))
}

func TestCompleteSetsTerminalStatus(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRun(dir, "run-5", "/work", "p", "TASK COMPLETE", time.Now())
	require.NoError(t, err)

	require.NoError(t, w.Complete(StatusCompleted, "", time.Now()))

	doc := w.Document()
	require.Equal(t, StatusCompleted, doc.Status)
	require.NotNil(t, doc.CompletedAt)
}

// TestRoundTripIsIdentity verifies invariant 7: reading back the JSON a
// Writer produced and comparing field-by-field (modulo ordering) yields the
// same document.
func TestRoundTripIsIdentity(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	w, err := NewRun(dir, "run-6", "/work", "round trip me", "TASK COMPLETE", now)
	require.NoError(t, err)
	require.NoError(t, w.StartIteration(1, now))
	require.NoError(t, w.EndIteration(EndReasonNatural, 3, 4, now))
	require.NoError(t, w.Complete(StatusCompleted, "", now))

	data, err := os.ReadFile(filepath.Join(dir, "runs", "run-6", MetaFileName))
	require.NoError(t, err)

	var reloaded RunMetadata
	require.NoError(t, json.Unmarshal(data, &reloaded))

	want := w.Document()
	require.Equal(t, want.RunID, reloaded.RunID)
	require.Equal(t, want.Status, reloaded.Status)
	require.Equal(t, want.PromptPreview, reloaded.PromptPreview)
	require.Equal(t, len(want.Iterations), len(reloaded.Iterations))
	require.Equal(t, want.Iterations[0].Number, reloaded.Iterations[0].Number)
	require.Equal(t, want.Iterations[0].InputTokens, reloaded.Iterations[0].InputTokens)
}

func TestFlushIsAtomicNoPartialFileObserved(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRun(dir, "run-7", "/work", "p", "TASK COMPLETE", time.Now())
	require.NoError(t, err)

	for i := 1; i <= 20; i++ {
		require.NoError(t, w.StartIteration(i, time.Now()))
		require.NoError(t, w.EndIteration(EndReasonNatural, i, i, time.Now()))

		data, err := os.ReadFile(filepath.Join(dir, "runs", "run-7", MetaFileName))
		require.NoError(t, err)
		var doc RunMetadata
		require.NoError(t, json.Unmarshal(data, &doc), "file on disk must always be valid JSON, never a partial write")
	}
}
