package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/docprompt/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	docs  []string
	snaps []JobSnapshot
	err   error
}

func (s *recordingSink) Publish(_ context.Context, docID string, job JobSnapshot, res *Result) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, docID)
	s.snaps = append(s.snaps, job)
	if s.err != nil {
		return 0, s.err
	}
	return len(res.Prompts), nil
}

func waitTerminal(t *testing.T, job *Job) JobSnapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return job.Snapshot().Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job.Snapshot()
}

func startOrchestrator(t *testing.T, ext Extractor, sink Sink, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(newTestPipeline(&stubResolver{}, ext), sink, cfg, quietLog())
	o.Start(context.Background())
	t.Cleanup(o.Stop)
	return o
}

func TestOrchestrator_CompletesJob(t *testing.T) {
	ext := &stubExtractor{
		text:     scenarioText,
		progress: []extract.Status{{State: extract.StateRunning, Progress: &extract.Progress{ExtractedPages: 2, TotalPages: 5}}},
	}
	sink := &recordingSink{}
	o := startOrchestrator(t, ext, sink, OrchestratorConfig{Workers: 2})

	cfg := DefaultRunConfig()
	cfg.ChunkSize, cfg.ChunkOverlap = 30, 5
	job := NewJob("https://example.com/a.pdf", cfg)
	var cleaned atomic.Bool
	job.OnFinish(func() { cleaned.Store(true) })
	require.NoError(t, o.Submit(job))
	assert.Same(t, job, o.GetJob(job.ID))

	snap := waitTerminal(t, job)
	require.Equal(t, StatusCompleted, snap.Status, "errors: %v", snap.Progress.Errors)

	hash := ContentHashHex([]byte(scenarioText))
	assert.Equal(t, hash, snap.ContentHash)
	assert.Equal(t, hash[:docIDLength], snap.DocID)
	assert.Equal(t, 2, snap.Progress.Chunks)
	assert.Equal(t, 2, snap.Progress.Prompts)
	assert.Equal(t, 2, snap.Progress.Published)
	assert.Equal(t, 5, snap.Progress.TotalPages)
	assert.Empty(t, snap.Progress.Errors)

	res, ok := job.Result()
	require.True(t, ok)
	assert.Len(t, res.Prompts, 2)

	sink.mu.Lock()
	assert.Equal(t, []string{snap.DocID}, sink.docs)
	assert.Equal(t, snap.DocID, sink.snaps[0].DocID)
	sink.mu.Unlock()

	require.Eventually(t, cleaned.Load, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_FailedStage(t *testing.T) {
	ext := &stubExtractor{err: &extract.TaskError{Kind: extract.ErrExtractionFailed, TaskID: "t1", Message: "bad pdf"}}
	sink := &recordingSink{}
	o := startOrchestrator(t, ext, sink, OrchestratorConfig{Workers: 1})

	job := NewJob("https://example.com/a.pdf", DefaultRunConfig())
	require.NoError(t, o.Submit(job))

	snap := waitTerminal(t, job)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, StageExtract, snap.Stage)
	require.Len(t, snap.Progress.Errors, 1)
	assert.Contains(t, snap.Progress.Errors[0], "bad pdf")
	_, ok := job.Result()
	assert.False(t, ok)
	assert.Empty(t, sink.docs)
}

func TestOrchestrator_PublishErrorKeepsResult(t *testing.T) {
	sink := &recordingSink{err: errors.New("store down")}
	o := startOrchestrator(t, &stubExtractor{text: scenarioText}, sink, OrchestratorConfig{Workers: 1})

	job := NewJob("https://example.com/a.pdf", DefaultRunConfig())
	require.NoError(t, o.Submit(job))

	snap := waitTerminal(t, job)
	assert.Equal(t, StatusCompleted, snap.Status)
	require.Len(t, snap.Progress.Errors, 1)
	assert.Equal(t, "publish: store down", snap.Progress.Errors[0])
	assert.Zero(t, snap.Progress.Published)
}

func TestOrchestrator_QueueFull(t *testing.T) {
	o := NewOrchestrator(newTestPipeline(&stubResolver{}, &stubExtractor{}), nil, OrchestratorConfig{QueueSize: 1}, quietLog())

	first := NewJob("a", DefaultRunConfig())
	require.NoError(t, o.Submit(first))
	assert.Equal(t, 1, o.QueueDepth())

	second := NewJob("b", DefaultRunConfig())
	finished := false
	second.OnFinish(func() { finished = true })
	err := o.Submit(second)
	require.ErrorIs(t, err, ErrQueueFull)

	snap := second.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, []string{"queue_full"}, snap.Progress.Errors)
	assert.True(t, finished)
	assert.Equal(t, 2, o.JobCount())
}

func TestOrchestrator_StopFailsQueuedJobs(t *testing.T) {
	o := NewOrchestrator(newTestPipeline(&stubResolver{}, &stubExtractor{}), nil, OrchestratorConfig{QueueSize: 4}, quietLog())

	job := NewJob("a", DefaultRunConfig())
	finished := false
	job.OnFinish(func() { finished = true })
	require.NoError(t, o.Submit(job))

	o.Stop()
	o.Stop()

	assert.Equal(t, StatusFailed, job.Snapshot().Status)
	assert.True(t, finished)
	require.ErrorIs(t, o.Submit(NewJob("b", DefaultRunConfig())), ErrStopped)
}

func TestOrchestratorConfig_Defaults(t *testing.T) {
	cfg := OrchestratorConfig{}.withDefaults()
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 100, cfg.QueueSize)
	assert.Equal(t, time.Hour, cfg.JobTTL)
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval)
}

func TestDocID(t *testing.T) {
	hash := ContentHashHex([]byte("abc"))
	assert.Equal(t, hash[:16], DocID(hash))
	assert.Equal(t, "abc", DocID("abc"))
}
