package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
	"github.com/houzhh15/meetscribe/cmd/server/internal/summary"
)

type runnerFunc func(ctx context.Context, src segmenter.Source, workDir string, onProgress func(orchestrator.ProgressState)) (*orchestrator.JobResult, error)

func (f runnerFunc) Process(ctx context.Context, src segmenter.Source, workDir string, onProgress func(orchestrator.ProgressState)) (*orchestrator.JobResult, error) {
	return f(ctx, src, workDir, onProgress)
}

func completedRun(text string) runnerFunc {
	return func(ctx context.Context, src segmenter.Source, workDir string, onProgress func(orchestrator.ProgressState)) (*orchestrator.JobResult, error) {
		onProgress(orchestrator.ProgressState{Phase: orchestrator.StateTranscribing, TotalChunks: 2, CurrentChunk: -1})
		onProgress(orchestrator.ProgressState{Phase: orchestrator.StateTranscribing, TotalChunks: 2, CompletedChunks: 1})
		return &orchestrator.JobResult{
			Transcript:   text,
			TotalChunks:  2,
			CachedChunks: 1,
			State:        orchestrator.StateCompleted,
		}, nil
	}
}

func waitFor(t *testing.T, r *Registry, id string) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := r.Wait(ctx, id)
	require.NoError(t, err)
	return s
}

func TestSubmitAndWait(t *testing.T) {
	root := t.TempDir()
	r, err := NewRegistry(completedRun("Hello team."), root, nil)
	require.NoError(t, err)

	id, err := r.Submit(context.Background(), segmenter.Source{Name: "standup.wav", Data: []byte("x")})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s := waitFor(t, r, id)
	assert.Equal(t, orchestrator.StateCompleted, s.State)
	assert.Equal(t, "Hello team.", s.Transcript)
	assert.Equal(t, 2, s.TotalChunks)
	assert.Equal(t, 1, s.CachedChunks)
	assert.NotNil(t, s.FinishedAt)
	assert.Equal(t, "standup.wav", s.Source)

	b, err := os.ReadFile(filepath.Join(root, id, transcriptFile))
	require.NoError(t, err)
	assert.Equal(t, "Hello team.", string(b))
	assert.FileExists(t, filepath.Join(root, id, reportFile))
	assert.FileExists(t, r.StatePath())

	text, err := r.Transcript(id)
	require.NoError(t, err)
	assert.Equal(t, "Hello team.", text)

	assert.ErrorIs(t, r.Cancel(id), ErrFinished)
	require.Len(t, r.List(), 1)
	assert.Empty(t, r.List()[0].Transcript)
}

func TestCancelDrains(t *testing.T) {
	started := make(chan struct{})
	run := runnerFunc(func(ctx context.Context, src segmenter.Source, workDir string, onProgress func(orchestrator.ProgressState)) (*orchestrator.JobResult, error) {
		onProgress(orchestrator.ProgressState{Phase: orchestrator.StateTranscribing, TotalChunks: 3})
		close(started)
		<-ctx.Done()
		return &orchestrator.JobResult{Transcript: "Partial.", TotalChunks: 3, State: orchestrator.StateCancelled},
			orcherr.NewCancelledError(context.Cause(ctx))
	})
	r, err := NewRegistry(run, t.TempDir(), nil)
	require.NoError(t, err)

	id, err := r.Submit(context.Background(), segmenter.Source{Name: "a.wav"})
	require.NoError(t, err)
	<-started

	s, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateTranscribing, s.State)

	require.NoError(t, r.Cancel(id))
	s = waitFor(t, r, id)
	assert.Equal(t, orchestrator.StateCancelled, s.State)
	assert.Equal(t, orcherr.JOB_CANCELLED, s.ErrorCode)
	assert.Equal(t, "Partial.", s.Transcript)
}

func TestSegmentationFailure(t *testing.T) {
	run := runnerFunc(func(ctx context.Context, src segmenter.Source, workDir string, onProgress func(orchestrator.ProgressState)) (*orchestrator.JobResult, error) {
		return nil, segmenter.ErrEmptyInput
	})
	r, err := NewRegistry(run, t.TempDir(), nil)
	require.NoError(t, err)

	id, err := r.Submit(context.Background(), segmenter.Source{Name: "empty.wav"})
	require.NoError(t, err)
	s := waitFor(t, r, id)
	assert.Equal(t, orchestrator.StateFailed, s.State)
	assert.Contains(t, s.Error, "empty audio input")

	_, err = r.Transcript(id)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSubscribe(t *testing.T) {
	release := make(chan struct{})
	subscribed := make(chan struct{})
	run := runnerFunc(func(ctx context.Context, src segmenter.Source, workDir string, onProgress func(orchestrator.ProgressState)) (*orchestrator.JobResult, error) {
		<-subscribed
		onProgress(orchestrator.ProgressState{Phase: orchestrator.StateTranscribing, TotalChunks: 1})
		<-release
		return &orchestrator.JobResult{Transcript: "Done.", TotalChunks: 1, State: orchestrator.StateCompleted}, nil
	})
	r, err := NewRegistry(run, t.TempDir(), nil)
	require.NoError(t, err)

	id, err := r.Submit(context.Background(), segmenter.Source{Name: "a.wav"})
	require.NoError(t, err)

	ch, unsubscribe, err := r.Subscribe(id)
	require.NoError(t, err)
	defer unsubscribe()

	first := <-ch
	assert.Equal(t, orchestrator.StatePending, first.Phase)
	close(subscribed)

	second := <-ch
	assert.Equal(t, orchestrator.StateTranscribing, second.Phase)
	close(release)

	var last orchestrator.ProgressState
	for p := range ch {
		last = p
	}
	assert.Equal(t, orchestrator.StateCompleted, last.Phase)

	// finished jobs hand out a closed channel holding the final state
	ch, _, err = r.Subscribe(id)
	require.NoError(t, err)
	p, ok := <-ch
	assert.True(t, ok)
	assert.Equal(t, orchestrator.StateCompleted, p.Phase)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestUnsubscribeTwice(t *testing.T) {
	block := make(chan struct{})
	run := runnerFunc(func(ctx context.Context, src segmenter.Source, workDir string, onProgress func(orchestrator.ProgressState)) (*orchestrator.JobResult, error) {
		<-block
		return &orchestrator.JobResult{State: orchestrator.StateCompleted}, nil
	})
	r, err := NewRegistry(run, t.TempDir(), nil)
	require.NoError(t, err)
	id, err := r.Submit(context.Background(), segmenter.Source{Name: "a.wav"})
	require.NoError(t, err)

	_, unsubscribe, err := r.Subscribe(id)
	require.NoError(t, err)
	unsubscribe()
	unsubscribe()
	close(block)
	waitFor(t, r, id)
}

func TestNotFound(t *testing.T) {
	r, err := NewRegistry(completedRun(""), t.TempDir(), nil)
	require.NoError(t, err)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Cancel("missing"), ErrNotFound)
	_, _, err = r.Subscribe("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Transcript("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.SetSummary("missing", &summary.Summary{}), ErrNotFound)
}

func TestSaveAndLoad(t *testing.T) {
	root := t.TempDir()
	r, err := NewRegistry(completedRun("Kept across restarts."), root, nil)
	require.NoError(t, err)
	id, err := r.Submit(context.Background(), segmenter.Source{Name: "a.wav"})
	require.NoError(t, err)
	waitFor(t, r, id)
	require.NoError(t, r.SetSummary(id, &summary.Summary{Title: "Sync"}))

	// append a job that was still running when the state was written
	b, err := os.ReadFile(r.StatePath())
	require.NoError(t, err)
	var wrapper struct {
		Jobs []persistedJob `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(b, &wrapper))
	wrapper.Jobs = append(wrapper.Jobs,
		persistedJob{ID: "running", State: orchestrator.StateTranscribing, TotalChunks: 4},
		persistedJob{ID: ".hidden", State: orchestrator.StateCompleted})
	b, err = json.Marshal(wrapper)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(r.StatePath(), b, 0o644))

	restored, err := NewRegistry(completedRun(""), root, nil)
	require.NoError(t, err)
	require.NoError(t, restored.Load())
	assert.Len(t, restored.List(), 2)

	s, err := restored.Get(id)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateCompleted, s.State)
	assert.Equal(t, "Kept across restarts.", s.Transcript)
	require.NotNil(t, s.Summary)
	assert.Equal(t, "Sync", s.Summary.Title)

	s, err = restored.Get("running")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateFailed, s.State)
	assert.Equal(t, "interrupted by server restart", s.Error)
	assert.ErrorIs(t, restored.Cancel("running"), ErrFinished)

	s, err = restored.Wait(context.Background(), "running")
	require.NoError(t, err)
	assert.Equal(t, 4, s.TotalChunks)
}

func TestLoadMissingFile(t *testing.T) {
	r, err := NewRegistry(completedRun(""), t.TempDir(), nil)
	require.NoError(t, err)
	assert.NoError(t, r.Load())
}

func TestShutdownCancelsRunning(t *testing.T) {
	run := runnerFunc(func(ctx context.Context, src segmenter.Source, workDir string, onProgress func(orchestrator.ProgressState)) (*orchestrator.JobResult, error) {
		<-ctx.Done()
		return nil, errors.New("stopped")
	})
	r, err := NewRegistry(run, t.TempDir(), nil)
	require.NoError(t, err)
	id, err := r.Submit(context.Background(), segmenter.Source{Name: "a.wav"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	s, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateCancelled, s.State)
}

func TestNewRegistryRequiresRoot(t *testing.T) {
	_, err := NewRegistry(completedRun(""), "", nil)
	assert.Error(t, err)
}
