// Package jobs runs transcription jobs in the background and keeps their
// state for the HTTP API.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/cmd/server/internal/segmenter"
	"github.com/houzhh15/meetscribe/cmd/server/internal/summary"
	"github.com/houzhh15/meetscribe/pkg/logger"
)

const (
	transcriptFile = "transcript.txt"
	reportFile     = "report.json"
	stateFile      = "jobs.json"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrFinished = errors.New("job already finished")
	ErrNotReady = errors.New("job has no transcript yet")
)

// Runner processes one recording. *orchestrator.Pipeline implements it.
type Runner interface {
	Process(ctx context.Context, src segmenter.Source, workDir string, onProgress func(orchestrator.ProgressState)) (*orchestrator.JobResult, error)
}

// Job is one submitted recording. Fields are guarded by the registry lock.
type Job struct {
	ID         string
	Source     string
	State      orchestrator.State
	CreatedAt  time.Time
	FinishedAt time.Time
	Progress   orchestrator.ProgressState
	Result     *orchestrator.JobResult
	Summary    *summary.Summary
	Err        string
	ErrCode    orcherr.ErrorCode
	WorkDir    string

	cancel context.CancelCauseFunc
	done   chan struct{}
	subs   map[int]chan orchestrator.ProgressState
	nextID int
}

// Snapshot is a copy of a job safe to hand out.
type Snapshot struct {
	ID             string                     `json:"id"`
	Source         string                     `json:"source"`
	State          orchestrator.State         `json:"state"`
	CreatedAt      time.Time                  `json:"created_at"`
	FinishedAt     *time.Time                 `json:"finished_at,omitempty"`
	Progress       orchestrator.ProgressState `json:"progress"`
	Percent        float64                    `json:"percent"`
	Error          string                     `json:"error,omitempty"`
	ErrorCode      orcherr.ErrorCode          `json:"error_code,omitempty"`
	Transcript     string                     `json:"transcript,omitempty"`
	TotalChunks    int                        `json:"total_chunks"`
	FailedChunks   int                        `json:"failed_chunks"`
	RejectedChunks int                        `json:"rejected_chunks"`
	CachedChunks   int                        `json:"cached_chunks"`
	Degraded       bool                       `json:"degraded"`
	Summary        *summary.Summary           `json:"summary,omitempty"`
}

// Registry maintains a thread-safe collection of jobs.
type Registry struct {
	mu     sync.Mutex
	m      map[string]*Job
	runner Runner
	root   string
	logger *slog.Logger
	wg     sync.WaitGroup
	saveMu sync.Mutex
}

// NewRegistry creates a registry writing job directories under root.
func NewRegistry(runner Runner, root string, l *slog.Logger) (*Registry, error) {
	if root == "" {
		return nil, errors.New("jobs: work dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return &Registry{
		m:      map[string]*Job{},
		runner: runner,
		root:   root,
		logger: logger.OrDefault(l).With("component", "jobs"),
	}, nil
}

// Submit starts processing src in the background and returns the job ID.
// ctx scopes the job's lifetime; cancelling it cancels the job.
func (r *Registry) Submit(ctx context.Context, src segmenter.Source) (string, error) {
	id := uuid.NewString()
	workDir := filepath.Join(r.root, id)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}

	jctx, cancel := context.WithCancelCause(ctx)
	j := &Job{
		ID:        id,
		Source:    src.Name,
		State:     orchestrator.StatePending,
		CreatedAt: time.Now(),
		Progress:  orchestrator.ProgressState{Phase: orchestrator.StatePending, CurrentChunk: -1},
		WorkDir:   workDir,
		cancel:    cancel,
		done:      make(chan struct{}),
		subs:      map[int]chan orchestrator.ProgressState{},
	}

	r.mu.Lock()
	r.m[id] = j
	r.mu.Unlock()

	r.logger.Info("job submitted", "job_id", id, "source", src.Name, "bytes", len(src.Data))
	r.wg.Add(1)
	go r.run(jctx, j, src)
	return id, nil
}

func (r *Registry) run(ctx context.Context, j *Job, src segmenter.Source) {
	defer r.wg.Done()
	defer j.cancel(nil)

	res, err := r.runner.Process(ctx, src, j.WorkDir, func(p orchestrator.ProgressState) {
		r.publish(j, p)
	})
	if res != nil {
		if werr := r.writeOutputs(j.WorkDir, res); werr != nil {
			r.logger.Error("write job outputs failed", "job_id", j.ID, "error", werr)
		}
	}

	r.mu.Lock()
	j.Result = res
	j.FinishedAt = time.Now()
	switch {
	case res != nil:
		j.State = res.State
	case ctx.Err() != nil:
		j.State = orchestrator.StateCancelled
	default:
		j.State = orchestrator.StateFailed
	}
	if err != nil {
		j.Err = err.Error()
		j.ErrCode = orcherr.CodeOf(err)
	}
	j.Progress.Phase = j.State
	final := j.Progress
	for id, ch := range j.subs {
		offer(ch, final)
		close(ch)
		delete(j.subs, id)
	}
	state, errMsg := j.State, j.Err
	r.mu.Unlock()

	r.logger.Info("job finished", "job_id", j.ID, "state", state, "error", errMsg)
	if err := r.Save(); err != nil {
		r.logger.Error("persist jobs failed", "error", err)
	}
	close(j.done)
}

func (r *Registry) writeOutputs(dir string, res *orchestrator.JobResult) error {
	if err := os.WriteFile(filepath.Join(dir, transcriptFile), []byte(res.Transcript), 0o644); err != nil {
		return err
	}
	return orchestrator.WriteReport(filepath.Join(dir, reportFile), res)
}

func (r *Registry) publish(j *Job, p orchestrator.ProgressState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j.Progress = p
	if !j.State.Terminal() {
		j.State = p.Phase
	}
	for _, ch := range j.subs {
		offer(ch, p)
	}
}

// offer delivers p without blocking, replacing a stale buffered update.
func offer(ch chan orchestrator.ProgressState, p orchestrator.ProgressState) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}

// Get returns a snapshot of the job. Jobs restored from disk read their
// transcript from the job directory.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.Lock()
	j := r.m[id]
	if j == nil {
		r.mu.Unlock()
		return Snapshot{}, ErrNotFound
	}
	s := j.snapshot()
	dir := j.WorkDir
	r.mu.Unlock()

	if s.Transcript == "" && s.State.Terminal() {
		if b, err := os.ReadFile(filepath.Join(dir, transcriptFile)); err == nil {
			s.Transcript = string(b)
		}
	}
	return s, nil
}

// List returns all jobs, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]Snapshot, 0, len(r.m))
	for _, j := range r.m {
		s := j.snapshot()
		s.Transcript = ""
		list = append(list, s)
	}
	sort.Slice(list, func(a, b int) bool { return list[a].CreatedAt.After(list[b].CreatedAt) })
	return list
}

// Cancel stops dispatching new chunks; in-flight chunks drain.
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.m[id]
	if j == nil {
		return ErrNotFound
	}
	if j.State.Terminal() || j.cancel == nil {
		return ErrFinished
	}
	j.cancel(errors.New("cancelled by request"))
	r.logger.Info("job cancel requested", "job_id", id)
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (r *Registry) Wait(ctx context.Context, id string) (Snapshot, error) {
	r.mu.Lock()
	j := r.m[id]
	r.mu.Unlock()
	if j == nil {
		return Snapshot{}, ErrNotFound
	}
	if j.done != nil {
		select {
		case <-j.done:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	return r.Get(id)
}

// Subscribe streams progress updates. The channel receives the current state
// first and is closed when the job finishes or cancel is called.
func (r *Registry) Subscribe(id string) (<-chan orchestrator.ProgressState, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.m[id]
	if j == nil {
		return nil, nil, ErrNotFound
	}

	ch := make(chan orchestrator.ProgressState, 1)
	ch <- j.Progress
	if j.State.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}
	sid := j.nextID
	j.nextID++
	j.subs[sid] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := j.subs[sid]; ok {
				delete(j.subs, sid)
				close(c)
			}
		})
	}
	return ch, unsubscribe, nil
}

// Transcript returns the finished transcript of a job.
func (r *Registry) Transcript(id string) (string, error) {
	r.mu.Lock()
	j := r.m[id]
	var res *orchestrator.JobResult
	var dir string
	if j != nil {
		res, dir = j.Result, j.WorkDir
	}
	r.mu.Unlock()

	if j == nil {
		return "", ErrNotFound
	}
	if res != nil {
		return res.Transcript, nil
	}
	b, err := os.ReadFile(filepath.Join(dir, transcriptFile))
	if err != nil {
		return "", ErrNotReady
	}
	return string(b), nil
}

// SetSummary attaches a generated summary to a job.
func (r *Registry) SetSummary(id string, s *summary.Summary) error {
	r.mu.Lock()
	j := r.m[id]
	if j == nil {
		r.mu.Unlock()
		return ErrNotFound
	}
	j.Summary = s
	r.mu.Unlock()
	return r.Save()
}

// Shutdown cancels every running job and waits for them to drain.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, j := range r.m {
		if !j.State.Terminal() && j.cancel != nil {
			j.cancel(errors.New("server shutting down"))
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) snapshot() Snapshot {
	s := Snapshot{
		ID:        j.ID,
		Source:    j.Source,
		State:     j.State,
		CreatedAt: j.CreatedAt,
		Progress:  j.Progress,
		Percent:   j.Progress.Percent(),
		Error:     j.Err,
		ErrorCode: j.ErrCode,
		Summary:   j.Summary,
	}
	if !j.FinishedAt.IsZero() {
		t := j.FinishedAt
		s.FinishedAt = &t
	}
	s.TotalChunks = j.Progress.TotalChunks
	s.FailedChunks = j.Progress.FailedChunks
	s.RejectedChunks = j.Progress.RejectedChunks
	s.Degraded = j.Progress.Degraded
	if res := j.Result; res != nil {
		s.Transcript = res.Transcript
		s.TotalChunks = res.TotalChunks
		s.FailedChunks = res.FailedChunks
		s.RejectedChunks = res.RejectedChunks
		s.CachedChunks = res.CachedChunks
		s.Degraded = res.Degraded
	}
	return s
}
