package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator/orcherr"
	"github.com/houzhh15/meetscribe/cmd/server/internal/summary"
)

// persistedJob is the structure saved to disk. The transcript stays in the
// job directory.
type persistedJob struct {
	ID             string             `json:"id"`
	Source         string             `json:"source"`
	State          orchestrator.State `json:"state"`
	CreatedAt      time.Time          `json:"created_at"`
	FinishedAt     time.Time          `json:"finished_at,omitempty"`
	Error          string             `json:"error,omitempty"`
	ErrorCode      orcherr.ErrorCode  `json:"error_code,omitempty"`
	TotalChunks    int                `json:"total_chunks"`
	FailedChunks   int                `json:"failed_chunks"`
	RejectedChunks int                `json:"rejected_chunks"`
	Degraded       bool               `json:"degraded"`
	Summary        *summary.Summary   `json:"summary,omitempty"`
}

// StatePath returns the file the registry persists to.
func (r *Registry) StatePath() string {
	return filepath.Join(r.root, stateFile)
}

// Save persists the job registry to disk.
func (r *Registry) Save() error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	list := make([]persistedJob, 0, len(r.m))
	for _, j := range r.m {
		s := j.snapshot()
		list = append(list, persistedJob{
			ID:             j.ID,
			Source:         j.Source,
			State:          j.State,
			CreatedAt:      j.CreatedAt,
			FinishedAt:     j.FinishedAt,
			Error:          j.Err,
			ErrorCode:      j.ErrCode,
			TotalChunks:    s.TotalChunks,
			FailedChunks:   s.FailedChunks,
			RejectedChunks: s.RejectedChunks,
			Degraded:       s.Degraded,
			Summary:        j.Summary,
		})
	}
	r.mu.Unlock()

	b, err := json.MarshalIndent(map[string]any{"jobs": list}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}

	statePath := r.StatePath()
	tmp := statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := os.Rename(tmp, statePath); err != nil {
		return fmt.Errorf("rename tmp file: %w", err)
	}
	return nil
}

// Load restores persisted jobs. Jobs that were still running when the state
// was written are marked failed.
func (r *Registry) Load() error {
	b, err := os.ReadFile(r.StatePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no file yet
		}
		return fmt.Errorf("read jobs file: %w", err)
	}

	var wrapper struct {
		Jobs []persistedJob `json:"jobs"`
	}
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return fmt.Errorf("unmarshal jobs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, pj := range wrapper.Jobs {
		if pj.ID == "" || strings.HasPrefix(pj.ID, ".") {
			continue
		}
		if _, exists := r.m[pj.ID]; exists {
			continue
		}
		state := pj.State
		errMsg := pj.Error
		if !state.Terminal() {
			state = orchestrator.StateFailed
			errMsg = "interrupted by server restart"
		}
		r.m[pj.ID] = &Job{
			ID:         pj.ID,
			Source:     pj.Source,
			State:      state,
			CreatedAt:  pj.CreatedAt,
			FinishedAt: pj.FinishedAt,
			Err:        errMsg,
			ErrCode:    pj.ErrorCode,
			Summary:    pj.Summary,
			WorkDir:    filepath.Join(r.root, pj.ID),
			Progress: orchestrator.ProgressState{
				Phase:           state,
				CurrentChunk:    -1,
				TotalChunks:     pj.TotalChunks,
				CompletedChunks: pj.TotalChunks,
				FailedChunks:    pj.FailedChunks,
				RejectedChunks:  pj.RejectedChunks,
				Degraded:        pj.Degraded,
			},
			subs: map[int]chan orchestrator.ProgressState{},
		}
		count++
	}
	r.logger.Info("jobs restored", "count", count, "path", r.StatePath())
	return nil
}
